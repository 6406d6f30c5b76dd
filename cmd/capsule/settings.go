package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/randalmurphal/capsule/pkg/capsule/config"
)

// envPrefix prefixes every environment override, e.g. CAPSULE_QUEUE_MAX_DEPTH.
const envPrefix = "CAPSULE"

// loadSettings merges defaults, the config file, CAPSULE_* environment
// variables and flags, in increasing precedence.
func loadSettings(path string, flags *pflag.FlagSet) (config.Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		config.KeyPluginPaths: "plugin-path",
		config.KeyJournalPath: "journal",
		config.KeyLogLevel:    "log-level",
	}
	for key, flag := range bindings {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Settings{}, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("capsule")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/capsule")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config.Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// viper casts environment strings, so typed getters are read here and
	// the result goes through the same path as a config file.
	return config.SettingsFrom(config.New(map[string]any{
		config.KeyPluginPaths:           v.GetStringSlice(config.KeyPluginPaths),
		config.KeyPluginWatch:           v.GetBool(config.KeyPluginWatch),
		config.KeyAtomicRefCounts:       v.GetBool(config.KeyAtomicRefCounts),
		config.KeyClampRelease:          v.GetBool(config.KeyClampRelease),
		config.KeyDrainLimit:            v.GetInt(config.KeyDrainLimit),
		config.KeyMaxDepth:              v.GetInt(config.KeyMaxDepth),
		config.KeyFailureThreshold:      v.GetInt(config.KeyFailureThreshold),
		config.KeyJournalPath:           v.GetString(config.KeyJournalPath),
		config.KeyDeadLetterMaxSize:     v.GetInt(config.KeyDeadLetterMaxSize),
		config.KeyDeadLetterMaxAttempts: v.GetInt(config.KeyDeadLetterMaxAttempts),
		config.KeyLogLevel:              v.GetString(config.KeyLogLevel),
		config.KeyMetricsEnabled:        v.GetBool(config.KeyMetricsEnabled),
		config.KeyTracingEnabled:        v.GetBool(config.KeyTracingEnabled),
	})), nil
}

func setDefaults(v *viper.Viper) {
	d := config.DefaultSettings()
	v.SetDefault(config.KeyPluginPaths, d.PluginPaths)
	v.SetDefault(config.KeyPluginWatch, d.PluginWatch)
	v.SetDefault(config.KeyAtomicRefCounts, d.AtomicRefCounts)
	v.SetDefault(config.KeyClampRelease, d.ClampRelease)
	v.SetDefault(config.KeyDrainLimit, d.DrainLimit)
	v.SetDefault(config.KeyMaxDepth, d.MaxDepth)
	v.SetDefault(config.KeyFailureThreshold, d.FailureThreshold)
	v.SetDefault(config.KeyJournalPath, d.JournalPath)
	v.SetDefault(config.KeyDeadLetterMaxSize, d.DeadLetterMaxSize)
	v.SetDefault(config.KeyDeadLetterMaxAttempts, d.DeadLetterMaxAttempts)
	v.SetDefault(config.KeyLogLevel, d.LogLevel.String())
	v.SetDefault(config.KeyMetricsEnabled, d.MetricsEnabled)
	v.SetDefault(config.KeyTracingEnabled, d.TracingEnabled)
}
