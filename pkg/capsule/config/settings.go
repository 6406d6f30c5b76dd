package config

import (
	"log/slog"

	"github.com/mitchellh/go-homedir"
)

// Keys read by SettingsFrom.
const (
	KeyPluginPaths           = "plugins.paths"
	KeyPluginWatch           = "plugins.watch"
	KeyAtomicRefCounts       = "objects.atomic_refcounts"
	KeyClampRelease          = "objects.clamp_release"
	KeyDrainLimit            = "queue.drain_limit"
	KeyMaxDepth              = "queue.max_depth"
	KeyFailureThreshold      = "queue.failure_threshold"
	KeyJournalPath           = "journal.path"
	KeyDeadLetterMaxSize     = "deadletter.max_size"
	KeyDeadLetterMaxAttempts = "deadletter.max_attempts"
	KeyLogLevel              = "log.level"
	KeyMetricsEnabled        = "metrics.enabled"
	KeyTracingEnabled        = "tracing.enabled"
)

// Settings is the typed runtime configuration.
type Settings struct {
	// PluginPaths are scanned for *.capsule.yaml descriptors.
	PluginPaths []string
	// PluginWatch rescans PluginPaths when their contents change.
	PluginWatch bool

	// AtomicRefCounts selects sync/atomic reference counting. Disable it
	// only when every object stays on one goroutine.
	AtomicRefCounts bool
	// ClampRelease logs Release past zero instead of panicking.
	ClampRelease bool

	DrainLimit       int
	MaxDepth         int
	FailureThreshold int

	// JournalPath enables the SQLite queue journal when non-empty.
	JournalPath string

	DeadLetterMaxSize     int
	DeadLetterMaxAttempts int

	LogLevel       slog.Level
	MetricsEnabled bool
	TracingEnabled bool
}

// DefaultSettings returns the settings used when no configuration is given.
func DefaultSettings() Settings {
	return Settings{
		PluginPaths:           []string{},
		AtomicRefCounts:       true,
		MaxDepth:              16,
		DeadLetterMaxSize:     10000,
		DeadLetterMaxAttempts: 5,
		LogLevel:              slog.LevelInfo,
	}
}

// SettingsFrom reads Settings from c, falling back to DefaultSettings for
// missing or malformed keys. Paths are "~"-expanded.
func SettingsFrom(c Config) Settings {
	d := DefaultSettings()
	s := Settings{
		PluginWatch:           c.Bool(KeyPluginWatch, d.PluginWatch),
		AtomicRefCounts:       c.Bool(KeyAtomicRefCounts, d.AtomicRefCounts),
		ClampRelease:          c.Bool(KeyClampRelease, d.ClampRelease),
		DrainLimit:            c.Int(KeyDrainLimit, d.DrainLimit),
		MaxDepth:              c.Int(KeyMaxDepth, d.MaxDepth),
		FailureThreshold:      c.Int(KeyFailureThreshold, d.FailureThreshold),
		JournalPath:           expand(c.String(KeyJournalPath, d.JournalPath)),
		DeadLetterMaxSize:     c.Int(KeyDeadLetterMaxSize, d.DeadLetterMaxSize),
		DeadLetterMaxAttempts: c.Int(KeyDeadLetterMaxAttempts, d.DeadLetterMaxAttempts),
		LogLevel:              d.LogLevel,
		MetricsEnabled:        c.Bool(KeyMetricsEnabled, d.MetricsEnabled),
		TracingEnabled:        c.Bool(KeyTracingEnabled, d.TracingEnabled),
	}

	paths := c.StringSlice(KeyPluginPaths, d.PluginPaths)
	s.PluginPaths = make([]string, 0, len(paths))
	for _, p := range paths {
		s.PluginPaths = append(s.PluginPaths, expand(p))
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.String(KeyLogLevel, ""))); err == nil {
		s.LogLevel = lvl
	}
	return s
}

func expand(path string) string {
	if path == "" {
		return path
	}
	if p, err := homedir.Expand(path); err == nil {
		return p
	}
	return path
}
