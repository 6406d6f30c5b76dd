/*
Package config provides typed access to runtime configuration.

# Overview

Config wraps a map of dotted keys to values. Nested maps, as produced by
YAML, JSON or TOML documents, are flattened on construction, so

	queue:
	  drain_limit: 64

is read as "queue.drain_limit". Accessors return the supplied default when
a key is missing or holds a value of the wrong type:

	cfg, err := config.Load("capsule.yaml")
	if err != nil {
	    return err
	}
	limit := cfg.Int("queue.drain_limit", 0)
	paths := cfg.StringSlice("plugins.paths", nil)

# Settings

Settings is the typed view of every key the runtime reads, with the
defaults applied:

	s := config.SettingsFrom(cfg)
	rt, err := capsule.New(ctx, capsule.WithSettings(s))

# Thread Safety

Config is safe for concurrent reads. It is never modified after creation.
*/
package config
