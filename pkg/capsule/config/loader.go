package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type decodeFunc func([]byte, any) error

// decoders maps a format name to its unmarshaler. File extensions map to
// these names, with "yml" as an alias.
var decoders = map[string]decodeFunc{
	"yaml": yaml.Unmarshal,
	"yml":  yaml.Unmarshal,
	"json": json.Unmarshal,
	"toml": toml.Unmarshal,
}

// Load reads the file at path and parses it according to its extension
// (.yaml, .yml, .json or .toml). A leading "~" is expanded.
func Load(path string) (Config, error) {
	full, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	cfg, err := Parse(strings.TrimPrefix(filepath.Ext(full), "."), data)
	if err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the named format.
func Parse(format string, data []byte) (Config, error) {
	format = strings.ToLower(format)
	decode, ok := decoders[format]
	if !ok {
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}
	var doc map[string]any
	if err := decode(data, &doc); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", format, err)
	}
	return New(doc), nil
}
