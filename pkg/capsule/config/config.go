package config

import (
	"maps"
	"slices"
)

// Config is a flat view of a configuration document. Nested sections are
// addressed with dotted keys ("queue.drain_limit"). Accessors never fail:
// a missing key or a value of the wrong shape yields the caller's default.
type Config struct {
	data map[string]any
}

// New flattens data into a Config. A nil map gives an empty Config.
func New(data map[string]any) Config {
	flat := make(map[string]any, len(data))
	flattenInto(flat, "", data)
	return Config{data: flat}
}

// flattenInto copies in to out, joining section names with dots. YAML may
// decode sections as map[any]any; non-string keys there are dropped.
func flattenInto(out map[string]any, prefix string, in map[string]any) {
	for k, v := range in {
		if prefix != "" {
			k = prefix + "." + k
		}
		switch section := v.(type) {
		case map[string]any:
			flattenInto(out, k, section)
		case map[any]any:
			sub := make(map[string]any, len(section))
			for sk, sv := range section {
				if name, ok := sk.(string); ok {
					sub[name] = sv
				}
			}
			flattenInto(out, k, sub)
		default:
			out[k] = v
		}
	}
}

// Merge layers other over c. Keys present in both take other's value.
func (c Config) Merge(other Config) Config {
	out := make(map[string]any, len(c.data)+len(other.data))
	maps.Copy(out, c.data)
	maps.Copy(out, other.data)
	return Config{data: out}
}

func lookup[T any](c Config, key string) (T, bool) {
	v, ok := c.data[key].(T)
	return v, ok
}

// String returns the string at key.
func (c Config) String(key, def string) string {
	if s, ok := lookup[string](c, key); ok {
		return s
	}
	return def
}

// Bool returns the boolean at key.
func (c Config) Bool(key string, def bool) bool {
	if b, ok := lookup[bool](c, key); ok {
		return b
	}
	return def
}

// Int returns the integer at key. Decoders disagree on integer types, so
// int, int64 and uint64 are accepted, as is a float64 with no fraction
// (JSON numbers).
func (c Config) Int(key string, def int) int {
	switch n := c.data[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	}
	return def
}

// StringSlice returns the list of strings at key. A list holding anything
// other than strings yields def.
func (c Config) StringSlice(key string, def []string) []string {
	switch list := c.data[key].(type) {
	case []string:
		return list
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return def
			}
			out[i] = s
		}
		return out
	}
	return def
}

// Has reports whether key is set.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Keys returns every key in sorted order.
func (c Config) Keys() []string {
	return slices.Sorted(maps.Keys(c.data))
}
