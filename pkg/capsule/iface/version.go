package iface

import (
	"fmt"
	"strconv"

	"github.com/Masterminds/semver/v3"
)

// Version is an interface version. Compatibility follows semantic
// versioning: the major version must match exactly and the implementor may
// be newer in minor or patch.
type Version struct {
	Major uint8
	Minor uint8
	Patch uint16
}

// V is shorthand for Version{major, minor, patch}.
func V(major, minor uint8, patch uint16) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// ParseVersion parses "1", "1.2", "1.2.3" or "v1.2.3". Pre-release and
// build metadata are ignored.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("parse version: empty string")
	}
	sv, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	if sv.Major() > 0xFF || sv.Minor() > 0xFF || sv.Patch() > 0xFFFF {
		return Version{}, fmt.Errorf("parse version %q: component out of range", s)
	}
	return Version{
		Major: uint8(sv.Major()),
		Minor: uint8(sv.Minor()),
		Patch: uint16(sv.Patch()),
	}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compatible reports whether an implementation at version v satisfies a
// request for want.
func (v Version) Compatible(want Version) bool {
	if v.Major != want.Major {
		return false
	}
	if v.Minor != want.Minor {
		return v.Minor > want.Minor
	}
	return v.Patch >= want.Patch
}

// Encode packs the version as major<<24 | minor<<16 | patch.
func (v Version) Encode() uint32 {
	return uint32(v.Major)<<24 | uint32(v.Minor)<<16 | uint32(v.Patch)
}

// DecodeVersion unpacks a value produced by Encode.
func DecodeVersion(n uint32) Version {
	return Version{
		Major: uint8(n >> 24),
		Minor: uint8(n >> 16),
		Patch: uint16(n),
	}
}

// String returns "major.minor.patch".
func (v Version) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor)) + "." + strconv.Itoa(int(v.Patch))
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so descriptors can carry
// versions as plain strings.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
