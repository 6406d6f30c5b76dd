package event

import (
	"fmt"
	"math"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
)

// Kind is the closed set of attribute type tags. The numeric values are
// part of the flattened wire format and must not change.
type Kind uint8

const (
	KindInt8 Kind = iota + 1
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat
	KindDouble
	KindBool
	KindString
	KindBuffer
	KindEvent
	KindObject
)

var kindNames = [...]string{
	KindInt8:   "int8",
	KindUint8:  "uint8",
	KindInt16:  "int16",
	KindUint16: "uint16",
	KindInt32:  "int32",
	KindUint32: "uint32",
	KindInt64:  "int64",
	KindUint64: "uint64",
	KindFloat:  "float",
	KindDouble: "double",
	KindBool:   "bool",
	KindString: "string",
	KindBuffer: "buffer",
	KindEvent:  "event",
	KindObject: "object",
}

// String returns the tag name.
func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) signed() bool {
	return k == KindInt8 || k == KindInt16 || k == KindInt32 || k == KindInt64
}

func (k Kind) unsigned() bool {
	return k == KindUint8 || k == KindUint16 || k == KindUint32 || k == KindUint64
}

// Attribute is one typed value. value holds the exact Go type for its
// Kind, or *object.Weak for KindObject.
type Attribute struct {
	Kind  Kind
	value any
}

// Value returns the stored value. Object attributes return their
// *object.Weak.
func (a Attribute) Value() any { return a.value }

func (a Attribute) drop() {
	if w, ok := a.value.(*object.Weak); ok {
		w.Reset()
	}
}

func (a Attribute) asInt64() int64 {
	switch v := a.value.(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

func (a Attribute) asUint64() uint64 {
	switch v := a.value.(type) {
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	}
	return 0
}

// AddInt8 adds an int8 attribute.
func (e *Event) AddInt8(name string, v int8) error {
	return e.add("event.add", name, Attribute{Kind: KindInt8, value: v})
}

// AddUint8 adds a uint8 attribute.
func (e *Event) AddUint8(name string, v uint8) error {
	return e.add("event.add", name, Attribute{Kind: KindUint8, value: v})
}

// AddInt16 adds an int16 attribute.
func (e *Event) AddInt16(name string, v int16) error {
	return e.add("event.add", name, Attribute{Kind: KindInt16, value: v})
}

// AddUint16 adds a uint16 attribute.
func (e *Event) AddUint16(name string, v uint16) error {
	return e.add("event.add", name, Attribute{Kind: KindUint16, value: v})
}

// AddInt32 adds an int32 attribute.
func (e *Event) AddInt32(name string, v int32) error {
	return e.add("event.add", name, Attribute{Kind: KindInt32, value: v})
}

// AddUint32 adds a uint32 attribute.
func (e *Event) AddUint32(name string, v uint32) error {
	return e.add("event.add", name, Attribute{Kind: KindUint32, value: v})
}

// AddInt64 adds an int64 attribute.
func (e *Event) AddInt64(name string, v int64) error {
	return e.add("event.add", name, Attribute{Kind: KindInt64, value: v})
}

// AddUint64 adds a uint64 attribute.
func (e *Event) AddUint64(name string, v uint64) error {
	return e.add("event.add", name, Attribute{Kind: KindUint64, value: v})
}

// AddFloat32 adds a single precision attribute.
func (e *Event) AddFloat32(name string, v float32) error {
	return e.add("event.add", name, Attribute{Kind: KindFloat, value: v})
}

// AddFloat64 adds a double precision attribute.
func (e *Event) AddFloat64(name string, v float64) error {
	return e.add("event.add", name, Attribute{Kind: KindDouble, value: v})
}

// AddBool adds a boolean attribute.
func (e *Event) AddBool(name string, v bool) error {
	return e.add("event.add", name, Attribute{Kind: KindBool, value: v})
}

// AddString adds a string attribute.
func (e *Event) AddString(name string, v string) error {
	return e.add("event.add", name, Attribute{Kind: KindString, value: v})
}

// AddBuffer adds a copy of v as a buffer attribute.
func (e *Event) AddBuffer(name string, v []byte) error {
	buf := make([]byte, len(v))
	copy(buf, v)
	return e.add("event.add", name, Attribute{Kind: KindBuffer, value: buf})
}

func (e *Event) signedAttr(name string, lo, hi int64) (int64, error) {
	a, ok := e.lookup(name)
	if !ok {
		return 0, cerrors.NotFound("event.retrieve", name)
	}
	if !a.Kind.signed() {
		return 0, mismatch(name, a.Kind, "signed integer")
	}
	v := a.asInt64()
	if v < lo || v > hi {
		return 0, cerrors.New("event.retrieve", cerrors.KindLossy).Subject(name).
			Detail("value %d does not fit", v).Build()
	}
	return v, nil
}

func (e *Event) unsignedAttr(name string, hi uint64) (uint64, error) {
	a, ok := e.lookup(name)
	if !ok {
		return 0, cerrors.NotFound("event.retrieve", name)
	}
	if !a.Kind.unsigned() {
		return 0, mismatch(name, a.Kind, "unsigned integer")
	}
	v := a.asUint64()
	if v > hi {
		return 0, cerrors.New("event.retrieve", cerrors.KindLossy).Subject(name).
			Detail("value %d does not fit", v).Build()
	}
	return v, nil
}

func mismatch(name string, have Kind, want string) error {
	return cerrors.New("event.retrieve", cerrors.KindTypeMismatch).Subject(name).
		Detail("holds %s, requested %s", have, want).Build()
}

// Int8 retrieves a signed integer attribute as int8.
func (e *Event) Int8(name string) (int8, error) {
	v, err := e.signedAttr(name, math.MinInt8, math.MaxInt8)
	return int8(v), err
}

// Int16 retrieves a signed integer attribute as int16.
func (e *Event) Int16(name string) (int16, error) {
	v, err := e.signedAttr(name, math.MinInt16, math.MaxInt16)
	return int16(v), err
}

// Int32 retrieves a signed integer attribute as int32.
func (e *Event) Int32(name string) (int32, error) {
	v, err := e.signedAttr(name, math.MinInt32, math.MaxInt32)
	return int32(v), err
}

// Int64 retrieves a signed integer attribute.
func (e *Event) Int64(name string) (int64, error) {
	return e.signedAttr(name, math.MinInt64, math.MaxInt64)
}

// Uint8 retrieves an unsigned integer attribute as uint8.
func (e *Event) Uint8(name string) (uint8, error) {
	v, err := e.unsignedAttr(name, math.MaxUint8)
	return uint8(v), err
}

// Uint16 retrieves an unsigned integer attribute as uint16.
func (e *Event) Uint16(name string) (uint16, error) {
	v, err := e.unsignedAttr(name, math.MaxUint16)
	return uint16(v), err
}

// Uint32 retrieves an unsigned integer attribute as uint32.
func (e *Event) Uint32(name string) (uint32, error) {
	v, err := e.unsignedAttr(name, math.MaxUint32)
	return uint32(v), err
}

// Uint64 retrieves an unsigned integer attribute.
func (e *Event) Uint64(name string) (uint64, error) {
	return e.unsignedAttr(name, math.MaxUint64)
}

// Float64 retrieves a float or double attribute.
func (e *Event) Float64(name string) (float64, error) {
	a, ok := e.lookup(name)
	if !ok {
		return 0, cerrors.NotFound("event.retrieve", name)
	}
	switch v := a.value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, mismatch(name, a.Kind, "float")
}

// Float32 retrieves a float or double attribute as float32. A double out
// of float32 range is Lossy.
func (e *Event) Float32(name string) (float32, error) {
	v, err := e.Float64(name)
	if err != nil {
		return 0, err
	}
	if !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > math.MaxFloat32 {
		return 0, cerrors.New("event.retrieve", cerrors.KindLossy).Subject(name).
			Detail("value %g out of float32 range", v).Build()
	}
	return float32(v), nil
}

// Bool retrieves a boolean attribute.
func (e *Event) Bool(name string) (bool, error) {
	a, ok := e.lookup(name)
	if !ok {
		return false, cerrors.NotFound("event.retrieve", name)
	}
	v, ok := a.value.(bool)
	if !ok {
		return false, mismatch(name, a.Kind, "bool")
	}
	return v, nil
}

// String retrieves a string attribute.
func (e *Event) String(name string) (string, error) {
	a, ok := e.lookup(name)
	if !ok {
		return "", cerrors.NotFound("event.retrieve", name)
	}
	v, ok := a.value.(string)
	if !ok {
		return "", mismatch(name, a.Kind, "string")
	}
	return v, nil
}

// Buffer retrieves a buffer attribute. String attributes are returned as
// their bytes. The returned slice must not be modified.
func (e *Event) Buffer(name string) ([]byte, error) {
	a, ok := e.lookup(name)
	if !ok {
		return nil, cerrors.NotFound("event.retrieve", name)
	}
	switch v := a.value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, mismatch(name, a.Kind, "buffer")
}

// Event retrieves a nested event.
func (e *Event) Event(name string) (*Event, error) {
	a, ok := e.lookup(name)
	if !ok {
		return nil, cerrors.NotFound("event.retrieve", name)
	}
	v, ok := a.value.(*Event)
	if !ok {
		return nil, mismatch(name, a.Kind, "event")
	}
	return v, nil
}

// Object retrieves an object attribute as an owned reference, which the
// caller must Release. A destroyed object yields NotFound.
func (e *Event) Object(name string) (object.Capability, error) {
	a, ok := e.lookup(name)
	if !ok {
		return nil, cerrors.NotFound("event.retrieve", name)
	}
	w, ok := a.value.(*object.Weak)
	if !ok {
		return nil, mismatch(name, a.Kind, "object")
	}
	c, ok := w.Get()
	if !ok {
		return nil, cerrors.New("event.retrieve", cerrors.KindNotFound).Subject(name).
			Detail("object destroyed").Build()
	}
	return c, nil
}
