package event

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
)

// ProtocolVersion identifies the flattened layout written by Flatten.
const ProtocolVersion uint32 = 1

// HeaderSize is the fixed prefix of every flattened event.
const HeaderSize = 36

var le = binary.LittleEndian

// FlattenSize returns the number of bytes Flatten will produce.
func (e *Event) FlattenSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	size := HeaderSize
	for i, name := range e.attrs.Keys {
		a := e.attrs.Values[i]
		if a.Kind == KindObject {
			continue
		}
		size += 3 + len(name) + payloadSize(a)
	}
	return size
}

func payloadSize(a Attribute) int {
	switch a.Kind {
	case KindInt8, KindUint8, KindBool:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat:
		return 4
	case KindInt64, KindUint64, KindDouble:
		return 8
	case KindString:
		return 4 + len(a.value.(string))
	case KindBuffer:
		return 4 + len(a.value.([]byte))
	case KindEvent:
		return 4 + a.value.(*Event).FlattenSize()
	}
	return 0
}

// Flatten serializes the event header and every attribute except object
// references. Command info is not carried.
func (e *Event) Flatten() ([]byte, error) {
	buf := make([]byte, 0, e.FlattenSize())
	return e.appendTo(buf)
}

func (e *Event) appendTo(buf []byte) ([]byte, error) {
	size := e.FlattenSize()

	buf = le.AppendUint32(buf, ProtocolVersion)
	buf = le.AppendUint32(buf, uint32(size))
	buf = append(buf, byte(e.typ), e.category, e.subcategory, byte(e.flags))
	buf = le.AppendUint32(buf, uint32(e.time))
	for _, v := range [...]int32{e.input.Number, e.input.X, e.input.Y, e.input.Button, e.input.Modifiers} {
		buf = le.AppendUint32(buf, uint32(v))
	}

	e.mu.RLock()
	names := append([]string(nil), e.attrs.Keys...)
	attrs := append([]Attribute(nil), e.attrs.Values...)
	e.mu.RUnlock()

	for i, name := range names {
		a := attrs[i]
		if a.Kind == KindObject {
			continue
		}
		if len(name) > math.MaxUint16 {
			return nil, cerrors.InvalidArgument("event.flatten", "attribute name too long")
		}
		buf = le.AppendUint16(buf, uint16(len(name)))
		buf = append(buf, name...)
		buf = append(buf, byte(a.Kind))

		switch v := a.value.(type) {
		case int8:
			buf = append(buf, byte(v))
		case uint8:
			buf = append(buf, v)
		case int16:
			buf = le.AppendUint16(buf, uint16(v))
		case uint16:
			buf = le.AppendUint16(buf, v)
		case int32:
			buf = le.AppendUint32(buf, uint32(v))
		case uint32:
			buf = le.AppendUint32(buf, v)
		case int64:
			buf = le.AppendUint64(buf, uint64(v))
		case uint64:
			buf = le.AppendUint64(buf, v)
		case float32:
			buf = le.AppendUint32(buf, math.Float32bits(v))
		case float64:
			buf = le.AppendUint64(buf, math.Float64bits(v))
		case bool:
			if v {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case string:
			buf = le.AppendUint32(buf, uint32(len(v)))
			buf = append(buf, v...)
		case []byte:
			buf = le.AppendUint32(buf, uint32(len(v)))
			buf = append(buf, v...)
		case *Event:
			buf = le.AppendUint32(buf, uint32(v.FlattenSize()))
			var err error
			if buf, err = v.appendTo(buf); err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, bool) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, false
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, true
}

func malformed(detail string, args ...any) error {
	return cerrors.New("event.unflatten", cerrors.KindInvalidArgument).Detail(detail, args...).Build()
}

// Unflatten decodes an event produced by Flatten. The result is unlocked
// and carries a freshly generated ID.
func Unflatten(data []byte) (*Event, error) {
	if len(data) < HeaderSize {
		return nil, malformed("packet shorter than header (%d bytes)", len(data))
	}
	if v := le.Uint32(data[0:4]); v != ProtocolVersion {
		return nil, cerrors.New("event.unflatten", cerrors.KindVersionMismatch).
			Detail("protocol %d, expected %d", v, ProtocolVersion).Build()
	}
	size := int(le.Uint32(data[4:8]))
	if size < HeaderSize || size > len(data) {
		return nil, malformed("packet size %d does not match %d bytes", size, len(data))
	}

	e := New(Type(data[8]),
		WithCategory(data[9], data[10]),
		WithFlags(Flags(data[11])),
		WithTime(Ticks(le.Uint32(data[12:16]))),
		WithInput(Input{
			Number:    int32(le.Uint32(data[16:20])),
			X:         int32(le.Uint32(data[20:24])),
			Y:         int32(le.Uint32(data[24:28])),
			Button:    int32(le.Uint32(data[28:32])),
			Modifiers: int32(le.Uint32(data[32:36])),
		}),
	)

	r := &reader{buf: data[:size], off: HeaderSize}
	for r.off < len(r.buf) {
		if err := r.attribute(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (r *reader) attribute(e *Event) error {
	b, ok := r.take(2)
	if !ok {
		return malformed("truncated attribute name length at offset %d", r.off)
	}
	nameBytes, ok := r.take(int(le.Uint16(b)))
	if !ok || !utf8.Valid(nameBytes) {
		return malformed("bad attribute name at offset %d", r.off)
	}
	name := string(nameBytes)
	tag, ok := r.take(1)
	if !ok {
		return malformed("truncated attribute %q", name)
	}

	kind := Kind(tag[0])
	var width int
	switch kind {
	case KindInt8, KindUint8, KindBool:
		width = 1
	case KindInt16, KindUint16:
		width = 2
	case KindInt32, KindUint32, KindFloat:
		width = 4
	case KindInt64, KindUint64, KindDouble:
		width = 8
	case KindString, KindBuffer, KindEvent:
		lb, ok := r.take(4)
		if !ok {
			return malformed("truncated length of %q", name)
		}
		width = int(le.Uint32(lb))
	default:
		return malformed("unknown tag %d for %q", tag[0], name)
	}
	p, ok := r.take(width)
	if !ok {
		return malformed("truncated payload of %q", name)
	}

	switch kind {
	case KindInt8:
		return e.AddInt8(name, int8(p[0]))
	case KindUint8:
		return e.AddUint8(name, p[0])
	case KindBool:
		return e.AddBool(name, p[0] != 0)
	case KindInt16:
		return e.AddInt16(name, int16(le.Uint16(p)))
	case KindUint16:
		return e.AddUint16(name, le.Uint16(p))
	case KindInt32:
		return e.AddInt32(name, int32(le.Uint32(p)))
	case KindUint32:
		return e.AddUint32(name, le.Uint32(p))
	case KindFloat:
		return e.AddFloat32(name, math.Float32frombits(le.Uint32(p)))
	case KindInt64:
		return e.AddInt64(name, int64(le.Uint64(p)))
	case KindUint64:
		return e.AddUint64(name, le.Uint64(p))
	case KindDouble:
		return e.AddFloat64(name, math.Float64frombits(le.Uint64(p)))
	case KindString:
		return e.AddString(name, string(p))
	case KindBuffer:
		return e.AddBuffer(name, p)
	default:
		child, err := Unflatten(p)
		if err != nil {
			return err
		}
		return e.AddEvent(name, child)
	}
}
