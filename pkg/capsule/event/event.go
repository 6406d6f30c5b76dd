// Package event defines the event record carried by the capsule queue: a
// classified occurrence with a fixed input payload and an ordered bag of
// typed, named attributes.
//
// An event is mutable until it is first dispatched. From then on every
// mutation fails with a Locked error, so a listener can never change what a
// later listener sees.
package event

import (
	"sync"
	"sync/atomic"

	"cogentcore.org/core/base/keylist"
	"github.com/google/uuid"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
)

// Event is a single occurrence dispatched through a queue.
type Event struct {
	id          string
	typ         Type
	category    uint8
	subcategory uint8
	flags       Flags
	time        Ticks
	input       Input
	info        any

	mu     sync.RWMutex
	attrs  keylist.List[string, Attribute]
	locked atomic.Bool
}

// Option configures a new event.
type Option func(*Event)

// WithCategory sets the category and subcategory used for cord routing.
func WithCategory(category, subcategory uint8) Option {
	return func(e *Event) {
		e.category = category
		e.subcategory = subcategory
	}
}

// WithFlags sets the event flags.
func WithFlags(f Flags) Option {
	return func(e *Event) {
		e.flags = f
	}
}

// WithTime sets the timestamp.
func WithTime(t Ticks) Option {
	return func(e *Event) {
		e.time = t
	}
}

// WithInput sets the input payload.
func WithInput(in Input) Option {
	return func(e *Event) {
		e.input = in
	}
}

// WithCommand sets the command code and its opaque info value. Info is
// not serialized by Flatten.
func WithCommand(code uint32, info any) Option {
	return func(e *Event) {
		e.input.Number = int32(code)
		e.info = info
	}
}

// WithID overrides the generated event ID.
func WithID(id string) Option {
	return func(e *Event) {
		e.id = id
	}
}

// New creates an unlocked event of type t. Broadcast-typed events get
// FlagBroadcast.
func New(t Type, opts ...Option) *Event {
	e := &Event{typ: t}
	if t == TypeBroadcast {
		e.flags |= FlagBroadcast
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.id == "" {
		e.id = uuid.NewString()
	}
	return e
}

// ID returns the event's unique identifier.
func (e *Event) ID() string { return e.id }

// Type returns the event type.
func (e *Event) Type() Type { return e.typ }

// Category returns the routing category.
func (e *Event) Category() uint8 { return e.category }

// Subcategory returns the routing subcategory.
func (e *Event) Subcategory() uint8 { return e.subcategory }

// Flags returns the event flags.
func (e *Event) Flags() Flags { return e.flags }

// IsBroadcast reports whether FlagBroadcast is set.
func (e *Event) IsBroadcast() bool { return e.flags&FlagBroadcast != 0 }

// Time returns the timestamp.
func (e *Event) Time() Ticks { return e.time }

// Input returns the input payload.
func (e *Event) Input() Input { return e.input }

// CommandCode returns the command code of a command or broadcast event.
func (e *Event) CommandCode() uint32 { return uint32(e.input.Number) }

// CommandInfo returns the opaque info attached to a command.
func (e *Event) CommandInfo() any { return e.info }

// SetTime sets the timestamp of an unlocked event.
func (e *Event) SetTime(t Ticks) error {
	if e.locked.Load() {
		return cerrors.Locked("event.set_time", e.id)
	}
	e.time = t
	return nil
}

// SetCategory sets the routing category of an unlocked event.
func (e *Event) SetCategory(category, subcategory uint8) error {
	if e.locked.Load() {
		return cerrors.Locked("event.set_category", e.id)
	}
	e.category = category
	e.subcategory = subcategory
	return nil
}

// Lock makes the event and every nested event immutable. The queue locks
// an event before handing it to the first listener. Lock is idempotent.
func (e *Event) Lock() {
	if e.locked.Swap(true) {
		return
	}
	e.mu.RLock()
	nested := make([]*Event, 0)
	for _, a := range e.attrs.Values {
		if a.Kind == KindEvent {
			nested = append(nested, a.value.(*Event))
		}
	}
	e.mu.RUnlock()
	for _, n := range nested {
		n.Lock()
	}
}

// Locked reports whether the event has been dispatched.
func (e *Event) Locked() bool { return e.locked.Load() }

// Len returns the number of attributes.
func (e *Event) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attrs.Len()
}

// Names returns attribute names in insertion order.
func (e *Event) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.attrs.Keys))
	copy(out, e.attrs.Keys)
	return out
}

// Has reports whether the named attribute exists.
func (e *Event) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attrs.IndexByKey(name) >= 0
}

// Kind returns the tag of the named attribute.
func (e *Event) Kind(name string) (Kind, bool) {
	a, ok := e.lookup(name)
	return a.Kind, ok
}

// Attribute returns the named attribute untyped, for inspection.
func (e *Event) Attribute(name string) (Attribute, bool) {
	return e.lookup(name)
}

// Remove deletes the named attribute. It fails with NotFound when the name
// is absent and with Locked after dispatch.
func (e *Event) Remove(name string) error {
	if e.locked.Load() {
		return cerrors.Locked("event.remove", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.attrs.AtTry(name)
	if !ok {
		return cerrors.NotFound("event.remove", name)
	}
	a.drop()
	e.attrs.DeleteByKey(name)
	return nil
}

// RemoveAll deletes every attribute. It fails with Locked after dispatch.
func (e *Event) RemoveAll() error {
	if e.locked.Load() {
		return cerrors.Locked("event.remove_all", e.id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.attrs.Values {
		a.drop()
	}
	e.attrs.Reset()
	return nil
}

func (e *Event) add(op, name string, a Attribute) error {
	if e.locked.Load() {
		return cerrors.Locked(op, name)
	}
	if name == "" {
		return cerrors.InvalidArgument(op, "attribute name is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.attrs.Add(name, a); err != nil {
		return cerrors.New(op, cerrors.KindDuplicateAttribute).Subject(name).Build()
	}
	return nil
}

func (e *Event) lookup(name string) (Attribute, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attrs.AtTry(name)
}

// contains reports whether target is e or nested anywhere inside e.
func (e *Event) contains(target *Event) bool {
	if e == target {
		return true
	}
	e.mu.RLock()
	nested := make([]*Event, 0)
	for _, a := range e.attrs.Values {
		if a.Kind == KindEvent {
			nested = append(nested, a.value.(*Event))
		}
	}
	e.mu.RUnlock()
	for _, n := range nested {
		if n.contains(target) {
			return true
		}
	}
	return false
}

// AddEvent nests child under name. A child that is e itself or that
// already contains e would form a loop and is rejected.
func (e *Event) AddEvent(name string, child *Event) error {
	if child == nil {
		return cerrors.InvalidArgument("event.add", "nested event is nil")
	}
	if child.contains(e) {
		return cerrors.New("event.add", cerrors.KindInvalidArgument).
			Subject(name).Detail("nesting would create a loop").Build()
	}
	return e.add("event.add", name, Attribute{Kind: KindEvent, value: child})
}

// AddObject stores a weak reference to c under name. The attribute never
// keeps c alive; Object fails with NotFound once c is destroyed.
func (e *Event) AddObject(name string, c object.Capability) error {
	if c == nil || !c.Alive() {
		return cerrors.InvalidArgument("event.add", "object is nil or destroyed")
	}
	return e.add("event.add", name, Attribute{Kind: KindObject, value: object.NewWeak(c, nil)})
}
