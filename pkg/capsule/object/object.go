// Package object implements capability objects: reference-counted values
// that answer interface queries by name and version at run time.
//
// A component embeds *Base and declares its interfaces in a Table:
//
//	type Widget struct {
//	    *object.Base
//	    name string
//	}
//
//	func NewWidget(name string) *Widget {
//	    w := &Widget{name: name}
//	    w.Base = object.New(w, widgetTable, object.WithTeardown(w.close))
//	    return w
//	}
//
// New objects start with a reference count of one. The teardown hook runs
// exactly once, when the count drops from one to zero. Weak references to
// the object are invalidated at that moment and their observers notified.
package object

import (
	"log/slog"
	"sync"
	"sync/atomic"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/iface"
	"github.com/randalmurphal/capsule/pkg/capsule/observability"
)

// Capability is implemented by every type that embeds *Base.
type Capability interface {
	AddRef()
	Release()
	RefCount() int32
	Alive() bool
	QueryInterface(name string, want iface.Version) (any, error)

	base() *Base
}

// Policy controls reference counting for new objects.
type Policy struct {
	Discipline Discipline

	// ClampRelease turns a Release past zero into a logged no-op instead
	// of a panic.
	ClampRelease bool

	// Logger receives misuse warnings when ClampRelease is set.
	// Nil means slog.Default().
	Logger *slog.Logger
}

var defaultPolicy atomic.Pointer[Policy]

func init() {
	defaultPolicy.Store(&Policy{Discipline: Atomic})
}

// SetDefaultPolicy sets the policy used by New when no WithPolicy option
// is given. Objects already created keep their policy.
func SetDefaultPolicy(p Policy) {
	defaultPolicy.Store(&p)
}

// DefaultPolicy returns the current default policy.
func DefaultPolicy() Policy {
	return *defaultPolicy.Load()
}

// Option configures a new Base.
type Option func(*Base)

// WithTeardown sets the function run once when the object is destroyed.
func WithTeardown(fn func()) Option {
	return func(b *Base) {
		b.teardown = fn
	}
}

// WithPolicy overrides the default policy for one object.
func WithPolicy(p Policy) Option {
	return func(b *Base) {
		b.policy = p
	}
}

// Base carries the reference count, the interface table and the weak
// reference slots of a capability object.
type Base struct {
	refs     counter
	self     any
	outer    Capability
	table    *Table
	policy   Policy
	teardown func()

	destroyed atomic.Bool

	mu   sync.Mutex
	weak map[*Weak]struct{}
}

// New creates a Base for self with a reference count of one. self is the
// value handed to accessors, normally the struct embedding the Base. A nil
// table gets a fresh table on iface.Default that only answers iface.Base.
func New(self any, table *Table, opts ...Option) *Base {
	b := &Base{
		self:   self,
		table:  table,
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.table == nil {
		b.table = NewTable(nil)
	}
	if b.self == nil {
		b.self = b
	}
	if c, ok := b.self.(Capability); ok {
		b.outer = c
	} else {
		b.outer = b
	}
	b.refs = newCounter(b.policy.Discipline)
	return b
}

func (b *Base) base() *Base { return b }

// AddRef increments the reference count.
func (b *Base) AddRef() {
	if b.destroyed.Load() {
		b.misuse("object.addref", "AddRef on a destroyed object")
		return
	}
	b.refs.inc()
}

// Release decrements the reference count and destroys the object when it
// reaches zero.
func (b *Base) Release() {
	n, ok := b.refs.dec()
	if !ok {
		b.misuse("object.release", "Release without matching AddRef")
		return
	}
	if n == 0 {
		b.destroy()
	}
}

// RefCount returns the current reference count.
func (b *Base) RefCount() int32 {
	return b.refs.load()
}

// Alive reports whether the object has not been destroyed.
func (b *Base) Alive() bool {
	return !b.destroyed.Load() && b.refs.load() > 0
}

// Table returns the object's interface table.
func (b *Base) Table() *Table {
	return b.table
}

// Policy returns the object's reference counting policy.
func (b *Base) Policy() Policy {
	return b.policy
}

// QueryInterface returns an owned reference to the object viewed as the
// named interface. The caller must Release it. A type that does not offer
// the interface yields NotImplemented, an incompatible version yields
// VersionMismatch.
func (b *Base) QueryInterface(name string, want iface.Version) (any, error) {
	if !b.Alive() {
		return nil, cerrors.New("object.query", cerrors.KindRefCountMisuse).
			Subject(name).Detail("query on a destroyed object").Build()
	}
	get, err := b.table.Lookup(name, want)
	if err != nil {
		return nil, err
	}
	b.refs.inc()
	return get(b.self), nil
}

// QueryInterfaceID is QueryInterface for an already resolved interface ID.
func (b *Base) QueryInterfaceID(id iface.ID, want iface.Version) (any, error) {
	if !b.Alive() {
		return nil, cerrors.New("object.query", cerrors.KindRefCountMisuse).
			Detail("query on a destroyed object").Build()
	}
	get, err := b.table.LookupID(id, want)
	if err != nil {
		return nil, err
	}
	b.refs.inc()
	return get(b.self), nil
}

// WeakCount returns the number of live weak references.
func (b *Base) WeakCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.weak)
}

func (b *Base) destroy() {
	if !b.destroyed.CompareAndSwap(false, true) {
		return
	}
	if b.teardown != nil {
		b.teardown()
	}

	b.mu.Lock()
	slots := b.weak
	b.weak = nil
	b.mu.Unlock()

	for w := range slots {
		w.invalidate()
	}
}

func (b *Base) misuse(op, detail string) {
	err := cerrors.New(op, cerrors.KindRefCountMisuse).Detail(detail).Build()
	if !b.policy.ClampRelease {
		panic(err)
	}
	logger := b.policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observability.LogRefCountMisuse(logger, op, err)
}

// Query asks c for the named interface and asserts the view to T. On a
// failed assertion the acquired reference is released and NotImplemented
// is returned.
func Query[T any](c Capability, name string, want iface.Version) (T, error) {
	var zero T
	v, err := c.QueryInterface(name, want)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		c.Release()
		return zero, cerrors.New("object.query", cerrors.KindNotImplemented).
			Subject(name).Detail("view %T does not satisfy the requested Go type", v).Build()
	}
	return t, nil
}

// Interfaces lists the interfaces c declares.
func Interfaces(c Capability) []Interface {
	return c.base().table.Interfaces()
}
