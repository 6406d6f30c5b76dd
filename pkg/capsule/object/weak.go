package object

import "sync/atomic"

// Weak is a non-owning reference. It never keeps its target alive; it can
// only tell whether the target still exists and, if so, lend a new owned
// reference.
type Weak struct {
	target       atomic.Pointer[Base]
	onInvalidate func()
}

// NewWeak creates a weak reference to c. onInvalidate, if non-nil, runs
// once when c is destroyed. A weak reference to an already destroyed object
// is invalid from the start and its callback never runs.
func NewWeak(c Capability, onInvalidate func()) *Weak {
	w := &Weak{onInvalidate: onInvalidate}
	b := c.base()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed.Load() {
		return w
	}
	if b.weak == nil {
		b.weak = make(map[*Weak]struct{})
	}
	b.weak[w] = struct{}{}
	w.target.Store(b)
	return w
}

// Get upgrades the weak reference. On success the caller owns one
// reference and must Release it.
func (w *Weak) Get() (Capability, bool) {
	b := w.target.Load()
	if b == nil || b.destroyed.Load() {
		return nil, false
	}
	if !b.refs.acquire() {
		return nil, false
	}
	return b.outer, true
}

// Valid reports whether the target is still alive.
func (w *Weak) Valid() bool {
	b := w.target.Load()
	return b != nil && b.Alive()
}

// Reset detaches the weak reference without running its callback.
func (w *Weak) Reset() {
	b := w.target.Swap(nil)
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.weak, w)
	b.mu.Unlock()
}

func (w *Weak) invalidate() {
	if w.target.Swap(nil) == nil {
		return
	}
	if w.onInvalidate != nil {
		w.onInvalidate()
	}
}
