package queue

import (
	"sync/atomic"

	"github.com/randalmurphal/capsule/pkg/capsule/event"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
)

// Listener is a handler registered with a queue.
type Listener struct {
	name     string
	handler  Handler
	wrapped  Handler
	priority int
	seq      uint64
	mask     atomic.Uint32
	owner    *object.Weak

	failures  atomic.Int32
	suspended atomic.Bool
	removed   atomic.Bool
}

// Name returns the listener name.
func (l *Listener) Name() string { return l.name }

// Handler returns the registered handler.
func (l *Listener) Handler() Handler { return l.handler }

// Priority returns the listener priority. Higher runs first.
func (l *Listener) Priority() int { return l.priority }

// Mask returns the trigger mask.
func (l *Listener) Mask() event.Mask { return event.Mask(l.mask.Load()) }

// Failures returns the number of consecutive failed invocations.
func (l *Listener) Failures() int { return int(l.failures.Load()) }

// Suspended reports whether the listener was quarantined.
func (l *Listener) Suspended() bool { return l.suspended.Load() }

// Active reports whether the listener is registered and not suspended.
func (l *Listener) Active() bool { return !l.removed.Load() && !l.suspended.Load() }

// ListenerOption configures a registration.
type ListenerOption func(*listenerConfig)

type listenerConfig struct {
	name     string
	priority int
	owner    object.Capability
	noOwner  bool
}

// WithPriority sets the priority. Higher priorities run first; equal
// priorities run in registration order.
func WithPriority(p int) ListenerOption {
	return func(c *listenerConfig) {
		c.priority = p
	}
}

// WithName names the listener in logs and failed-dispatch records.
func WithName(name string) ListenerOption {
	return func(c *listenerConfig) {
		c.name = name
	}
}

// WithOwner removes the listener automatically when owner is destroyed.
// A handler that is itself a capability object owns its listener unless
// WithoutOwner is given.
func WithOwner(owner object.Capability) ListenerOption {
	return func(c *listenerConfig) {
		c.owner = owner
	}
}

// WithoutOwner disables automatic removal.
func WithoutOwner() ListenerOption {
	return func(c *listenerConfig) {
		c.noOwner = true
	}
}
