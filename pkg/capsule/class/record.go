package class

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/capsule/pkg/capsule/iface"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
)

// StaticContext is the context of classes registered in code.
const StaticContext = "*static*"

// Factory creates instances of one class.
type Factory interface {
	// CreateInstance returns a new object with a reference count of one.
	CreateInstance(ctx context.Context) (object.Capability, error)

	// TryUnload releases whatever the factory loaded. It is only called
	// when the class has no live instances. Returning an error keeps the
	// class loaded.
	TryUnload(ctx context.Context) error
}

// FactoryFunc adapts a function to Factory. It has nothing to unload.
type FactoryFunc func(ctx context.Context) (object.Capability, error)

func (f FactoryFunc) CreateInstance(ctx context.Context) (object.Capability, error) {
	return f(ctx)
}

func (f FactoryFunc) TryUnload(context.Context) error { return nil }

// Record is one registered class.
type Record struct {
	ClassID      string
	Factory      Factory
	Dependencies []string
	Description  string

	// Interface and Version come from the plugin descriptor, if any.
	Interface string
	Version   iface.Version

	// Context is StaticContext or the path of the module the class was
	// loaded from.
	Context string

	loaded atomic.Bool
	uses   atomic.Int64

	// gate orders the start of a construction against an unload of the
	// same class; building counts constructions that have started but not
	// yet been counted in uses.
	gate     sync.Mutex
	building atomic.Int64
}

// begin marks a construction as started. It waits for an unload of this
// class that is in progress.
func (r *Record) begin() {
	r.gate.Lock()
	r.building.Add(1)
	r.gate.Unlock()
}

func (r *Record) end() { r.building.Add(-1) }

// busy reports whether the class has live instances or instances being
// built.
func (r *Record) busy() bool {
	return r.uses.Load() > 0 || r.building.Load() > 0
}

// Loaded reports whether an instance was created since registration or
// the last unload.
func (r *Record) Loaded() bool { return r.loaded.Load() }

// Uses returns the number of live instances.
func (r *Record) Uses() int64 { return r.uses.Load() }

func (r *Record) dependsOn(id string) bool {
	return slices.Contains(r.Dependencies, id)
}

// Info is a snapshot of a Record.
type Info struct {
	ClassID      string        `json:"class_id" yaml:"class_id"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies []string      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Interface    string        `json:"interface,omitempty" yaml:"interface,omitempty"`
	Version      iface.Version `json:"version" yaml:"version"`
	Context      string        `json:"context" yaml:"context"`
	Loaded       bool          `json:"loaded" yaml:"loaded"`
	Uses         int64         `json:"uses" yaml:"uses"`
}

func (r *Record) info() Info {
	return Info{
		ClassID:      r.ClassID,
		Description:  r.Description,
		Dependencies: slices.Clone(r.Dependencies),
		Interface:    r.Interface,
		Version:      r.Version,
		Context:      r.Context,
		Loaded:       r.Loaded(),
		Uses:         r.Uses(),
	}
}
