// Package iface maps interface names to stable numeric IDs and defines the
// version compatibility rule used by interface queries.
package iface

import (
	"sync"
	"sync/atomic"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/registry"
)

// ID identifies an interface within one Registry. Zero is never assigned.
type ID uint32

// InvalidID is returned for rejected registrations.
const InvalidID ID = 0

// Base is the interface every capability object answers.
const Base = "capsule.iBase"

// Registry assigns IDs to interface names. IDs are handed out sequentially
// on first registration and never change for the life of the registry.
type Registry struct {
	byName *registry.Registry[string, ID]
	byID   *registry.Registry[ID, string]
	next   atomic.Uint32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: registry.New[string, ID](),
		byID:   registry.New[ID, string](),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry. Interface tables declared at
// package level bind to it.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register returns the ID for name, assigning one on first use.
// It returns InvalidID for an empty name.
func (r *Registry) Register(name string) ID {
	id, _ := r.RegisterChecked(name)
	return id
}

// RegisterChecked is Register with an error for an empty name.
func (r *Registry) RegisterChecked(name string) (ID, error) {
	if name == "" {
		return InvalidID, cerrors.InvalidArgument("iface.register", "interface name is empty")
	}
	return r.byName.GetOrCreate(name, func() ID {
		id := ID(r.next.Add(1))
		r.byID.Register(id, name)
		return id
	}), nil
}

// Lookup returns the ID for a registered name.
func (r *Registry) Lookup(name string) (ID, bool) {
	return r.byName.Get(name)
}

// Name returns the name registered under id.
func (r *Registry) Name(id ID) (string, bool) {
	return r.byID.Get(id)
}

// Names returns all registered names in ID order.
func (r *Registry) Names() []string {
	ids := r.byID.Keys()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := r.byID.Get(id); ok {
			names = append(names, name)
		}
	}
	return names
}

// Len returns the number of registered interfaces.
func (r *Registry) Len() int {
	return r.byName.Len()
}
