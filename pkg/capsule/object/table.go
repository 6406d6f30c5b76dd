package object

import (
	"fmt"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/iface"
)

// Accessor returns the view of self that is handed out for an interface.
// A nil Accessor hands out self unchanged.
type Accessor func(self any) any

// Interface describes one entry of a Table.
type Interface struct {
	ID      iface.ID
	Name    string
	Version iface.Version
}

type tableEntry struct {
	Interface
	get Accessor
}

// Table is the closed set of interfaces a concrete type offers. Build one
// table per type, at package level, before the first object is created:
//
//	var widgetTable = object.NewTable(nil).
//	    Implements("demo.iWidget", iface.V(1, 2, 0), nil).
//	    Implements("demo.iNamed", iface.V(1, 0, 0), func(self any) any {
//	        return self.(*Widget).names
//	    })
//
// Every table answers iface.Base at version 1.0.0.
type Table struct {
	reg     *iface.Registry
	entries map[iface.ID]tableEntry
	order   []iface.ID
}

// BaseVersion is the version every table declares for iface.Base.
var BaseVersion = iface.V(1, 0, 0)

// NewTable creates a table bound to reg, or to iface.Default when reg is nil.
func NewTable(reg *iface.Registry) *Table {
	if reg == nil {
		reg = iface.Default()
	}
	t := &Table{
		reg:     reg,
		entries: make(map[iface.ID]tableEntry),
	}
	return t.Implements(iface.Base, BaseVersion, nil)
}

// Implements declares an interface. Declaring the same name twice replaces
// the earlier entry. It panics on an empty name, which can only come from a
// broken declaration.
func (t *Table) Implements(name string, v iface.Version, get Accessor) *Table {
	id, err := t.reg.RegisterChecked(name)
	if err != nil {
		panic(fmt.Sprintf("object: %v", err))
	}
	if _, exists := t.entries[id]; !exists {
		t.order = append(t.order, id)
	}
	t.entries[id] = tableEntry{
		Interface: Interface{ID: id, Name: name, Version: v},
		get:       get,
	}
	return t
}

// Registry returns the interface registry the table is bound to.
func (t *Table) Registry() *iface.Registry {
	return t.reg
}

// Interfaces lists the declared interfaces in declaration order.
func (t *Table) Interfaces() []Interface {
	out := make([]Interface, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id].Interface)
	}
	return out
}

// Lookup resolves name at version want. It returns NotImplemented when the
// type does not declare the interface and VersionMismatch when it declares
// an incompatible version.
func (t *Table) Lookup(name string, want iface.Version) (Accessor, error) {
	id, ok := t.reg.Lookup(name)
	if !ok {
		return nil, cerrors.NotImplemented("object.query", name)
	}
	return t.LookupID(id, want)
}

// LookupID is Lookup for an already resolved ID.
func (t *Table) LookupID(id iface.ID, want iface.Version) (Accessor, error) {
	e, ok := t.entries[id]
	if !ok {
		name, _ := t.reg.Name(id)
		return nil, cerrors.NotImplemented("object.query", name)
	}
	if !e.Version.Compatible(want) {
		return nil, cerrors.VersionMismatch("object.query", e.Name, e.Version.String(), want.String())
	}
	if e.get == nil {
		return func(self any) any { return self }, nil
	}
	return e.get, nil
}
