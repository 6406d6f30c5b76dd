package queue

import (
	"sync"

	"cogentcore.org/core/base/keylist"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
)

// Position places a cord entry relative to a sibling.
type Position int

const (
	Before Position = iota
	After
)

// Cord is a named, ordered chain of handlers for one (category,
// subcategory) pair. Its handlers see matching events before the queue's
// listeners. When none of them consumes an event, the event continues to
// the listeners only if the cord passes.
type Cord struct {
	category    uint8
	subcategory uint8

	mu      sync.RWMutex
	pass    bool
	entries keylist.List[string, Handler]
}

func newCord(category, subcategory uint8) *Cord {
	return &Cord{category: category, subcategory: subcategory}
}

// Category returns the cord's category.
func (c *Cord) Category() uint8 { return c.category }

// Subcategory returns the cord's subcategory.
func (c *Cord) Subcategory() uint8 { return c.subcategory }

// Insert adds h under name. With relativeTo empty, Before means the head
// and After the tail.
func (c *Cord) Insert(name string, h Handler, pos Position, relativeTo string) error {
	if name == "" || h == nil {
		return cerrors.InvalidArgument("cord.insert", "name and handler are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries.IndexByKey(name) >= 0 {
		return cerrors.New("cord.insert", cerrors.KindDuplicateAttribute).Subject(name).Build()
	}

	idx := 0
	switch {
	case relativeTo == "" && pos == After:
		idx = c.entries.Len()
	case relativeTo != "":
		idx = c.entries.IndexByKey(relativeTo)
		if idx < 0 {
			return cerrors.NotFound("cord.insert", relativeTo)
		}
		if pos == After {
			idx++
		}
	}
	c.entries.Insert(idx, name, h)
	return nil
}

// Remove deletes the named entry. Removing an absent name is a no-op.
func (c *Cord) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.DeleteByKey(name)
}

// SetPass sets whether unconsumed events continue to the listeners.
func (c *Cord) SetPass(pass bool) {
	c.mu.Lock()
	c.pass = pass
	c.mu.Unlock()
}

// Pass reports whether unconsumed events continue to the listeners.
func (c *Cord) Pass() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pass
}

// Names returns entry names in dispatch order.
func (c *Cord) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.entries.Keys...)
}

// Len returns the number of entries.
func (c *Cord) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

func (c *Cord) snapshot() ([]string, []Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.entries.Keys...),
		append([]Handler(nil), c.entries.Values...),
		c.pass
}

type cordKey struct {
	category    uint8
	subcategory uint8
}
