package object

import "sync/atomic"

// Discipline selects how reference counts are maintained.
type Discipline int

const (
	// Atomic uses sync/atomic and is safe when objects cross goroutines.
	Atomic Discipline = iota

	// Unsynchronized uses plain integers. Use it only when every holder of
	// an object lives on the same goroutine, such as the dispatch loop.
	Unsynchronized
)

// String returns the discipline name.
func (d Discipline) String() string {
	switch d {
	case Atomic:
		return "atomic"
	case Unsynchronized:
		return "unsynchronized"
	default:
		return "unknown"
	}
}

// counter abstracts the two disciplines.
type counter interface {
	load() int32
	inc() int32

	// dec decrements and returns the new value; ok is false when the count
	// was already zero and nothing changed.
	dec() (n int32, ok bool)

	// acquire increments only while the count is positive. Weak upgrades
	// use it so a dying object cannot be revived.
	acquire() bool
}

func newCounter(d Discipline) counter {
	if d == Unsynchronized {
		return &plainCounter{n: 1}
	}
	c := &atomicCounter{}
	c.n.Store(1)
	return c
}

type atomicCounter struct {
	n atomic.Int32
}

func (c *atomicCounter) load() int32 { return c.n.Load() }

func (c *atomicCounter) inc() int32 { return c.n.Add(1) }

func (c *atomicCounter) dec() (int32, bool) {
	for {
		cur := c.n.Load()
		if cur <= 0 {
			return cur, false
		}
		if c.n.CompareAndSwap(cur, cur-1) {
			return cur - 1, true
		}
	}
}

func (c *atomicCounter) acquire() bool {
	for {
		cur := c.n.Load()
		if cur <= 0 {
			return false
		}
		if c.n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

type plainCounter struct {
	n int32
}

func (c *plainCounter) load() int32 { return c.n }

func (c *plainCounter) inc() int32 {
	c.n++
	return c.n
}

func (c *plainCounter) dec() (int32, bool) {
	if c.n <= 0 {
		return c.n, false
	}
	c.n--
	return c.n, true
}

func (c *plainCounter) acquire() bool {
	if c.n <= 0 {
		return false
	}
	c.n++
	return true
}
