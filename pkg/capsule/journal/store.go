// Package journal persists queued events so that a queue can recover the
// events it had accepted but not yet dispatched when the process died.
//
// A queue appends the flattened event when it is posted and deletes the
// entry once the event has been dispatched. Whatever is left in the
// journal at start-up was never delivered.
package journal

import (
	"errors"
	"time"
)

// Store persists journal entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append stores data under (queue, seq). An existing entry is
	// overwritten.
	Append(queue string, seq uint64, data []byte) error

	// Delete removes one entry. Deleting a missing entry is not an error.
	Delete(queue string, seq uint64) error

	// List returns the entries of a queue ordered by sequence. A queue
	// without entries yields an empty slice.
	List(queue string) ([]Entry, error)

	// Queues returns the names of queues with at least one entry, sorted.
	Queues() ([]string, error)

	// Truncate removes every entry of a queue.
	Truncate(queue string) error

	// Close releases the underlying resources.
	Close() error
}

// Entry is one journaled event.
type Entry struct {
	Queue     string
	Seq       uint64
	Timestamp time.Time
	Data      []byte
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("journal store closed")
