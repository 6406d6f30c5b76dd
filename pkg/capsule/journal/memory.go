package journal

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a Store that lives only as long as the process. Tests use
// it, as do runtimes that want journal bookkeeping without a file.
type MemoryStore struct {
	mu     sync.RWMutex
	queues map[string][]Entry // each slice sorted by Seq
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: map[string][]Entry{}}
}

func bySeq(e Entry, seq uint64) int {
	switch {
	case e.Seq < seq:
		return -1
	case e.Seq > seq:
		return 1
	}
	return 0
}

func (m *MemoryStore) write(fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	fn()
	return nil
}

func (m *MemoryStore) Append(queue string, seq uint64, data []byte) error {
	return m.write(func() {
		e := Entry{Queue: queue, Seq: seq, Timestamp: time.Now().UTC(), Data: slices.Clone(data)}
		list := m.queues[queue]
		i, found := slices.BinarySearchFunc(list, seq, bySeq)
		if found {
			list[i] = e
			return
		}
		m.queues[queue] = slices.Insert(list, i, e)
	})
}

func (m *MemoryStore) Delete(queue string, seq uint64) error {
	return m.write(func() {
		list := m.queues[queue]
		i, found := slices.BinarySearchFunc(list, seq, bySeq)
		if !found {
			return
		}
		if list = slices.Delete(list, i, i+1); len(list) == 0 {
			delete(m.queues, queue)
			return
		}
		m.queues[queue] = list
	})
}

func (m *MemoryStore) Truncate(queue string) error {
	return m.write(func() { delete(m.queues, queue) })
}

func (m *MemoryStore) List(queue string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := slices.Clone(m.queues[queue])
	if out == nil {
		return []Entry{}, nil
	}
	for i := range out {
		out[i].Data = slices.Clone(out[i].Data)
	}
	return out, nil
}

func (m *MemoryStore) Queues() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	return slices.Sorted(maps.Keys(m.queues)), nil
}

// Close drops every entry. Later calls fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.queues = nil
	m.mu.Unlock()
	return nil
}

// Len counts entries across all queues.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, list := range m.queues {
		n += len(list)
	}
	return n
}
