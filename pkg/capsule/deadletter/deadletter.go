// Package deadletter records failed handler invocations.
//
// When a listener returns an error or panics, the queue records a
// FailedDispatch holding the flattened event. Repeated failures of the same
// listener on the same event content share a fingerprint and are merged
// into one entry whose attempt count grows. An entry that reaches the
// configured maximum is parked: it stays for inspection but is no longer
// offered for replay until it is unparked.
package deadletter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/event"
)

// FailedDispatch describes one listener failing on one event.
type FailedDispatch struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`

	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	EventData []byte `json:"event_data"`

	Listener     string `json:"listener"`
	ErrorMessage string `json:"error_message"`
	Category     string `json:"category"`

	Attempts      int       `json:"attempts"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`

	Parked     bool      `json:"parked"`
	ParkReason string    `json:"park_reason,omitempty"`
	ParkedAt   time.Time `json:"parked_at,omitempty"`
}

// NewFailedDispatch flattens e and builds a record for a failure of
// listener.
func NewFailedDispatch(e *event.Event, listener string, err error) (*FailedDispatch, error) {
	data, ferr := e.Flatten()
	if ferr != nil {
		return nil, ferr
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &FailedDispatch{
		ID:            uuid.NewString(),
		Fingerprint:   Fingerprint(listener, data),
		EventID:       e.ID(),
		EventType:     e.Type().String(),
		EventData:     data,
		Listener:      listener,
		ErrorMessage:  msg,
		Category:      cerrors.Categorize(err).String(),
		Attempts:      1,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}, nil
}

// Event decodes the stored event.
func (f *FailedDispatch) Event() (*event.Event, error) {
	return event.Unflatten(f.EventData)
}

// Fingerprint identifies a failure by listener and event content.
func Fingerprint(listener string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(listener))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Config configures a Store.
type Config struct {
	// MaxSize limits the number of entries, parked ones included.
	// Default: 10000
	MaxSize int

	// MaxAttempts parks an entry once its attempt count reaches it.
	// Default: 5
	MaxAttempts int

	// OnRecord is called after an entry is added or merged.
	OnRecord func(*FailedDispatch)

	// OnPark is called when an entry is parked.
	OnPark func(*FailedDispatch)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxSize:     10000,
	MaxAttempts: 5,
}

// Poster accepts replayed events. A queue outlet satisfies it.
type Poster interface {
	Post(e *event.Event) error
}

// Store is an in-memory failed-dispatch store, safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*FailedDispatch
	byPrint map[string]string
	cfg     Config

	recorded int64
	merged   int64
	parked   int64
	replayed int64
}

// New creates a Store. Zero fields of cfg take the defaults.
func New(cfg Config) *Store {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig.MaxSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	return &Store{
		entries: make(map[string]*FailedDispatch),
		byPrint: make(map[string]string),
		cfg:     cfg,
	}
}

// Record adds a failure, or merges it into the entry with the same
// fingerprint.
func (s *Store) Record(_ context.Context, f *FailedDispatch) error {
	if f == nil {
		return cerrors.InvalidArgument("deadletter.record", "failed dispatch is nil")
	}

	s.mu.Lock()
	var park, rec *FailedDispatch
	if id, ok := s.byPrint[f.Fingerprint]; ok {
		existing := s.entries[id]
		existing.Attempts++
		existing.LastFailedAt = f.LastFailedAt
		existing.ErrorMessage = f.ErrorMessage
		existing.Category = f.Category
		existing.EventID = f.EventID
		s.merged++
		rec = existing
	} else {
		if len(s.entries) >= s.cfg.MaxSize {
			s.mu.Unlock()
			return cerrors.New("deadletter.record", cerrors.KindInvalidArgument).
				Detail("store is full (%d entries)", s.cfg.MaxSize).Build()
		}
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.Attempts <= 0 {
			f.Attempts = 1
		}
		s.entries[f.ID] = f
		s.byPrint[f.Fingerprint] = f.ID
		s.recorded++
		rec = f
	}
	if !rec.Parked && rec.Attempts >= s.cfg.MaxAttempts {
		s.parkLocked(rec, "max attempts reached")
		park = rec
	}
	onRecord, onPark := s.cfg.OnRecord, s.cfg.OnPark
	s.mu.Unlock()

	if onRecord != nil {
		onRecord(rec)
	}
	if park != nil && onPark != nil {
		onPark(park)
	}
	return nil
}

func (s *Store) parkLocked(f *FailedDispatch, reason string) {
	f.Parked = true
	f.ParkReason = reason
	f.ParkedAt = time.Now()
	s.parked++
}

// Get returns a copy of the entry with the given ID.
func (s *Store) Get(id string) (FailedDispatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.entries[id]
	if !ok {
		return FailedDispatch{}, false
	}
	return *f, true
}

// List returns copies of the entries that are not parked, oldest first.
func (s *Store) List() []FailedDispatch {
	return s.collect(func(f *FailedDispatch) bool { return !f.Parked })
}

// Parked returns copies of the parked entries, oldest first.
func (s *Store) Parked() []FailedDispatch {
	return s.collect(func(f *FailedDispatch) bool { return f.Parked })
}

func (s *Store) collect(keep func(*FailedDispatch) bool) []FailedDispatch {
	s.mu.RLock()
	out := make([]FailedDispatch, 0, len(s.entries))
	for _, f := range s.entries {
		if keep(f) {
			out = append(out, *f)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstFailedAt.Equal(out[j].FirstFailedAt) {
			return out[i].FirstFailedAt.Before(out[j].FirstFailedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Park moves an entry out of the replayable set.
func (s *Store) Park(id, reason string) error {
	s.mu.Lock()
	f, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return cerrors.NotFound("deadletter.park", id)
	}
	if !f.Parked {
		s.parkLocked(f, reason)
	}
	onPark := s.cfg.OnPark
	s.mu.Unlock()

	if onPark != nil {
		onPark(f)
	}
	return nil
}

// Unpark makes a parked entry replayable again and resets its attempts.
func (s *Store) Unpark(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.entries[id]
	if !ok {
		return cerrors.NotFound("deadletter.unpark", id)
	}
	f.Parked = false
	f.ParkReason = ""
	f.ParkedAt = time.Time{}
	f.Attempts = 0
	return nil
}

// Delete removes an entry.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Store) deleteLocked(id string) bool {
	f, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	delete(s.byPrint, f.Fingerprint)
	return true
}

// Replay decodes the entry's event, posts it through p and removes the
// entry. Parked entries must be unparked first.
func (s *Store) Replay(_ context.Context, id string, p Poster) error {
	s.mu.RLock()
	f, ok := s.entries[id]
	var data []byte
	parked := false
	if ok {
		data = f.EventData
		parked = f.Parked
	}
	s.mu.RUnlock()

	if !ok {
		return cerrors.NotFound("deadletter.replay", id)
	}
	if parked {
		return cerrors.New("deadletter.replay", cerrors.KindInvalidArgument).
			Subject(id).Detail("entry is parked").Build()
	}

	e, err := event.Unflatten(data)
	if err != nil {
		return cerrors.New("deadletter.replay", cerrors.KindInvalidArgument).
			Subject(id).Cause(err).Build()
	}
	if err := p.Post(e); err != nil {
		return err
	}

	s.mu.Lock()
	if s.deleteLocked(id) {
		s.replayed++
	}
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries that are not parked.
func (s *Store) Len() int {
	return len(s.List())
}

// Stats reports store counters.
type Stats struct {
	Size     int   // Current entries, parked included
	Recorded int64 // Distinct failures recorded
	Merged   int64 // Repeats merged into an existing entry
	Parked   int64 // Entries parked
	Replayed int64 // Entries replayed and removed
}

// Stats returns store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Size:     len(s.entries),
		Recorded: s.recorded,
		Merged:   s.merged,
		Parked:   s.parked,
		Replayed: s.replayed,
	}
}
