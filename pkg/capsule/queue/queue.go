// Package queue implements the event queue: outlets post events, Process
// delivers them to listeners in priority order, and cords let a chain of
// handlers intercept one (category, subcategory) pair ahead of the
// listeners.
//
// Dispatch is cooperative and single threaded. Handlers run to completion
// on the goroutine calling Process or Dispatch. Posting is safe from any
// goroutine.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/deadletter"
	"github.com/randalmurphal/capsule/pkg/capsule/event"
	"github.com/randalmurphal/capsule/pkg/capsule/journal"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
	"github.com/randalmurphal/capsule/pkg/capsule/observability"
)

// State is the observable state of a queue.
type State int

const (
	Idle State = iota
	Posting
	Dispatching
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Posting:
		return "posting"
	case Dispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

// Config holds the queue limits.
type Config struct {
	// DrainLimit caps the events delivered by one Process pass.
	// Default: 0 (unlimited)
	DrainLimit int

	// MaxDepth caps nested immediate dispatch from inside handlers.
	// Default: 16
	MaxDepth int

	// FailureThreshold suspends a listener after that many consecutive
	// failures. Default: 0 (never)
	FailureThreshold int

	// NotifyProcess broadcasts CommandPreProcess and CommandPostProcess
	// around every Process pass that delivers at least one event.
	NotifyProcess bool
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxDepth: 16,
}

type pendingEvent struct {
	e   *event.Event
	seq uint64
}

// Queue holds posted events until Process delivers them.
type Queue struct {
	name        string
	cfg         Config
	clock       event.Clock
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
	journal     journal.Store
	deadletters *deadletter.Store
	middleware  []Middleware

	mu        sync.RWMutex
	listeners []*Listener
	nextSeq   uint64
	cords     map[cordKey]*Cord

	pendingMu sync.Mutex
	pending   []pendingEvent
	postSeq   uint64

	processing  atomic.Bool
	dispatching atomic.Int32
}

// New creates a queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		name:    "main",
		cfg:     DefaultConfig,
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		cords:   make(map[cordKey]*Cord),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.cfg.MaxDepth <= 0 {
		q.cfg.MaxDepth = DefaultConfig.MaxDepth
	}
	if q.clock == nil {
		q.clock = event.NewMonotonicClock()
	}
	if q.logger == nil {
		q.logger = slog.New(slog.DiscardHandler)
	}
	q.logger = observability.QueueLogger(q.logger, q.name)
	return q
}

// Name returns the queue name used in logs and the journal.
func (q *Queue) Name() string { return q.name }

// Clock returns the queue's timestamp source.
func (q *Queue) Clock() event.Clock { return q.clock }

// Config returns the queue limits.
func (q *Queue) Config() Config { return q.cfg }

// DeadLetters returns the failed-dispatch store, or nil.
func (q *Queue) DeadLetters() *deadletter.Store { return q.deadletters }

// Register adds h as a listener for the event types in mask.
func (q *Queue) Register(h Handler, mask event.Mask, opts ...ListenerOption) (*Listener, error) {
	if h == nil {
		return nil, cerrors.InvalidArgument("queue.register", "handler is nil")
	}
	var cfg listenerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = handlerName(h)
	}
	if cfg.owner == nil && !cfg.noOwner {
		if c, ok := h.(object.Capability); ok {
			cfg.owner = c
		}
	}

	l := &Listener{
		name:     cfg.name,
		handler:  h,
		priority: cfg.priority,
	}
	l.mask.Store(uint32(mask))
	mw := append(append([]Middleware(nil), q.middleware...), Recovery())
	l.wrapped = Chain(h, mw...)

	if cfg.owner != nil {
		if !cfg.owner.Alive() {
			return nil, cerrors.InvalidArgument("queue.register", "owner is destroyed")
		}
		l.owner = object.NewWeak(cfg.owner, func() { q.Remove(l) })
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextSeq++
	l.seq = q.nextSeq
	q.insertLocked(l)
	return l, nil
}

func (q *Queue) insertLocked(l *Listener) {
	i := sort.Search(len(q.listeners), func(i int) bool {
		o := q.listeners[i]
		if o.priority != l.priority {
			return o.priority < l.priority
		}
		return o.seq > l.seq
	})
	q.listeners = append(q.listeners, nil)
	copy(q.listeners[i+1:], q.listeners[i:])
	q.listeners[i] = l
}

// Remove unregisters a listener. It reports whether l was registered.
func (q *Queue) Remove(l *Listener) bool {
	if l == nil || l.removed.Swap(true) {
		return false
	}
	if l.owner != nil {
		l.owner.Reset()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, o := range q.listeners {
		if o == l {
			q.listeners = append(q.listeners[:i], q.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// SetMask changes the trigger mask of a listener.
func (q *Queue) SetMask(l *Listener, mask event.Mask) {
	l.mask.Store(uint32(mask))
}

// SetPriority moves a listener to a new priority. It keeps its original
// registration order among equal priorities.
func (q *Queue) SetPriority(l *Listener, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, o := range q.listeners {
		if o == l {
			q.listeners = append(q.listeners[:i], q.listeners[i+1:]...)
			l.priority = priority
			q.insertLocked(l)
			return
		}
	}
}

// Resume clears a listener's quarantine and failure count.
func (q *Queue) Resume(l *Listener) {
	l.failures.Store(0)
	l.suspended.Store(false)
}

// Listeners returns the registered listeners in dispatch order.
func (q *Queue) Listeners() []*Listener {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]*Listener(nil), q.listeners...)
}

// Cord returns the cord for (category, subcategory), creating it on first
// use.
func (q *Queue) Cord(category, subcategory uint8) *Cord {
	k := cordKey{category, subcategory}

	q.mu.RLock()
	c, ok := q.cords[k]
	q.mu.RUnlock()
	if ok {
		return c
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.cords[k]; ok {
		return c
	}
	c = newCord(category, subcategory)
	q.cords[k] = c
	return c
}

// RemoveCord drops the cord for (category, subcategory).
func (q *Queue) RemoveCord(category, subcategory uint8) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := cordKey{category, subcategory}
	_, ok := q.cords[k]
	delete(q.cords, k)
	return ok
}

// CreateOutlet returns a producer handle named name.
func (q *Queue) CreateOutlet(name string) *Outlet {
	return &Outlet{q: q, name: name}
}

// Post enqueues e for the next Process pass. An event without a timestamp
// is stamped from the queue clock.
func (q *Queue) Post(e *event.Event) error {
	if e == nil {
		return cerrors.InvalidArgument("queue.post", "event is nil")
	}
	if e.Time() == 0 && !e.Locked() {
		_ = e.SetTime(q.clock.Now())
	}

	q.pendingMu.Lock()
	q.postSeq++
	seq := q.postSeq
	q.pending = append(q.pending, pendingEvent{e: e, seq: seq})
	if q.journal != nil {
		q.journalAppend(seq, e)
	}
	q.pendingMu.Unlock()

	q.metrics.RecordPost(context.Background(), e.Type().String())
	return nil
}

func (q *Queue) journalAppend(seq uint64, e *event.Event) {
	data, err := e.Flatten()
	if err == nil {
		err = q.journal.Append(q.name, seq, data)
	}
	if err != nil {
		observability.LogJournalError(q.logger, "append", seq, err)
	}
}

func (q *Queue) journalDelete(seq uint64) {
	if q.journal == nil {
		return
	}
	if err := q.journal.Delete(q.name, seq); err != nil {
		observability.LogJournalError(q.logger, "delete", seq, err)
	}
}

// Pending returns the number of undelivered events.
func (q *Queue) Pending() int {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	return len(q.pending)
}

// State reports whether the queue is idle, holding posted events, or
// delivering.
func (q *Queue) State() State {
	if q.processing.Load() || q.dispatching.Load() > 0 {
		return Dispatching
	}
	if q.Pending() > 0 {
		return Posting
	}
	return Idle
}

// Clear discards every undelivered event and returns how many there were.
func (q *Queue) Clear() int {
	q.pendingMu.Lock()
	dropped := q.pending
	q.pending = nil
	q.pendingMu.Unlock()

	for _, p := range dropped {
		q.journalDelete(p.seq)
	}
	return len(dropped)
}

// Process delivers the events that were pending when it was called, in
// arrival order, up to the drain limit. Events posted meanwhile wait for
// the next pass. A call made from inside a handler returns (0, nil).
//
// Handler failures do not fail Process; they are logged and recorded as
// failed dispatches. A cancelled ctx stops the pass and leaves the rest of
// the batch queued.
func (q *Queue) Process(ctx context.Context) (int, error) {
	return q.ProcessN(ctx, q.cfg.DrainLimit)
}

// ProcessN is Process with an explicit drain limit. A limit of zero or
// less drains the whole snapshot.
func (q *Queue) ProcessN(ctx context.Context, limit int) (int, error) {
	if dispatchDepth(ctx) > 0 || q.dispatching.Load() > 0 {
		return 0, nil
	}
	if !q.processing.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer q.processing.Store(false)

	q.pendingMu.Lock()
	n := len(q.pending)
	if limit > 0 && n > limit {
		n = limit
	}
	batch := q.pending[:n:n]
	q.pending = append([]pendingEvent(nil), q.pending[n:]...)
	q.pendingMu.Unlock()

	if n == 0 {
		return 0, nil
	}

	ctx, span := q.spans.StartProcessSpan(ctx, q.name, n)
	if q.cfg.NotifyProcess {
		q.notify(ctx, event.CommandPreProcess)
	}

	count := 0
	for i, p := range batch {
		if err := ctx.Err(); err != nil {
			q.requeue(batch[i:])
			q.spans.EndSpanWithError(span, err)
			return count, err
		}
		if err := q.Dispatch(ctx, p.e); err != nil {
			q.logger.Warn("event not dispatched",
				slog.String("event_id", p.e.ID()),
				slog.String("error", err.Error()),
			)
		}
		q.journalDelete(p.seq)
		count++
	}

	if q.cfg.NotifyProcess {
		q.notify(ctx, event.CommandPostProcess)
	}
	q.spans.EndSpanWithError(span, nil)
	return count, nil
}

func (q *Queue) notify(ctx context.Context, code uint32) {
	e := event.New(event.TypeBroadcast,
		event.WithCommand(code, nil),
		event.WithTime(q.clock.Now()),
	)
	_ = q.Dispatch(ctx, e)
}

func (q *Queue) requeue(rest []pendingEvent) {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	q.pending = append(append([]pendingEvent(nil), rest...), q.pending...)
}

// Dispatch delivers e immediately, bypassing the pending list. Nested
// calls from inside handlers are limited by Config.MaxDepth.
func (q *Queue) Dispatch(ctx context.Context, e *event.Event) error {
	if e == nil {
		return cerrors.InvalidArgument("queue.dispatch", "event is nil")
	}
	depth := dispatchDepth(ctx)
	if depth >= q.cfg.MaxDepth {
		return cerrors.New("queue.dispatch", cerrors.KindInvalidArgument).
			Subject(e.ID()).Detail("max dispatch depth exceeded (%d)", q.cfg.MaxDepth).Build()
	}
	ctx = withDispatchDepth(ctx, depth+1)

	q.dispatching.Add(1)
	defer q.dispatching.Add(-1)

	ctx, span := q.spans.StartDispatchSpan(ctx, e.ID(), e.Type().String())
	delivered, consumed := q.deliver(ctx, e)
	q.metrics.RecordDispatch(ctx, e.Type().String(), delivered)
	observability.LogDispatch(q.logger, e.ID(), e.Type().String(), delivered, consumed)
	q.spans.EndSpanWithError(span, nil)
	return nil
}

func (q *Queue) deliver(ctx context.Context, e *event.Event) (delivered int, consumed bool) {
	e.Lock()
	broadcast := e.IsBroadcast()

	q.mu.RLock()
	cord := q.cords[cordKey{e.Category(), e.Subcategory()}]
	listeners := append([]*Listener(nil), q.listeners...)
	q.mu.RUnlock()

	if cord != nil {
		names, handlers, pass := cord.snapshot()
		if len(handlers) > 0 {
			for i, h := range handlers {
				res := q.invoke(ctx, names[i], Chain(h, Recovery()), e, nil)
				delivered++
				if res == Consumed && !broadcast {
					q.spans.AddSpanEvent(ctx, "cord.consumed")
					return delivered, true
				}
			}
			if !pass && !broadcast {
				return delivered, false
			}
		}
	}

	for _, l := range listeners {
		if l.removed.Load() {
			continue
		}
		// Broadcasts carry lifecycle commands, so they also reach
		// quarantined listeners and ignore masks.
		if !broadcast && (l.Suspended() || !l.Mask().Has(e.Type())) {
			continue
		}
		res := q.invoke(ctx, l.name, l.wrapped, e, l)
		delivered++
		if res == Consumed && !broadcast {
			return delivered, true
		}
	}
	return delivered, false
}

func (q *Queue) invoke(ctx context.Context, name string, h Handler, e *event.Event, l *Listener) Result {
	elapsed := observability.TimedOperation()
	res, err := h.HandleEvent(ctx, e)
	q.metrics.RecordHandler(ctx, name, elapsed(), err)
	if err == nil {
		if l != nil {
			l.failures.Store(0)
		}
		return res
	}

	herr := &HandlerError{Listener: name, EventID: e.ID(), Err: err}
	observability.LogHandlerError(q.logger, name, e.ID(), herr)
	q.recordFailure(ctx, name, e, herr)

	if l != nil {
		n := l.failures.Add(1)
		if q.cfg.FailureThreshold > 0 && int(n) >= q.cfg.FailureThreshold && !l.suspended.Swap(true) {
			observability.LogQuarantine(q.logger, name, int(n))
		}
	}
	return NotInterested
}

func (q *Queue) recordFailure(ctx context.Context, name string, e *event.Event, err error) {
	if q.deadletters == nil {
		return
	}
	f, ferr := deadletter.NewFailedDispatch(e, name, err)
	if ferr == nil {
		ferr = q.deadletters.Record(ctx, f)
	}
	if ferr != nil {
		q.logger.Warn("failed dispatch not recorded",
			slog.String("listener", name),
			slog.String("error", ferr.Error()),
		)
	}
}

// Recover re-posts the events left in the journal by a previous process.
// It returns how many were re-posted. Entries that no longer decode are
// logged and dropped.
//
// Recover belongs at start-up. While events are pending their journal
// entries are still live, so it fails with InvalidArgument instead of
// delivering them twice.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	if q.journal == nil {
		return 0, nil
	}
	if n := q.Pending(); n > 0 {
		return 0, cerrors.New("queue.recover", cerrors.KindInvalidArgument).
			Subject(q.name).Detail("%d events pending", n).Build()
	}
	entries, err := q.journal.List(q.name)
	if err != nil {
		return 0, fmt.Errorf("list journal: %w", err)
	}
	if err := q.journal.Truncate(q.name); err != nil {
		return 0, fmt.Errorf("truncate journal: %w", err)
	}

	n := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e, err := event.Unflatten(entry.Data)
		if err != nil {
			q.logger.Warn("dropping undecodable journal entry",
				slog.Uint64("seq", entry.Seq),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := q.Post(e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// HandlerError wraps a handler failure with the listener and event.
type HandlerError struct {
	Listener string
	EventID  string
	Err      error
}

// Error implements error.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("listener %s failed on event %s: %v", e.Listener, e.EventID, e.Err)
}

// Unwrap returns the handler's error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

type contextKey string

const depthKey contextKey = "dispatch_depth"

func dispatchDepth(ctx context.Context) int {
	if v, ok := ctx.Value(depthKey).(int); ok {
		return v
	}
	return 0
}

func withDispatchDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey, depth)
}
