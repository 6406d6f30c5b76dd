package queue

import (
	"log/slog"

	"github.com/randalmurphal/capsule/pkg/capsule/deadletter"
	"github.com/randalmurphal/capsule/pkg/capsule/event"
	"github.com/randalmurphal/capsule/pkg/capsule/journal"
	"github.com/randalmurphal/capsule/pkg/capsule/observability"
)

// Option configures a Queue.
type Option func(*Queue)

// WithQueueName sets the queue name. It keys the queue's journal entries.
func WithQueueName(name string) Option {
	return func(q *Queue) {
		q.name = name
	}
}

// WithConfig replaces the queue limits.
func WithConfig(cfg Config) Option {
	return func(q *Queue) {
		q.cfg = cfg
	}
}

// WithDrainLimit caps the events delivered by one Process pass.
func WithDrainLimit(n int) Option {
	return func(q *Queue) {
		q.cfg.DrainLimit = n
	}
}

// WithMaxDepth caps nested immediate dispatch.
func WithMaxDepth(n int) Option {
	return func(q *Queue) {
		q.cfg.MaxDepth = n
	}
}

// WithFailureThreshold suspends listeners after n consecutive failures.
func WithFailureThreshold(n int) Option {
	return func(q *Queue) {
		q.cfg.FailureThreshold = n
	}
}

// WithClock sets the timestamp source.
func WithClock(c event.Clock) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithLogger sets the logger. Nil discards logs.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(q *Queue) {
		if m != nil {
			q.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(q *Queue) {
		if s != nil {
			q.spans = s
		}
	}
}

// WithJournal journals posted events to s until they are dispatched.
func WithJournal(s journal.Store) Option {
	return func(q *Queue) {
		q.journal = s
	}
}

// WithDeadLetters records handler failures in s.
func WithDeadLetters(s *deadletter.Store) Option {
	return func(q *Queue) {
		q.deadletters = s
	}
}

// WithMiddleware wraps every listener registered afterwards. The first
// middleware is outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(q *Queue) {
		q.middleware = append(q.middleware, mw...)
	}
}
