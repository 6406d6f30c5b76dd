package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/randalmurphal/capsule/pkg/capsule/event"
)

// Result is a handler's verdict on an event.
type Result int

const (
	// NotInterested lets the event continue to the next handler.
	NotInterested Result = iota

	// Consumed stops propagation of a non-broadcast event.
	Consumed
)

// String returns the result name.
func (r Result) String() string {
	if r == Consumed {
		return "consumed"
	}
	return "not_interested"
}

// Handler receives dispatched events. The event is locked when it arrives.
// A returned error is recorded as a failed dispatch and does not stop
// propagation.
type Handler interface {
	HandleEvent(ctx context.Context, e *event.Event) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e *event.Event) (Result, error)

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, e *event.Event) (Result, error) {
	return f(ctx, e)
}

// Middleware wraps handlers to add cross-cutting concerns.
type Middleware func(next Handler) Handler

// Chain applies middleware in order, with the first middleware outermost.
func Chain(h Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// PanicError is returned by Recovery when a handler panics.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Recovery turns a handler panic into a *PanicError. The queue installs it
// innermost on every handler.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, e *event.Event) (res Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					res = NotInterested
					err = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			return next.HandleEvent(ctx, e)
		})
	}
}

// Logging logs every handler invocation at debug level.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, e *event.Event) (Result, error) {
			res, err := next.HandleEvent(ctx, e)
			attrs := []any{
				slog.String("event_id", e.ID()),
				slog.String("event_type", e.Type().String()),
				slog.String("result", res.String()),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			logger.DebugContext(ctx, "handler invoked", attrs...)
			return res, err
		})
	}
}

// handlerName names a handler for logs and failed-dispatch records.
func handlerName(h Handler) string {
	return fmt.Sprintf("%T", h)
}
