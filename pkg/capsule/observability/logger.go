// Package observability provides the logging, metrics and tracing hooks
// used by the capsule runtime.
//
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Metrics and tracing are opt-in; the Noop implementations are used when
// they are disabled.
package observability

import (
	"log/slog"
	"time"
)

// QueueLogger tags every record of logger with the queue name.
func QueueLogger(logger *slog.Logger, queue string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("queue", queue))
}

// LogDispatch logs the delivery of one event.
func LogDispatch(logger *slog.Logger, eventID, eventType string, delivered int, consumed bool) {
	if logger == nil {
		return
	}
	logger.Debug("event dispatched",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.Int("delivered", delivered),
		slog.Bool("consumed", consumed),
	)
}

// LogHandlerError logs a failed or panicking handler.
func LogHandlerError(logger *slog.Logger, listener, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed",
		slog.String("listener", listener),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogQuarantine logs a listener being suspended after repeated failures.
func LogQuarantine(logger *slog.Logger, listener string, failures int) {
	if logger == nil {
		return
	}
	logger.Warn("listener quarantined",
		slog.String("listener", listener),
		slog.Int("consecutive_failures", failures),
	)
}

// LogInstanceCreated logs a successful factory call.
func LogInstanceCreated(logger *slog.Logger, classID, context string, uses int64) {
	if logger == nil {
		return
	}
	logger.Debug("instance created",
		slog.String("class_id", classID),
		slog.String("context", context),
		slog.Int64("uses", uses),
	)
}

// LogUnload logs a class whose factory was unloaded.
func LogUnload(logger *slog.Logger, classID string) {
	if logger == nil {
		return
	}
	logger.Info("class unloaded",
		slog.String("class_id", classID),
	)
}

// LogRefCountMisuse logs a reference count violation that was clamped
// instead of panicking.
func LogRefCountMisuse(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("reference count misuse ignored",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogJournalError logs a journal failure. Journal failures never stop
// dispatch.
func LogJournalError(logger *slog.Logger, op string, seq uint64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("journal operation failed",
		slog.String("operation", op),
		slog.Uint64("seq", seq),
		slog.String("error", err.Error()),
	)
}

// TimedOperation starts a stopwatch; the returned func reads it.
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
