package capsule

import (
	"log/slog"

	"github.com/randalmurphal/capsule/pkg/capsule/config"
	"github.com/randalmurphal/capsule/pkg/capsule/event"
	"github.com/randalmurphal/capsule/pkg/capsule/iface"
	"github.com/randalmurphal/capsule/pkg/capsule/journal"
	"github.com/randalmurphal/capsule/pkg/capsule/observability"
)

type options struct {
	settings   config.Settings
	configFile string
	config     *config.Config
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	journal    journal.Store
	clock      event.Clock
	ifaces     *iface.Registry
}

// Option configures a Runtime.
type Option func(*options)

// WithSettings replaces the default settings.
func WithSettings(s config.Settings) Option {
	return func(o *options) {
		o.settings = s
	}
}

// WithConfig reads settings from cfg. Combined with WithConfigFile, the
// keys of cfg override those of the file.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.config = &cfg
	}
}

// WithConfigFile reads settings from a YAML, JSON or TOML file when the
// runtime is built. A load failure fails New.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configFile = path
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics overrides the recorder chosen by metrics.enabled.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSpans overrides the span manager chosen by tracing.enabled.
func WithSpans(s observability.SpanManager) Option {
	return func(o *options) {
		o.spans = s
	}
}

// WithJournal sets the queue journal, overriding journal.path.
func WithJournal(s journal.Store) Option {
	return func(o *options) {
		o.journal = s
	}
}

// WithClock sets the clock that timestamps events.
func WithClock(c event.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithInterfaceRegistry sets the interface registry. The default is
// iface.Default().
func WithInterfaceRegistry(r *iface.Registry) Option {
	return func(o *options) {
		o.ifaces = r
	}
}
