package capsule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/randalmurphal/capsule/pkg/capsule/class"
	"github.com/randalmurphal/capsule/pkg/capsule/config"
	"github.com/randalmurphal/capsule/pkg/capsule/deadletter"
	"github.com/randalmurphal/capsule/pkg/capsule/event"
	"github.com/randalmurphal/capsule/pkg/capsule/iface"
	"github.com/randalmurphal/capsule/pkg/capsule/journal"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
	"github.com/randalmurphal/capsule/pkg/capsule/observability"
	"github.com/randalmurphal/capsule/pkg/capsule/queue"
)

// OutletName names the outlet the runtime posts its own events through.
const OutletName = "runtime"

// Runtime ties the registries, the event queue and their storage together.
type Runtime struct {
	settings config.Settings
	logger   *slog.Logger
	policy   object.Policy

	ifaces      *iface.Registry
	classes     *class.Registry
	queue       *queue.Queue
	outlet      *queue.Outlet
	journal     journal.Store
	deadletters *deadletter.Store

	loader  *class.WasmLoader
	scanner *class.Scanner
	watcher *class.Watcher

	closeOnce sync.Once
	closeErr  error
}

// NewLogger returns a JSON logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// New builds an independent runtime.
//
// The reference counting settings become the default policy of package
// object, so they apply to every object created afterwards. Events left in
// the journal by an earlier process are re-posted before New returns.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := options{settings: config.DefaultSettings()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.configFile != "" || o.config != nil {
		var cfg config.Config
		if o.configFile != "" {
			loaded, err := config.Load(o.configFile)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
		if o.config != nil {
			cfg = cfg.Merge(*o.config)
		}
		o.settings = config.SettingsFrom(cfg)
	}
	s := o.settings

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := o.metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
		if s.MetricsEnabled {
			metrics = observability.NewMetricsRecorder()
		}
	}
	spans := o.spans
	if spans == nil {
		spans = observability.NoopSpanManager{}
		if s.TracingEnabled {
			spans = observability.NewSpanManager()
		}
	}
	ifaces := o.ifaces
	if ifaces == nil {
		ifaces = iface.Default()
	}

	discipline := object.Atomic
	if !s.AtomicRefCounts {
		discipline = object.Unsynchronized
	}
	policy := object.Policy{
		Discipline:   discipline,
		ClampRelease: s.ClampRelease,
		Logger:       logger,
	}

	rt := &Runtime{
		settings: s,
		logger:   logger,
		ifaces:   ifaces,
		policy:   policy,
		journal:  o.journal,
		deadletters: deadletter.New(deadletter.Config{
			MaxSize:     s.DeadLetterMaxSize,
			MaxAttempts: s.DeadLetterMaxAttempts,
		}),
	}

	if rt.journal == nil && s.JournalPath != "" {
		store, err := journal.NewSQLiteStore(s.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.journal = store
	}

	qopts := []queue.Option{
		queue.WithConfig(queue.Config{
			DrainLimit:       s.DrainLimit,
			MaxDepth:         s.MaxDepth,
			FailureThreshold: s.FailureThreshold,
		}),
		queue.WithLogger(logger),
		queue.WithMetrics(metrics),
		queue.WithSpans(spans),
		queue.WithDeadLetters(rt.deadletters),
		queue.WithMiddleware(queue.Logging(logger)),
	}
	if o.clock != nil {
		qopts = append(qopts, queue.WithClock(o.clock))
	}
	if rt.journal != nil {
		qopts = append(qopts, queue.WithJournal(rt.journal))
	}
	rt.queue = queue.New(qopts...)
	rt.outlet = rt.queue.CreateOutlet(OutletName)

	rt.loader = class.NewWasmLoader(ctx, logger, class.WithInterfaces(ifaces))
	rt.scanner = class.NewScanner(s.PluginPaths, rt.loader, logger)
	rt.classes = class.New(
		class.WithDiscoverer(rt.scanner),
		class.WithLogger(logger),
		class.WithMetrics(metrics),
		class.WithPolicy(policy),
	)

	if s.PluginWatch && len(s.PluginPaths) > 0 {
		w, err := class.NewWatcher(rt.classes, rt.scanner, logger)
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("watch plugin paths: %w", err)
		}
		rt.watcher = w
	}

	n, err := rt.queue.Recover(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("recover journal: %w", err)
	}
	if n > 0 {
		logger.Info("journal recovered", slog.Int("events", n))
	}
	return rt, nil
}

// Settings returns the settings the runtime was built with.
func (rt *Runtime) Settings() config.Settings { return rt.settings }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Policy returns the reference counting policy of objects created
// through this runtime's class registry.
func (rt *Runtime) Policy() object.Policy { return rt.policy }

// Interfaces returns the interface registry.
func (rt *Runtime) Interfaces() *iface.Registry { return rt.ifaces }

// Classes returns the class registry.
func (rt *Runtime) Classes() *class.Registry { return rt.classes }

// Queue returns the event queue.
func (rt *Runtime) Queue() *queue.Queue { return rt.queue }

// Outlet returns the runtime's own outlet.
func (rt *Runtime) Outlet() *queue.Outlet { return rt.outlet }

// Journal returns the queue journal, or nil when journaling is off.
func (rt *Runtime) Journal() journal.Store { return rt.journal }

// DeadLetters returns the failed-dispatch store.
func (rt *Runtime) DeadLetters() *deadletter.Store { return rt.deadletters }

// CreateInstance is Classes().CreateInstance.
func (rt *Runtime) CreateInstance(ctx context.Context, classID string) (object.Capability, error) {
	return rt.classes.CreateInstance(ctx, classID)
}

// Replay re-posts a failed dispatch through the runtime outlet.
func (rt *Runtime) Replay(ctx context.Context, id string) error {
	return rt.deadletters.Replay(ctx, id, rt.outlet)
}

// Open tells every listener the system is up.
func (rt *Runtime) Open(ctx context.Context) error {
	return rt.outlet.ImmediateBroadcast(ctx, event.CommandSystemOpen, nil)
}

// Close broadcasts SystemClose and Quit, unloads unused classes and
// releases the journal, the watcher and the wasm runtime. Calling Close
// again returns the first result.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.closeOnce.Do(func() {
		var errs []error
		if rt.outlet != nil {
			errs = append(errs,
				rt.outlet.ImmediateBroadcast(ctx, event.CommandSystemClose, nil),
				rt.outlet.ImmediateBroadcast(ctx, event.CommandQuit, nil),
			)
		}
		if rt.classes != nil {
			if unloaded := rt.classes.UnloadUnused(ctx); len(unloaded) > 0 {
				rt.logger.Debug("classes unloaded on close", slog.Any("classes", unloaded))
			}
		}
		if rt.watcher != nil {
			errs = append(errs, rt.watcher.Close())
		}
		if rt.loader != nil {
			errs = append(errs, rt.loader.Close(ctx))
		}
		if rt.journal != nil {
			errs = append(errs, rt.journal.Close())
		}
		rt.closeErr = errors.Join(errs...)
	})
	return rt.closeErr
}
