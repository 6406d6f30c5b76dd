package class

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"path"
	"strings"
	"sync"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
	"github.com/randalmurphal/capsule/pkg/capsule/observability"
	"github.com/randalmurphal/capsule/pkg/capsule/registry"
)

var errNilInstance = errors.New("factory returned no object")

// Discoverer finds classes that are not registered yet and registers them.
type Discoverer interface {
	Discover(ctx context.Context, r *Registry) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithDiscoverer sets the discoverer consulted on CreateInstance misses.
func WithDiscoverer(d Discoverer) Option {
	return func(r *Registry) {
		r.discoverer = d
	}
}

// WithLogger sets the logger. Nil keeps the discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithPolicy makes every factory call see p through
// object.PolicyFromContext.
func WithPolicy(p object.Policy) Option {
	return func(r *Registry) {
		r.policy = &p
	}
}

// Registry holds class records by ID.
type Registry struct {
	records    *registry.Registry[string, *Record]
	discoverer Discoverer
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	policy     *object.Policy

	// passMu serializes discovery and unload passes.
	passMu sync.Mutex
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		records: registry.New[string, *Record](),
		logger:  slog.New(slog.DiscardHandler),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetDiscoverer replaces the discoverer.
func (r *Registry) SetDiscoverer(d Discoverer) {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	r.discoverer = d
}

// RegisterClass adds or replaces the class id. The last registration wins.
func (r *Registry) RegisterClass(id string, factory Factory, description string, deps ...string) error {
	return r.register(&Record{
		ClassID:      id,
		Factory:      factory,
		Description:  description,
		Dependencies: deps,
		Context:      StaticContext,
	})
}

// RegisterFactoryFunc registers fn as a static class with no metadata.
func (r *Registry) RegisterFactoryFunc(id string, fn FactoryFunc) error {
	if fn == nil {
		return cerrors.InvalidArgument("class.register", "nil factory")
	}
	return r.RegisterClass(id, fn, "")
}

// RegisterDescriptor registers a plugin class described by d.
func (r *Registry) RegisterDescriptor(d Descriptor, factory Factory) error {
	if err := d.Validate(); err != nil {
		return err
	}
	ctx := d.Module
	if ctx == "" {
		ctx = StaticContext
	}
	return r.register(&Record{
		ClassID:      d.Class,
		Factory:      factory,
		Description:  d.Description,
		Dependencies: d.Dependencies,
		Interface:    d.Interface,
		Version:      d.Version,
		Context:      ctx,
	})
}

func (r *Registry) register(rec *Record) error {
	if rec.ClassID == "" {
		return cerrors.InvalidArgument("class.register", "empty class id")
	}
	if rec.Factory == nil {
		return cerrors.New("class.register", cerrors.KindInvalidArgument).
			Subject(rec.ClassID).Detail("nil factory").Build()
	}
	old, replaced := r.records.Swap(rec.ClassID, rec)
	if replaced {
		r.logger.Debug("class replaced", slog.String("class_id", rec.ClassID))
		r.retire(old)
	}
	return nil
}

// retire unloads the factory of a replaced record once nothing uses it.
// A replaced class with live instances keeps its factory loaded; the
// instances hold what they need.
func (r *Registry) retire(old *Record) {
	old.gate.Lock()
	defer old.gate.Unlock()
	if !old.Loaded() || old.busy() {
		return
	}
	if err := old.Factory.TryUnload(context.Background()); err != nil {
		r.logger.Debug("replaced class kept loaded",
			slog.String("class_id", old.ClassID),
			slog.String("error", err.Error()),
		)
		return
	}
	old.loaded.Store(false)
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	return r.records.Has(id)
}

// Unregister removes id and reports whether it was registered. Live
// instances are unaffected.
func (r *Registry) Unregister(id string) bool {
	return r.records.Delete(id)
}

// Describe returns a snapshot of the record for id.
func (r *Registry) Describe(id string) (Info, bool) {
	rec, ok := r.records.Get(id)
	if !ok {
		return Info{}, false
	}
	return rec.info(), true
}

// Len returns the number of registered classes.
func (r *Registry) Len() int {
	return r.records.Len()
}

// Discover runs one discovery pass.
func (r *Registry) Discover(ctx context.Context) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	if r.discoverer == nil {
		return nil
	}
	return r.discoverer.Discover(ctx, r)
}

func (r *Registry) discoverWith(ctx context.Context, d Discoverer) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	return d.Discover(ctx, r)
}

// CreateInstance creates an instance of id. The caller owns the returned
// reference.
//
// An unknown id triggers one discovery pass. Errors are NotFound for an
// unknown class and ConstructionFailed when the factory fails or a
// dependency is not registered.
func (r *Registry) CreateInstance(ctx context.Context, id string) (object.Capability, error) {
	const op = "class.create"

	rec, ok := r.records.Get(id)
	if !ok {
		if err := r.Discover(ctx); err != nil {
			r.logger.Warn("discovery failed",
				slog.String("class_id", id),
				slog.String("error", err.Error()),
			)
		}
		rec, ok = r.records.Get(id)
	}
	if !ok {
		return nil, cerrors.NotFound(op, id)
	}

	for _, dep := range rec.Dependencies {
		if !r.records.Has(dep) {
			return nil, cerrors.ConstructionFailed(op, id, cerrors.NotFound(op, dep))
		}
	}

	fctx := ctx
	if r.policy != nil {
		fctx = object.ContextWithPolicy(ctx, *r.policy)
	}
	rec.begin()
	defer rec.end()
	obj, err := rec.Factory.CreateInstance(fctx)
	if err != nil {
		return nil, cerrors.ConstructionFailed(op, id, err)
	}
	if obj == nil {
		return nil, cerrors.ConstructionFailed(op, id, errNilInstance)
	}

	rec.loaded.Store(true)
	uses := rec.uses.Add(1)
	object.NewWeak(obj, func() { rec.uses.Add(-1) })

	observability.LogInstanceCreated(r.logger, id, rec.Context, uses)
	r.metrics.RecordInstance(ctx, id)
	return obj, nil
}

// UnloadUnused unloads every loaded class that has no live instances and
// none under construction, is not a dependency of another loaded class and
// whose factory agrees to unload. It returns the unloaded IDs.
//
// Passes repeat until nothing changes, so a chain of unused classes is
// unloaded from the dependents down.
func (r *Registry) UnloadUnused(ctx context.Context) []string {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var unloaded []string
	for {
		progress := false
		for id, rec := range r.records.All() {
			if !r.tryUnload(ctx, id, rec) {
				continue
			}
			unloaded = append(unloaded, id)
			progress = true

			observability.LogUnload(r.logger, id)
			r.metrics.RecordUnload(ctx, id)
		}
		if !progress {
			return unloaded
		}
	}
}

// tryUnload unloads rec unless it is in use. Holding the record's gate
// keeps new constructions from starting until TryUnload has returned.
func (r *Registry) tryUnload(ctx context.Context, id string, rec *Record) bool {
	rec.gate.Lock()
	defer rec.gate.Unlock()
	if !rec.Loaded() || rec.busy() || r.required(id) {
		return false
	}
	if err := rec.Factory.TryUnload(ctx); err != nil {
		r.logger.Debug("class kept loaded",
			slog.String("class_id", id),
			slog.String("error", err.Error()),
		)
		return false
	}
	rec.loaded.Store(false)
	return true
}

// required reports whether a class other than id that is loaded or being
// built depends on it.
func (r *Registry) required(id string) bool {
	for other, rec := range r.records.All() {
		if other != id && (rec.Loaded() || rec.building.Load() > 0) && rec.dependsOn(id) {
			return true
		}
	}
	return false
}

// QueryClassList yields the registered class IDs matching pattern, in
// sorted order. Each iteration reads the registry afresh.
//
// A pattern with glob metacharacters is matched with path.Match; any other
// pattern is a prefix. The empty pattern matches every class.
func (r *Registry) QueryClassList(pattern string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, id := range r.records.Keys() {
			if matchClass(pattern, id) && !yield(id) {
				return
			}
		}
	}
}

func matchClass(pattern, id string) bool {
	if pattern == "" {
		return true
	}
	if !strings.ContainsAny(pattern, `*?[\`) {
		return strings.HasPrefix(id, pattern)
	}
	ok, err := path.Match(pattern, id)
	return err == nil && ok
}
