package class

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/iface"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
)

var widgetTable = object.NewTable(iface.NewRegistry()).
	Implements("test.iWidget", iface.V(1, 0, 0), nil)

type widget struct {
	*object.Base
	kind string
}

func newWidget(kind string, teardowns *atomic.Int32) *widget {
	w := &widget{kind: kind}
	w.Base = object.New(w, widgetTable, object.WithTeardown(func() {
		if teardowns != nil {
			teardowns.Add(1)
		}
	}))
	return w
}

func widgetFactory(kind string, teardowns *atomic.Int32) FactoryFunc {
	return func(context.Context) (object.Capability, error) {
		return newWidget(kind, teardowns), nil
	}
}

type unloadingFactory struct {
	FactoryFunc
	unloads atomic.Int32
	refuse  bool
}

func (f *unloadingFactory) TryUnload(context.Context) error {
	if f.refuse {
		return errors.New("busy")
	}
	f.unloads.Add(1)
	return nil
}

type discovererFunc func(ctx context.Context, r *Registry) error

func (f discovererFunc) Discover(ctx context.Context, r *Registry) error { return f(ctx, r) }

func TestRegisterClass_Validation(t *testing.T) {
	r := New()

	err := r.RegisterClass("", widgetFactory("a", nil), "")
	assert.ErrorIs(t, err, cerrors.ErrInvalidArgument)

	err = r.RegisterClass("a", nil, "")
	assert.ErrorIs(t, err, cerrors.ErrInvalidArgument)

	err = r.RegisterFactoryFunc("a", nil)
	assert.ErrorIs(t, err, cerrors.ErrInvalidArgument)

	assert.Equal(t, 0, r.Len())
}

func TestRegisterClass_LastWriteWins(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.RegisterFactoryFunc("demo.widget", widgetFactory("first", nil)))
	require.NoError(t, r.RegisterClass("demo.widget", widgetFactory("second", nil), "replacement"))
	assert.Equal(t, 1, r.Len())

	obj, err := r.CreateInstance(ctx, "demo.widget")
	require.NoError(t, err)
	defer obj.Release()
	assert.Equal(t, "second", obj.(*widget).kind)

	info, ok := r.Describe("demo.widget")
	require.True(t, ok)
	assert.Equal(t, "replacement", info.Description)
	assert.Equal(t, StaticContext, info.Context)
}

func TestCreateInstance_WidgetFactoryLifecycle(t *testing.T) {
	r := New()
	ctx := context.Background()
	var teardowns atomic.Int32
	require.NoError(t, r.RegisterFactoryFunc("widget.factory", widgetFactory("w", &teardowns)))

	obj, err := r.CreateInstance(ctx, "widget.factory")
	require.NoError(t, err)
	assert.Equal(t, int32(1), obj.RefCount())

	info, _ := r.Describe("widget.factory")
	assert.True(t, info.Loaded)
	assert.Equal(t, int64(1), info.Uses)

	obj.AddRef()
	obj.Release()
	assert.True(t, obj.Alive())
	assert.Equal(t, int32(0), teardowns.Load())

	obj.Release()
	assert.False(t, obj.Alive())
	assert.Equal(t, int32(1), teardowns.Load())

	info, _ = r.Describe("widget.factory")
	assert.Equal(t, int64(0), info.Uses)
	assert.True(t, info.Loaded)
}

func TestCreateInstance_Errors(t *testing.T) {
	r := New()
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, r.RegisterFactoryFunc("fails", func(context.Context) (object.Capability, error) {
		return nil, boom
	}))
	require.NoError(t, r.RegisterFactoryFunc("empty", func(context.Context) (object.Capability, error) {
		return nil, nil
	}))
	require.NoError(t, r.RegisterClass("needy", widgetFactory("n", nil), "", "missing.dep"))

	tests := []struct {
		name  string
		id    string
		kind  error
		cause error
	}{
		{name: "unknown class", id: "nope", kind: cerrors.ErrNotFound},
		{name: "factory error", id: "fails", kind: cerrors.ErrConstructionFailed, cause: boom},
		{name: "nil instance", id: "empty", kind: cerrors.ErrConstructionFailed, cause: errNilInstance},
		{name: "missing dependency", id: "needy", kind: cerrors.ErrConstructionFailed, cause: cerrors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := r.CreateInstance(ctx, tt.id)
			assert.Nil(t, obj)
			assert.ErrorIs(t, err, tt.kind)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}

	info, _ := r.Describe("fails")
	assert.False(t, info.Loaded)
}

func TestCreateInstance_LazyDiscovery(t *testing.T) {
	var passes atomic.Int32
	r := New(WithDiscoverer(discovererFunc(func(_ context.Context, r *Registry) error {
		passes.Add(1)
		return r.RegisterFactoryFunc("late.widget", widgetFactory("late", nil))
	})))
	ctx := context.Background()

	obj, err := r.CreateInstance(ctx, "late.widget")
	require.NoError(t, err)
	obj.Release()
	assert.Equal(t, int32(1), passes.Load())

	obj, err = r.CreateInstance(ctx, "late.widget")
	require.NoError(t, err)
	obj.Release()
	assert.Equal(t, int32(1), passes.Load(), "hit needs no discovery")

	_, err = r.CreateInstance(ctx, "never.widget")
	assert.ErrorIs(t, err, cerrors.ErrNotFound)
	assert.Equal(t, int32(2), passes.Load(), "one pass per miss")
}

func TestCreateInstance_DiscoveryErrorStillReportsNotFound(t *testing.T) {
	r := New(WithDiscoverer(discovererFunc(func(context.Context, *Registry) error {
		return errors.New("disk on fire")
	})))

	_, err := r.CreateInstance(context.Background(), "x")
	assert.ErrorIs(t, err, cerrors.ErrNotFound)
}

func TestUnloadUnused(t *testing.T) {
	r := New()
	ctx := context.Background()

	base := &unloadingFactory{FactoryFunc: widgetFactory("base", nil)}
	app := &unloadingFactory{FactoryFunc: widgetFactory("app", nil)}
	sticky := &unloadingFactory{FactoryFunc: widgetFactory("sticky", nil), refuse: true}
	idle := &unloadingFactory{FactoryFunc: widgetFactory("idle", nil)}

	require.NoError(t, r.RegisterClass("a.base", base, ""))
	require.NoError(t, r.RegisterClass("b.app", app, "", "a.base"))
	require.NoError(t, r.RegisterClass("c.sticky", sticky, ""))
	require.NoError(t, r.RegisterClass("d.idle", idle, ""))

	baseObj, err := r.CreateInstance(ctx, "a.base")
	require.NoError(t, err)
	appObj, err := r.CreateInstance(ctx, "b.app")
	require.NoError(t, err)
	stickyObj, err := r.CreateInstance(ctx, "c.sticky")
	require.NoError(t, err)

	assert.Empty(t, r.UnloadUnused(ctx), "every loaded class has live instances")

	baseObj.Release()
	assert.Empty(t, r.UnloadUnused(ctx), "a.base is required by loaded b.app")

	appObj.Release()
	stickyObj.Release()
	unloaded := r.UnloadUnused(ctx)
	assert.ElementsMatch(t, []string{"a.base", "b.app"}, unloaded)
	assert.Equal(t, int32(1), base.unloads.Load())
	assert.Equal(t, int32(1), app.unloads.Load())
	assert.Equal(t, int32(0), idle.unloads.Load(), "never loaded")

	info, _ := r.Describe("c.sticky")
	assert.True(t, info.Loaded, "factory refused")

	info, _ = r.Describe("a.base")
	assert.False(t, info.Loaded)

	obj, err := r.CreateInstance(ctx, "a.base")
	require.NoError(t, err)
	defer obj.Release()
	info, _ = r.Describe("a.base")
	assert.True(t, info.Loaded)
}

// gatedFactory blocks construction until gate is closed. entered receives
// a value when a construction starts waiting.
type gatedFactory struct {
	unloadingFactory
	entered chan struct{}
	gate    chan struct{}
}

func (f *gatedFactory) CreateInstance(ctx context.Context) (object.Capability, error) {
	f.entered <- struct{}{}
	<-f.gate
	return f.FactoryFunc(ctx)
}

func TestUnloadUnused_SkipsClassUnderConstruction(t *testing.T) {
	r := New()
	ctx := context.Background()
	f := &gatedFactory{
		unloadingFactory: unloadingFactory{FactoryFunc: widgetFactory("w", nil)},
		entered:          make(chan struct{}, 2),
		gate:             make(chan struct{}),
	}
	require.NoError(t, r.RegisterClass("w", f, ""))

	// Load the class once so it is a candidate for unloading.
	close(f.gate)
	first, err := r.CreateInstance(ctx, "w")
	require.NoError(t, err)
	<-f.entered
	first.Release()

	f.gate = make(chan struct{})
	type result struct {
		obj object.Capability
		err error
	}
	done := make(chan result, 1)
	go func() {
		obj, err := r.CreateInstance(ctx, "w")
		done <- result{obj, err}
	}()
	<-f.entered

	assert.Empty(t, r.UnloadUnused(ctx))
	assert.Equal(t, int32(0), f.unloads.Load())

	close(f.gate)
	res := <-done
	require.NoError(t, res.err)
	defer res.obj.Release()

	info, _ := r.Describe("w")
	assert.True(t, info.Loaded)
	assert.Equal(t, int64(1), info.Uses)
	assert.Empty(t, r.UnloadUnused(ctx), "live instance keeps the class loaded")
}

func TestRegisterClass_ReplacementUnloadsIdleFactory(t *testing.T) {
	r := New()
	ctx := context.Background()

	idle := &unloadingFactory{FactoryFunc: widgetFactory("idle", nil)}
	require.NoError(t, r.RegisterClass("demo.idle", idle, ""))
	obj, err := r.CreateInstance(ctx, "demo.idle")
	require.NoError(t, err)
	obj.Release()

	require.NoError(t, r.RegisterFactoryFunc("demo.idle", widgetFactory("next", nil)))
	assert.Equal(t, int32(1), idle.unloads.Load())

	busy := &unloadingFactory{FactoryFunc: widgetFactory("busy", nil)}
	require.NoError(t, r.RegisterClass("demo.busy", busy, ""))
	live, err := r.CreateInstance(ctx, "demo.busy")
	require.NoError(t, err)
	defer live.Release()

	require.NoError(t, r.RegisterFactoryFunc("demo.busy", widgetFactory("next", nil)))
	assert.Equal(t, int32(0), busy.unloads.Load(), "live instance keeps the replaced factory")

	never := &unloadingFactory{FactoryFunc: widgetFactory("never", nil)}
	require.NoError(t, r.RegisterClass("demo.never", never, ""))
	require.NoError(t, r.RegisterFactoryFunc("demo.never", widgetFactory("next", nil)))
	assert.Equal(t, int32(0), never.unloads.Load(), "never loaded")
}

func TestQueryClassList(t *testing.T) {
	r := New()
	for _, id := range []string{"gfx.render", "gfx.shader", "net.socket", "gfxold"} {
		require.NoError(t, r.RegisterFactoryFunc(id, widgetFactory(id, nil)))
	}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"", []string{"gfx.render", "gfx.shader", "gfxold", "net.socket"}},
		{"gfx.", []string{"gfx.render", "gfx.shader"}},
		{"gfx*", []string{"gfx.render", "gfx.shader", "gfxold"}},
		{"*.s*", []string{"gfx.shader", "net.socket"}},
		{"net.socke?", []string{"net.socket"}},
		{"audio", nil},
		{"[", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, slices.Collect(r.QueryClassList(tt.pattern)))
		})
	}
}

func TestQueryClassList_Restartable(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterFactoryFunc("a", widgetFactory("a", nil)))

	seq := r.QueryClassList("")
	assert.Equal(t, []string{"a"}, slices.Collect(seq))

	require.NoError(t, r.RegisterFactoryFunc("b", widgetFactory("b", nil)))
	assert.Equal(t, []string{"a", "b"}, slices.Collect(seq))

	for id := range seq {
		assert.Equal(t, "a", id)
		break
	}
}

func TestUnregisterAndDescribe(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterDescriptor(Descriptor{
		Class:        "demo.ticker",
		Interface:    "demo.iTicker",
		Version:      iface.V(1, 2, 0),
		Description:  "ticks",
		Dependencies: []string{"demo.clock"},
	}, widgetFactory("t", nil)))

	info, ok := r.Describe("demo.ticker")
	require.True(t, ok)
	assert.Equal(t, Info{
		ClassID:      "demo.ticker",
		Description:  "ticks",
		Dependencies: []string{"demo.clock"},
		Interface:    "demo.iTicker",
		Version:      iface.V(1, 2, 0),
		Context:      StaticContext,
	}, info)

	assert.True(t, r.Unregister("demo.ticker"))
	assert.False(t, r.Unregister("demo.ticker"))
	_, ok = r.Describe("demo.ticker")
	assert.False(t, ok)
}
