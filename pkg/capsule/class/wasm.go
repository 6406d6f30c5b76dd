package class

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/iface"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
)

// ModuleInterface is answered by every instance created by a WasmLoader.
const ModuleInterface = "capsule.iWasmModule"

// ModuleInterfaceVersion is the version of ModuleInterface.
var ModuleInterfaceVersion = iface.V(1, 0, 0)

// WasmLoader resolves descriptors whose module is a .wasm file.
// Thread-safe.
type WasmLoader struct {
	runtime wazero.Runtime
	owned   bool
	ifaces  *iface.Registry
	logger  *slog.Logger
}

// LoaderOption configures a WasmLoader.
type LoaderOption func(*WasmLoader)

// WithInterfaces sets the interface registry that module instances declare
// their interfaces in. The default is iface.Default().
func WithInterfaces(r *iface.Registry) LoaderOption {
	return func(l *WasmLoader) {
		if r != nil {
			l.ifaces = r
		}
	}
}

// NewWasmLoader creates a loader with its own wazero runtime. Close
// releases it.
func NewWasmLoader(ctx context.Context, logger *slog.Logger, opts ...LoaderOption) *WasmLoader {
	l := NewWasmLoaderWithRuntime(wazero.NewRuntime(ctx), logger, opts...)
	l.owned = true
	return l
}

// NewWasmLoaderWithRuntime creates a loader on an existing runtime. Close
// does not close rt.
func NewWasmLoaderWithRuntime(rt wazero.Runtime, logger *slog.Logger, opts ...LoaderOption) *WasmLoader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &WasmLoader{runtime: rt, ifaces: iface.Default(), logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Runtime returns the wazero runtime.
func (l *WasmLoader) Runtime() wazero.Runtime {
	return l.runtime
}

// Resolve returns a factory for d. Nothing is read or compiled until the
// first instance is created.
func (l *WasmLoader) Resolve(_ context.Context, d Descriptor) (Factory, error) {
	if !strings.EqualFold(filepath.Ext(d.Module), ".wasm") {
		return nil, cerrors.New("class.resolve", cerrors.KindInvalidArgument).
			Subject(d.Class).Detail("unsupported module %q", d.Module).Build()
	}

	table := object.NewTable(l.ifaces).Implements(ModuleInterface, ModuleInterfaceVersion, nil)
	if d.Interface != "" {
		table.Implements(d.Interface, d.Version, nil)
	}
	return &wasmFactory{loader: l, desc: d, table: table}, nil
}

// Close closes the runtime if the loader created it.
func (l *WasmLoader) Close(ctx context.Context) error {
	if !l.owned {
		return nil
	}
	return l.runtime.Close(ctx)
}

type wasmFactory struct {
	loader *WasmLoader
	desc   Descriptor
	table  *object.Table

	mu       sync.Mutex
	compiled wazero.CompiledModule
}

func (f *wasmFactory) compile(ctx context.Context) (wazero.CompiledModule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.compiled != nil {
		return f.compiled, nil
	}

	bin, err := os.ReadFile(f.desc.Module)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	compiled, err := f.loader.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	f.loader.logger.Debug("module compiled",
		slog.String("class_id", f.desc.Class),
		slog.String("module", f.desc.Module),
	)
	f.compiled = compiled
	return compiled, nil
}

func (f *wasmFactory) CreateInstance(ctx context.Context) (object.Capability, error) {
	compiled, err := f.compile(ctx)
	if err != nil {
		return nil, err
	}
	mod, err := f.loader.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	return newModuleInstance(ctx, f.desc.Class, mod, f.table), nil
}

func (f *wasmFactory) TryUnload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.compiled == nil {
		return nil
	}
	err := f.compiled.Close(ctx)
	f.compiled = nil
	return err
}

// ModuleInstance is an instantiated wasm module viewed as a capability
// object. Destroying it closes the module.
type ModuleInstance struct {
	*object.Base
	class  string
	module api.Module
}

func newModuleInstance(ctx context.Context, class string, mod api.Module, table *object.Table) *ModuleInstance {
	m := &ModuleInstance{class: class, module: mod}
	m.Base = object.New(m, table, object.WithContextPolicy(ctx), object.WithTeardown(func() {
		_ = mod.Close(context.Background())
	}))
	return m
}

// Class returns the class the instance was created from.
func (m *ModuleInstance) Class() string { return m.class }

// Module returns the underlying wazero module.
func (m *ModuleInstance) Module() api.Module { return m.module }

// Call invokes an exported function.
func (m *ModuleInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := m.module.ExportedFunction(name)
	if fn == nil {
		return nil, cerrors.NotFound("class.call", name)
	}
	return fn.Call(ctx, params...)
}
