package capsule

import (
	"context"
	"sync"

	"github.com/randalmurphal/capsule/pkg/capsule/object"
)

var (
	globalMu     sync.Mutex
	global       *Runtime
	globalPolicy object.Policy // default policy before Init
)

// Init builds the process-wide runtime and broadcasts SystemOpen. When a
// runtime is already initialized it is returned unchanged and opts are
// ignored.
//
// The runtime's policy also becomes object.DefaultPolicy until Shutdown,
// so objects built outside a factory follow the process settings.
// Runtimes made with New never touch the default.
func Init(ctx context.Context, opts ...Option) (*Runtime, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return global, nil
	}

	rt, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := rt.Open(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	globalPolicy = object.DefaultPolicy()
	object.SetDefaultPolicy(rt.Policy())
	global = rt
	return rt, nil
}

// Default returns the process-wide runtime, or nil before Init.
func Default() *Runtime {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// Shutdown closes the process-wide runtime. It is a no-op before Init.
func Shutdown(ctx context.Context) error {
	globalMu.Lock()
	rt := global
	global = nil
	if rt != nil {
		object.SetDefaultPolicy(globalPolicy)
	}
	globalMu.Unlock()

	if rt == nil {
		return nil
	}
	return rt.Close(ctx)
}
