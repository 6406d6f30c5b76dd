// Package capsule is a component runtime: reference-counted capability
// objects discovered by interface name and version, a class registry that
// loads plugins on demand, and a prioritized event bus.
//
// # Quick Start
//
// Build an independent runtime, register a class and create an instance:
//
//	rt, err := capsule.New(ctx, capsule.WithConfigFile("capsule.yaml"))
//	if err != nil {
//	    return err
//	}
//	defer rt.Close(ctx)
//
//	err = rt.Classes().RegisterFactoryFunc("demo.widget", newWidget)
//	obj, err := rt.CreateInstance(ctx, "demo.widget")
//	defer obj.Release()
//
// Programs that want one runtime per process use Init and Shutdown:
//
//	rt, err := capsule.Init(ctx)
//	defer capsule.Shutdown(ctx)
//
// # Events
//
// Producers post through an outlet; consumers register handlers on the
// queue. Process drains what was posted:
//
//	rt.Queue().Register(queue.HandlerFunc(onKey), event.MaskKeyboard, queue.WithPriority(10))
//	rt.Outlet().Key('a', 'a', 0, true)
//	n, err := rt.Queue().Process(ctx)
//
// # Subpackages
//
//   - object: capability objects, interface tables, weak references
//   - iface: interface IDs and versions
//   - class: class registry, plugin descriptors, wasm loader, watcher
//   - event: events, typed attributes, binary codec
//   - queue: queue, listeners, cords, outlets
//   - journal: durable record of undispatched events
//   - deadletter: failed dispatches, merged and parked
//   - config: configuration files and typed settings
//   - observability: logging helpers, metrics, tracing
//   - errors: error taxonomy and retry helpers
package capsule
