/*
Package class maps class IDs to factories and manages their lifecycle.

# Registration

Classes are registered statically, in code:

	reg := class.New()
	err := reg.RegisterFactoryFunc("demo.widget", func(ctx context.Context) (object.Capability, error) {
	    return NewWidget(), nil
	})

or dynamically, from plugin descriptors found on a search path. A
descriptor is a YAML file named *.capsule.yaml:

	class: demo.ticker
	interface: demo.iTicker
	version: 1.0.0
	description: Counts frames
	dependencies: [demo.clock]
	module: ticker.wasm

The Scanner walks the search path and hands each descriptor to a Resolver,
normally a WasmLoader, which turns the module into a Factory.

# Instances

CreateInstance returns an owned reference; the caller releases it. A miss
triggers one discovery pass before NotFound is reported. The registry
counts live instances per class through weak references, so UnloadUnused
never unloads a class that still has instances or that a loaded class
depends on.

# Thread Safety

Registry is safe for concurrent use. Registration and lookups are
serialized by the underlying registry lock; discovery and unload passes
are serialized with each other.
*/
package class
