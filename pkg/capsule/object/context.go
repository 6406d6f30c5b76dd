package object

import "context"

type policyKey struct{}

// ContextWithPolicy returns a context carrying p. The class registry hands
// such a context to factories so that objects built for one runtime follow
// that runtime's policy.
func ContextWithPolicy(ctx context.Context, p Policy) context.Context {
	return context.WithValue(ctx, policyKey{}, p)
}

// PolicyFromContext returns the policy carried by ctx, or DefaultPolicy.
func PolicyFromContext(ctx context.Context) Policy {
	if p, ok := ctx.Value(policyKey{}).(Policy); ok {
		return p
	}
	return DefaultPolicy()
}

// WithContextPolicy applies the policy carried by ctx. Factories pass it
// to New:
//
//	obj := object.New(w, table, object.WithContextPolicy(ctx))
func WithContextPolicy(ctx context.Context) Option {
	return WithPolicy(PolicyFromContext(ctx))
}
