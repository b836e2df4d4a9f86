// Package scope carries the resolved tenant scope through request contexts.
// Resolution happens once, in the session middleware; handlers and services
// only ever see the value.
package scope

import (
	"context"

	"github.com/aristath/fundfolio/internal/domain"
)

type contextKey struct{}

// WithScope returns a context carrying the tenant scope.
func WithScope(ctx context.Context, s domain.TenantScope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the tenant scope resolved for the request. Requests
// that never passed the middleware run in the global scope.
func FromContext(ctx context.Context) domain.TenantScope {
	if s, ok := ctx.Value(contextKey{}).(domain.TenantScope); ok {
		return s
	}
	return domain.GlobalScope()
}
