// ABOUTME: Carries the verified caller identity through request handlers.
// ABOUTME: Provides WithPrincipal/FromContext over context.Context.

package auth

import (
	"context"
)

// Principal is the identity behind a verified bearer token.
type Principal struct {
	Subject string
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// SubjectFromContext returns the caller's subject, or "" when unauthenticated.
func SubjectFromContext(ctx context.Context) string {
	if p := FromContext(ctx); p != nil {
		return p.Subject
	}
	return ""
}
