package auth

import "context"

// Principal is the authenticated identity acting on a request.
type Principal struct {
	Subject string
	Roles   []string
}

// IsGovernance reports whether the principal may perform chain-authority
// operations.
func (p Principal) IsGovernance() bool {
	for _, r := range p.Roles {
		if r == RoleGovernance {
			return true
		}
	}
	return false
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// GovernancePredicate adapts token-derived roles to the space engine's
// authority check. The subject must match the acting authority and carry
// the governance role.
func GovernancePredicate() func(ctx context.Context, authority string) bool {
	return func(ctx context.Context, authority string) bool {
		p, ok := PrincipalFromContext(ctx)
		if !ok {
			return false
		}
		return p.Subject == authority && p.IsGovernance()
	}
}
