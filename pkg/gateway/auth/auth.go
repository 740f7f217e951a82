// Package auth holds the two credential paths for attaching to an interview
// session: scoped single-session tokens and full user credentials, plus the
// gate that applies ownership policy.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the resolved identity of an authenticated caller. A scoped
// token yields a session-bound principal with no user identity.
type Principal struct {
	UserID string
	Email  string
	Name   string
	Role   string

	// SessionID is set when the principal was resolved from a scoped token.
	SessionID string
}

// Elevated reports whether the principal's role bypasses the ownership check
// on private practice sessions.
func (p *Principal) Elevated() bool {
	if p == nil {
		return false
	}
	return p.Role == "admin" || p.Role == "hr_admin"
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts a bearer token from the Authorization header.
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
