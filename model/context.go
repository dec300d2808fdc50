package model

import (
	"context"
	"errors"
	"slices"
	"time"
)

// RequestContext is the signed-in operator behind a request, built once from
// the verified token and read-only afterwards.
type RequestContext struct {
	SubjectID string
	Email     string
	Roles     []string
	// TokenID is the jti of the bearer token; logout revokes it.
	TokenID   string
	ExpiresAt time.Time

	CorrelationID string
	TraceID       string
}

// Validate reports a token that names no operator.
func (rc *RequestContext) Validate() error {
	if rc.SubjectID == "" {
		return errors.New("request context: subject is required")
	}
	return nil
}

// HasRole reports whether the operator holds role.
func (rc *RequestContext) HasRole(role string) bool {
	return slices.Contains(rc.Roles, role)
}

type contextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom returns the operator of ctx, or nil outside the
// authenticated routes.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
