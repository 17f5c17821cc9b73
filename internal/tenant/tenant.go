// Package tenant carries the active business id through one request or one
// webhook dispatch. The value lives on the context.Context of that unit of
// work, so concurrent requests for different businesses never see each
// other's tenant.
package tenant

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"
)

type contextKey struct{}

var businessIDKey contextKey

// ErrNoTenant is returned when a tenant-scoped operation runs without a
// business id established for the current context. Callers must treat this
// as a contract violation, never fall back to a guessed tenant.
var ErrNoTenant = errors.New("tenant: no business id in context")

// WithBusinessID returns a context carrying the given business id.
func WithBusinessID(ctx context.Context, businessID uint) context.Context {
	return context.WithValue(ctx, businessIDKey, businessID)
}

// BusinessID returns the business id established for this context, or
// ErrNoTenant if none was set.
func BusinessID(ctx context.Context) (uint, error) {
	id, ok := ctx.Value(businessIDKey).(uint)
	if !ok || id == 0 {
		return 0, ErrNoTenant
	}
	return id, nil
}

// FromEcho returns the business id bound to an HTTP request by the auth
// middleware.
func FromEcho(c echo.Context) (uint, error) {
	return BusinessID(c.Request().Context())
}
