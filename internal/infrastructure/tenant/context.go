// Package tenant binds the active tenant identifier to a context.Context.
//
// The binding travels with the context value and never through shared
// mutable state, so a concurrently running unit of work only sees the tenant
// of the context it was started with.
package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/infrastructure/logger"
)

var (
	// ErrBlankTenantID is returned when binding an empty or whitespace tenant ID
	ErrBlankTenantID = errors.New("tenant: tenant id must not be blank")

	// ErrNoTenant is returned when an operation requires a tenant and none is bound.
	// It matches shared.ErrTenantRequired with errors.Is.
	ErrNoTenant = shared.NewDomainError("TENANT_REQUIRED", "no tenant bound to context")
)

// WithTenantID returns a child context bound to id
func WithTenantID(ctx context.Context, id string) (context.Context, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx, ErrBlankTenantID
	}
	return context.WithValue(ctx, logger.TenantIDKey, id), nil
}

// MustWithTenantID is WithTenantID for identifiers known to be valid, such as test fixtures
func MustWithTenantID(ctx context.Context, id string) context.Context {
	ctx, err := WithTenantID(ctx, id)
	if err != nil {
		panic(err)
	}
	return ctx
}

// TenantID returns the tenant bound to ctx
func TenantID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(logger.TenantIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Require returns the bound tenant or ErrNoTenant
func Require(ctx context.Context) (string, error) {
	id, ok := TenantID(ctx)
	if !ok {
		return "", ErrNoTenant
	}
	return id, nil
}

// Clear returns a child context with no tenant bound.
// The parent context keeps its own binding.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, logger.TenantIDKey, "")
}

// Execute runs fn with a context bound to id. The caller's ctx is never
// modified, so any outer binding is in effect again once fn returns, panics
// or observes cancellation.
func Execute(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	scoped, err := WithTenantID(ctx, id)
	if err != nil {
		return err
	}
	return fn(scoped)
}

// ExecuteValue is Execute for functions returning a value
func ExecuteValue[T any](ctx context.Context, id string, fn func(ctx context.Context) (T, error)) (T, error) {
	scoped, err := WithTenantID(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(scoped)
}
