package tenant

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Group runs concurrent subtasks that inherit the tenant bound at the
// moment the group was created.
//
// Each child receives a context derived from the group context carrying the
// captured tenant, so a child never depends on what the spawning goroutine
// binds afterwards.
type Group struct {
	eg       *errgroup.Group
	ctx      context.Context
	tenantID string
}

// NewGroup creates a group capturing the tenant of ctx. It fails with
// ErrNoTenant when ctx carries no tenant.
func NewGroup(ctx context.Context) (*Group, context.Context, error) {
	id, err := Require(ctx)
	if err != nil {
		return nil, ctx, err
	}
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: gctx, tenantID: id}, gctx, nil
}

// TenantID returns the tenant captured by the group
func (g *Group) TenantID() string {
	return g.tenantID
}

// SetLimit bounds the number of concurrently running children
func (g *Group) SetLimit(n int) {
	g.eg.SetLimit(n)
}

// Go starts fn in a new goroutine with a context bound to the captured tenant.
// A panic in fn is returned from Wait as an error.
func (g *Group) Go(fn func(ctx context.Context) error) {
	child := MustWithTenantID(g.ctx, g.tenantID)
	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tenant %s: task panicked: %v", g.tenantID, r)
			}
		}()
		return fn(child)
	})
}

// Wait blocks until all children finished and returns the first error
func (g *Group) Wait() error {
	return g.eg.Wait()
}
