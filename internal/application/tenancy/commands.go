package tenancy

import (
	"context"
	"fmt"

	"github.com/eaf/backend/internal/application/command"
	"github.com/eaf/backend/internal/application/eventsourcing"
	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/domain/tenancy"
)

// Command names
const (
	CommandCreateTenant     = "tenancy.CreateTenant"
	CommandRenameTenant     = "tenancy.RenameTenant"
	CommandSuspendTenant    = "tenancy.SuspendTenant"
	CommandReactivateTenant = "tenancy.ReactivateTenant"
)

// CreateTenant provisions a tenant
type CreateTenant struct {
	TenantID string `json:"tenantId" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
}

// RenameTenant changes the display name of a tenant
type RenameTenant struct {
	TenantID string `json:"tenantId" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
	Reason   string `json:"reason"`
}

// SuspendTenant suspends an active tenant
type SuspendTenant struct {
	TenantID string `json:"tenantId" validate:"required,max=64"`
	Reason   string `json:"reason" validate:"required"`
}

// ReactivateTenant reactivates a suspended tenant
type ReactivateTenant struct {
	TenantID string `json:"tenantId" validate:"required,max=64"`
}

// TenantResponse is the state of a tenant after a command
type TenantResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	SuspendedReason string `json:"suspendedReason,omitempty"`
	Version         int64  `json:"version"`
}

func toResponse(t *tenancy.Tenant) *TenantResponse {
	return &TenantResponse{
		ID:              t.AggregateID(),
		Name:            t.Name(),
		Status:          string(t.Status()),
		SuspendedReason: t.SuspendedReason(),
		Version:         t.Version(),
	}
}

// Handlers handles the tenant commands through an aggregate repository
type Handlers struct {
	repo *eventsourcing.Repository[*tenancy.Tenant]
}

// NewHandlers creates the tenant command handlers
func NewHandlers(repo *eventsourcing.Repository[*tenancy.Tenant]) *Handlers {
	return &Handlers{repo: repo}
}

// Register registers every tenant command on g
func (h *Handlers) Register(g *command.Gateway) error {
	for name, handler := range map[string]command.Handler{
		CommandCreateTenant:     command.Typed(h.Create),
		CommandRenameTenant:     command.Typed(h.Rename),
		CommandSuspendTenant:    command.Typed(h.Suspend),
		CommandReactivateTenant: command.Typed(h.Reactivate),
	} {
		if err := g.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// Create handles CreateTenant. Creating an existing tenant fails with shared.ErrAlreadyExists.
func (h *Handlers) Create(ctx context.Context, cmd CreateTenant) (any, error) {
	t, err := tenancy.NewTenant(cmd.TenantID, cmd.Name)
	if err != nil {
		return nil, err
	}
	if err := h.repo.Save(ctx, t); err != nil {
		if domain.IsRetryable(err) {
			return nil, shared.NewDomainError(shared.ErrAlreadyExists.Code,
				fmt.Sprintf("tenant %s already exists", cmd.TenantID))
		}
		return nil, err
	}
	return toResponse(t), nil
}

// Rename handles RenameTenant
func (h *Handlers) Rename(ctx context.Context, cmd RenameTenant) (any, error) {
	return h.update(ctx, cmd.TenantID, func(t *tenancy.Tenant) error { return t.Rename(cmd.Name, cmd.Reason) })
}

// Suspend handles SuspendTenant
func (h *Handlers) Suspend(ctx context.Context, cmd SuspendTenant) (any, error) {
	return h.update(ctx, cmd.TenantID, func(t *tenancy.Tenant) error { return t.Suspend(cmd.Reason) })
}

// Reactivate handles ReactivateTenant
func (h *Handlers) Reactivate(ctx context.Context, cmd ReactivateTenant) (any, error) {
	return h.update(ctx, cmd.TenantID, (*tenancy.Tenant).Reactivate)
}

func (h *Handlers) update(ctx context.Context, id string, fn func(*tenancy.Tenant) error) (any, error) {
	t, err := h.repo.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	return toResponse(t), nil
}
