package tenancy

import (
	"fmt"
	"strings"
	"time"

	"github.com/eaf/backend/internal/domain/shared"
)

// Status is the lifecycle state of a tenant
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

const maxNameLength = 200

// Tenant is the event-sourced control-plane aggregate for a tenant
type Tenant struct {
	shared.EventSourcedAggregate
	name            string
	status          Status
	suspendedReason string
}

// Snapshot is the serialized state of a Tenant
type Snapshot struct {
	Name            string `json:"name"`
	Status          Status `json:"status"`
	SuspendedReason string `json:"suspendedReason,omitempty"`
}

// Rehydrate returns an empty tenant ready to be rebuilt from its events
func Rehydrate(id string) *Tenant {
	return &Tenant{EventSourcedAggregate: shared.NewEventSourcedAggregate(id)}
}

// NewTenant provisions a new tenant
func NewTenant(id, name string) (*Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "tenant id is required")
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	t := Rehydrate(id)
	if err := t.Raise(t, TenantCreated{
		TenantID:  id,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// AggregateType implements shared.AggregateRoot
func (t *Tenant) AggregateType() string { return AggregateType }

// Name returns the display name
func (t *Tenant) Name() string { return t.name }

// Status returns the lifecycle state
func (t *Tenant) Status() Status { return t.status }

// SuspendedReason returns why the tenant was suspended, if it is
func (t *Tenant) SuspendedReason() string { return t.suspendedReason }

// Rename changes the display name
func (t *Tenant) Rename(name, reason string) error {
	if err := validateName(name); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == t.name {
		return nil
	}
	return t.Raise(t, TenantRenamed{OldName: t.name, NewName: name, Reason: reason})
}

// Suspend suspends an active tenant
func (t *Tenant) Suspend(reason string) error {
	if t.status == StatusSuspended {
		return shared.NewDomainError("INVALID_STATE", "tenant is already suspended")
	}
	if strings.TrimSpace(reason) == "" {
		return shared.NewDomainError("INVALID_INPUT", "suspension reason is required")
	}
	return t.Raise(t, TenantSuspended{Reason: reason, SuspendedAt: time.Now().UTC()})
}

// Reactivate reactivates a suspended tenant
func (t *Tenant) Reactivate() error {
	if t.status != StatusSuspended {
		return shared.NewDomainError("INVALID_STATE", "only suspended tenants can be reactivated")
	}
	return t.Raise(t, TenantReactivated{ReactivatedAt: time.Now().UTC()})
}

// Apply implements shared.EventApplier
func (t *Tenant) Apply(event any) error {
	switch e := event.(type) {
	case TenantCreated:
		t.SetAggregateID(e.TenantID)
		t.name = e.Name
		t.status = StatusActive
	case TenantRenamed:
		t.name = e.NewName
	case TenantSuspended:
		t.status = StatusSuspended
		t.suspendedReason = e.Reason
	case TenantReactivated:
		t.status = StatusActive
		t.suspendedReason = ""
	default:
		return fmt.Errorf("tenant %s: unsupported event %T", t.AggregateID(), event)
	}
	return nil
}

// SnapshotState implements shared.Snapshotter
func (t *Tenant) SnapshotState() (any, error) {
	return Snapshot{Name: t.name, Status: t.status, SuspendedReason: t.suspendedReason}, nil
}

// RestoreSnapshot implements shared.Snapshotter
func (t *Tenant) RestoreSnapshot(state any, lastSequenceNumber int64) error {
	s, ok := state.(Snapshot)
	if !ok {
		return fmt.Errorf("tenant %s: unsupported snapshot %T", t.AggregateID(), state)
	}
	t.name = s.Name
	t.status = s.Status
	t.suspendedReason = s.SuspendedReason
	t.Replayed(lastSequenceNumber)
	return nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return shared.NewDomainError("INVALID_INPUT", "tenant name is required")
	}
	if len(name) > maxNameLength {
		return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("tenant name must be at most %d characters", maxNameLength))
	}
	return nil
}

var (
	_ shared.AggregateRoot = (*Tenant)(nil)
	_ shared.Snapshotter   = (*Tenant)(nil)
)
