package tenancy

import "time"

// AggregateType is the aggregate type name of tenants in the event store
const AggregateType = "Tenant"

// Event type names
const (
	EventTypeTenantCreated     = "TenantCreated"
	EventTypeTenantRenamed     = "TenantRenamed"
	EventTypeTenantSuspended   = "TenantSuspended"
	EventTypeTenantReactivated = "TenantReactivated"
)

// TenantCreated is raised when a tenant is provisioned
type TenantCreated struct {
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventType implements shared.Event
func (TenantCreated) EventType() string { return EventTypeTenantCreated }

// TenantRenamed is raised when a tenant changes its display name.
// Version 1 payloads carried the new name as "name" and had no reason.
type TenantRenamed struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
	Reason  string `json:"reason"`
}

// EventType implements shared.Event
func (TenantRenamed) EventType() string { return EventTypeTenantRenamed }

// SchemaVersion implements shared.VersionedEvent
func (TenantRenamed) SchemaVersion() int { return 2 }

// TenantSuspended is raised when a tenant is suspended
type TenantSuspended struct {
	Reason      string    `json:"reason"`
	SuspendedAt time.Time `json:"suspendedAt"`
}

// EventType implements shared.Event
func (TenantSuspended) EventType() string { return EventTypeTenantSuspended }

// TenantReactivated is raised when a suspended tenant is reactivated
type TenantReactivated struct {
	ReactivatedAt time.Time `json:"reactivatedAt"`
}

// EventType implements shared.Event
func (TenantReactivated) EventType() string { return EventTypeTenantReactivated }
