package event

import "github.com/eaf/backend/internal/domain/tenancy"

// RegisterAllEvents registers every domain event and snapshot type with the registry
func RegisterAllEvents(r *Registry) {
	up := CommonUpgraders{}

	MustRegister[tenancy.TenantCreated](r, tenancy.EventTypeTenantCreated)
	MustRegister[tenancy.TenantRenamed](r, tenancy.EventTypeTenantRenamed,
		WithUpgraders(up.Chain(1,
			up.RenameField(1, "name", "newName"),
			up.AddField(1, "reason", ""),
		)),
	)
	MustRegister[tenancy.TenantSuspended](r, tenancy.EventTypeTenantSuspended)
	MustRegister[tenancy.TenantReactivated](r, tenancy.EventTypeTenantReactivated)

	RegisterSnapshot[tenancy.Snapshot](r, tenancy.AggregateType)
}
