// Package models contains GORM-specific persistence models that map to the
// event store tables. The domain types in internal/domain/eventstore stay free
// of ORM tags; repositories convert at the boundary.
//
// Tables:
// - domain_events: append-only event log, unique on (tenant_id, aggregate_id, sequence_number)
// - aggregate_snapshots: one row per (tenant_id, aggregate_id)
// - tracking_tokens: one row per (processor_name, tenant_id)
package models
