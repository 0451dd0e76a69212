package models

import "time"

// TrackingTokenModel stores the position of a tracking processor in a tenant's stream
type TrackingTokenModel struct {
	ProcessorName  string    `gorm:"column:processor_name;type:varchar(255);primaryKey"`
	TenantID       string    `gorm:"column:tenant_id;type:varchar(64);primaryKey"`
	GlobalSequence int64     `gorm:"column:global_sequence;not null;default:0"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the table name for GORM
func (TrackingTokenModel) TableName() string {
	return "tracking_tokens"
}

// EventStoreModels lists the models of the event store schema, for AutoMigrate in tests
func EventStoreModels() []any {
	return []any{&DomainEventModel{}, &AggregateSnapshotModel{}, &TrackingTokenModel{}}
}
