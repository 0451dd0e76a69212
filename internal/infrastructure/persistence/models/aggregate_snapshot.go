package models

import (
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
)

// AggregateSnapshotModel is the persistence model of the latest snapshot of an aggregate
type AggregateSnapshotModel struct {
	TenantID             string    `gorm:"column:tenant_id;type:varchar(64);primaryKey"`
	AggregateID          string    `gorm:"column:aggregate_id;type:varchar(255);primaryKey"`
	AggregateType        string    `gorm:"column:aggregate_type;type:varchar(255);not null"`
	LastSequenceNumber   int64     `gorm:"column:last_sequence_number;not null"`
	SnapshotPayloadJSONB string    `gorm:"column:snapshot_payload_jsonb;type:jsonb;not null"`
	Version              int64     `gorm:"column:version;not null;default:1"`
	TimestampUTC         time.Time `gorm:"column:timestamp_utc;not null"`
}

// TableName returns the table name for GORM
func (AggregateSnapshotModel) TableName() string {
	return "aggregate_snapshots"
}

// ToDomain converts the model to the domain snapshot
func (m *AggregateSnapshotModel) ToDomain() *domain.AggregateSnapshot {
	return &domain.AggregateSnapshot{
		AggregateID:          m.AggregateID,
		TenantID:             m.TenantID,
		AggregateType:        m.AggregateType,
		LastSequenceNumber:   m.LastSequenceNumber,
		SnapshotPayloadJSONB: m.SnapshotPayloadJSONB,
		Version:              m.Version,
		TimestampUTC:         m.TimestampUTC.UTC(),
	}
}

// AggregateSnapshotModelFromDomain converts a domain snapshot to its model
func AggregateSnapshotModelFromDomain(s domain.AggregateSnapshot) *AggregateSnapshotModel {
	version := s.Version
	if version < 1 {
		version = 1
	}
	return &AggregateSnapshotModel{
		TenantID:             s.TenantID,
		AggregateID:          s.AggregateID,
		AggregateType:        s.AggregateType,
		LastSequenceNumber:   s.LastSequenceNumber,
		SnapshotPayloadJSONB: s.SnapshotPayloadJSONB,
		Version:              version,
		TimestampUTC:         s.TimestampUTC.UTC(),
	}
}
