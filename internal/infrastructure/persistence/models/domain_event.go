package models

import (
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/google/uuid"
)

// DomainEventModel is the persistence model of one row of the event log
type DomainEventModel struct {
	GlobalSequenceID int64     `gorm:"column:global_sequence_id;primaryKey;autoIncrement"`
	EventID          uuid.UUID `gorm:"column:event_id;type:uuid;not null;uniqueIndex:uq_domain_events_event_id"`
	StreamID         string    `gorm:"column:stream_id;type:varchar(512);not null;index:idx_domain_events_stream"`
	AggregateID      string    `gorm:"column:aggregate_id;type:varchar(255);not null;uniqueIndex:uq_domain_events_tenant_aggregate_seq,priority:2"`
	AggregateType    string    `gorm:"column:aggregate_type;type:varchar(255);not null"`
	TenantID         string    `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:uq_domain_events_tenant_aggregate_seq,priority:1;index:idx_domain_events_tenant_global,priority:1"`
	SequenceNumber   int64     `gorm:"column:sequence_number;not null;uniqueIndex:uq_domain_events_tenant_aggregate_seq,priority:3"`
	ExpectedVersion  *int64    `gorm:"column:expected_version"`
	EventType        string    `gorm:"column:event_type;type:varchar(255);not null"`
	Payload          string    `gorm:"column:payload;type:jsonb;not null"`
	Metadata         string    `gorm:"column:metadata;type:jsonb;not null"`
	TimestampUTC     time.Time `gorm:"column:timestamp_utc;not null;index:idx_domain_events_timestamp"`
}

// TableName returns the table name for GORM
func (DomainEventModel) TableName() string {
	return "domain_events"
}

// ToDomain converts the model to the stored event
func (m *DomainEventModel) ToDomain() domain.PersistedEvent {
	return domain.PersistedEvent{
		EventID:          m.EventID,
		GlobalSequenceID: m.GlobalSequenceID,
		StreamID:         m.StreamID,
		AggregateID:      m.AggregateID,
		AggregateType:    m.AggregateType,
		TenantID:         m.TenantID,
		SequenceNumber:   m.SequenceNumber,
		ExpectedVersion:  m.ExpectedVersion,
		EventType:        m.EventType,
		Payload:          m.Payload,
		Metadata:         m.Metadata,
		TimestampUTC:     m.TimestampUTC.UTC(),
	}
}

// DomainEventModelFromDomain converts a stored event to its model.
// The global sequence is left zero so that the database assigns it.
func DomainEventModelFromDomain(e domain.PersistedEvent) *DomainEventModel {
	metadata := e.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	return &DomainEventModel{
		EventID:         e.EventID,
		StreamID:        e.StreamID,
		AggregateID:     e.AggregateID,
		AggregateType:   e.AggregateType,
		TenantID:        e.TenantID,
		SequenceNumber:  e.SequenceNumber,
		ExpectedVersion: e.ExpectedVersion,
		EventType:       e.EventType,
		Payload:         e.Payload,
		Metadata:        metadata,
		TimestampUTC:    e.TimestampUTC.UTC(),
	}
}

// DomainEventModelsToDomain converts a slice of models
func DomainEventModelsToDomain(rows []DomainEventModel) []domain.PersistedEvent {
	events := make([]domain.PersistedEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].ToDomain()
	}
	return events
}
