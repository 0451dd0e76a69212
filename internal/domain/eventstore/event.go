package eventstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PersistedEvent is the immutable stored form of one domain event.
// Payload and Metadata hold serialized JSON.
type PersistedEvent struct {
	EventID          uuid.UUID `json:"eventId" validate:"required"`
	GlobalSequenceID int64     `json:"globalSequenceId"`
	StreamID         string    `json:"streamId" validate:"required"`
	AggregateID      string    `json:"aggregateId" validate:"required,max=255"`
	AggregateType    string    `json:"aggregateType" validate:"required,max=255"`
	TenantID         string    `json:"tenantId" validate:"required,max=64"`
	SequenceNumber   int64     `json:"sequenceNumber" validate:"gte=0"`
	ExpectedVersion  *int64    `json:"expectedVersion,omitempty"`
	EventType        string    `json:"eventType" validate:"required,max=255"`
	Payload          string    `json:"payload" validate:"required"`
	Metadata         string    `json:"metadata"`
	TimestampUTC     time.Time `json:"timestampUtc"`
}

// StreamIDFor derives the stream identifier of an aggregate
func StreamIDFor(aggregateType, aggregateID string) string {
	return fmt.Sprintf("%s-%s", aggregateType, aggregateID)
}

// ExpectedVersionFor returns the version an aggregate must be at before the
// event with the given sequence number is appended. Nil means the event must
// be the first of its aggregate.
func ExpectedVersionFor(sequenceNumber int64) *int64 {
	if sequenceNumber <= 0 {
		return nil
	}
	v := sequenceNumber - 1
	return &v
}

// AggregateSnapshot is the materialized state of an aggregate at LastSequenceNumber
type AggregateSnapshot struct {
	AggregateID          string    `json:"aggregateId" validate:"required,max=255"`
	TenantID             string    `json:"tenantId" validate:"required,max=64"`
	AggregateType        string    `json:"aggregateType" validate:"required,max=255"`
	LastSequenceNumber   int64     `json:"lastSequenceNumber" validate:"gte=0"`
	SnapshotPayloadJSONB string    `json:"snapshotPayloadJsonb" validate:"required"`
	Version              int64     `json:"version"`
	TimestampUTC         time.Time `json:"timestampUtc"`
}
