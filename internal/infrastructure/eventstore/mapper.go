package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/google/uuid"
)

// PayloadCodec serializes event payloads and snapshot state by their type discriminator
type PayloadCodec interface {
	Encode(eventType string, payload any) (data []byte, schemaVersion int, err error)
	Decode(eventType string, data []byte, schemaVersion int) (any, error)
	EncodeSnapshot(aggregateType string, state any) ([]byte, error)
	DecodeSnapshot(aggregateType string, data []byte) (any, error)
}

// SerializationError reports a payload or metadata that could not be
// converted between its message and stored forms
type SerializationError struct {
	Op        string
	EventType string
	Err       error
}

func (e *SerializationError) Error() string {
	if e.EventType == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.EventType, e.Err)
}

// Unwrap returns the underlying cause
func (e *SerializationError) Unwrap() error { return e.Err }

// ErrorKind implements domain.Classified
func (e *SerializationError) ErrorKind() domain.ErrorKind { return domain.KindSerialization }

// Mapper translates between domain event messages and their persisted form
type Mapper struct {
	codec PayloadCodec
}

// NewMapper creates a mapper using codec for payloads
func NewMapper(codec PayloadCodec) *Mapper {
	return &Mapper{codec: codec}
}

// ToPersistedEvent converts a domain event message into its stored form
// for tenantID. The tenant and schema version are merged into the metadata.
func (m *Mapper) ToPersistedEvent(msg *DomainEventMessage, tenantID string) (domain.PersistedEvent, error) {
	const op = "map to persisted event"
	if msg.PayloadType() == "" {
		return domain.PersistedEvent{}, &SerializationError{Op: op, Err: fmt.Errorf("payload %T has no event type", msg.Payload())}
	}

	eventID, err := uuid.Parse(msg.Identifier())
	if err != nil {
		return domain.PersistedEvent{}, &SerializationError{Op: op, EventType: msg.PayloadType(), Err: fmt.Errorf("invalid event identifier: %w", err)}
	}

	payload, version, err := m.codec.Encode(msg.PayloadType(), msg.Payload())
	if err != nil {
		return domain.PersistedEvent{}, &SerializationError{Op: op, EventType: msg.PayloadType(), Err: err}
	}

	metadata, err := json.Marshal(msg.Metadata().Merge(Metadata{
		MetadataTenantID:      tenantID,
		MetadataSchemaVersion: version,
	}))
	if err != nil {
		return domain.PersistedEvent{}, &SerializationError{Op: op, EventType: msg.PayloadType(), Err: fmt.Errorf("metadata: %w", err)}
	}

	return domain.PersistedEvent{
		EventID:         eventID,
		StreamID:        domain.StreamIDFor(msg.AggregateType(), msg.AggregateIdentifier()),
		AggregateID:     msg.AggregateIdentifier(),
		AggregateType:   msg.AggregateType(),
		TenantID:        tenantID,
		SequenceNumber:  msg.SequenceNumber(),
		ExpectedVersion: domain.ExpectedVersionFor(msg.SequenceNumber()),
		EventType:       msg.PayloadType(),
		Payload:         string(payload),
		Metadata:        string(metadata),
		TimestampUTC:    msg.Timestamp().UTC(),
	}, nil
}

// ToDomainEvent converts a stored event back into a domain event message.
// Payloads written with an older schema version are upgraded by the codec.
func (m *Mapper) ToDomainEvent(e domain.PersistedEvent) (*DomainEventMessage, error) {
	const op = "map to domain event"
	metadata, err := decodeMetadata(e.Metadata)
	if err != nil {
		return nil, &SerializationError{Op: op, EventType: e.EventType, Err: err}
	}

	payload, err := m.codec.Decode(e.EventType, []byte(e.Payload), schemaVersionOf(metadata))
	if err != nil {
		return nil, &SerializationError{Op: op, EventType: e.EventType, Err: err}
	}

	return NewDomainEventMessage(e.AggregateType, e.AggregateID, e.SequenceNumber, payload,
		WithIdentifier(e.EventID.String()),
		WithPayloadType(e.EventType),
		WithMetadata(metadata),
		WithTimestamp(e.TimestampUTC.UTC()),
	), nil
}

// ToTrackedEvent converts a stored event into a message positioned at its global sequence
func (m *Mapper) ToTrackedEvent(e domain.PersistedEvent) (*TrackedEventMessage, error) {
	msg, err := m.ToDomainEvent(e)
	if err != nil {
		return nil, err
	}
	return &TrackedEventMessage{
		DomainEventMessage: msg,
		token:              domain.NewTrackingToken(e.GlobalSequenceID),
	}, nil
}

// ToAggregateSnapshot converts a snapshot message, whose payload is the
// aggregate state, into its stored form
func (m *Mapper) ToAggregateSnapshot(msg *DomainEventMessage, tenantID string) (domain.AggregateSnapshot, error) {
	data, err := m.codec.EncodeSnapshot(msg.AggregateType(), msg.Payload())
	if err != nil {
		return domain.AggregateSnapshot{}, &SerializationError{Op: "map to aggregate snapshot", EventType: msg.AggregateType(), Err: err}
	}
	return domain.AggregateSnapshot{
		AggregateID:          msg.AggregateIdentifier(),
		TenantID:             tenantID,
		AggregateType:        msg.AggregateType(),
		LastSequenceNumber:   msg.SequenceNumber(),
		SnapshotPayloadJSONB: string(data),
		TimestampUTC:         msg.Timestamp().UTC(),
	}, nil
}

// SnapshotToDomainEvent converts a stored snapshot into a snapshot message
// positioned at the last sequence number it reflects
func (m *Mapper) SnapshotToDomainEvent(s domain.AggregateSnapshot) (*DomainEventMessage, error) {
	state, err := m.codec.DecodeSnapshot(s.AggregateType, []byte(s.SnapshotPayloadJSONB))
	if err != nil {
		return nil, &SerializationError{Op: "map snapshot to domain event", EventType: s.AggregateType, Err: err}
	}
	return NewDomainEventMessage(s.AggregateType, s.AggregateID, s.LastSequenceNumber, state,
		WithPayloadType(s.AggregateType),
		WithMetadata(Metadata{MetadataTenantID: s.TenantID}),
		WithTimestamp(s.TimestampUTC.UTC()),
	), nil
}

func decodeMetadata(raw string) (Metadata, error) {
	md := Metadata{}
	if raw == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if md == nil {
		md = Metadata{}
	}
	return md, nil
}

// schemaVersionOf reads the stored schema version, 1 when absent
func schemaVersionOf(md Metadata) int {
	switch v := md[MetadataSchemaVersion].(type) {
	case float64:
		if v >= 1 && v <= math.MaxInt32 {
			return int(v)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n >= 1 {
			return int(n)
		}
	case int:
		if v >= 1 {
			return v
		}
	}
	return 1
}

// IsSerializationError reports whether err was caused by payload (de)serialization
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}
