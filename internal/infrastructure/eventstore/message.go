// Package eventstore implements the tenant scoped event storage engine on top
// of the event store repository port.
package eventstore

import (
	"maps"
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Metadata keys merged in by the mapper
const (
	MetadataTenantID      = "tenantId"
	MetadataSchemaVersion = "schemaVersion"
)

// MetadataCorrelationID carries the request that caused an event
const MetadataCorrelationID = "correlationId"

// Metadata is the free-form key/value map carried by every message
type Metadata map[string]any

// With returns a copy of m with key set to value
func (m Metadata) With(key string, value any) Metadata {
	out := make(Metadata, len(m)+1)
	maps.Copy(out, m)
	out[key] = value
	return out
}

// Merge returns a copy of m overlaid with other
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	maps.Copy(out, m)
	maps.Copy(out, other)
	return out
}

// String returns the value of key when it is a string
func (m Metadata) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// EventMessage is any message published on the event bus
type EventMessage interface {
	Identifier() string
	PayloadType() string
	Payload() any
	Metadata() Metadata
	Timestamp() time.Time
}

// MessageOption configures a message under construction
type MessageOption func(*GenericEventMessage)

// WithIdentifier sets the message identifier. Identifiers are UUID strings.
func WithIdentifier(id string) MessageOption {
	return func(m *GenericEventMessage) { m.identifier = id }
}

// WithTimestamp sets the message timestamp
func WithTimestamp(ts time.Time) MessageOption {
	return func(m *GenericEventMessage) { m.timestamp = ts }
}

// WithPayloadType sets the type discriminator for payloads that do not name
// themselves through shared.Event
func WithPayloadType(name string) MessageOption {
	return func(m *GenericEventMessage) { m.payloadType = name }
}

// WithMetadata sets the message metadata
func WithMetadata(md Metadata) MessageOption {
	return func(m *GenericEventMessage) { m.metadata = md }
}

// GenericEventMessage is an event message that does not belong to an aggregate
type GenericEventMessage struct {
	identifier  string
	payloadType string
	payload     any
	metadata    Metadata
	timestamp   time.Time
}

// NewGenericEventMessage creates a message for payload
func NewGenericEventMessage(payload any, opts ...MessageOption) *GenericEventMessage {
	m := newGeneric(payload, opts)
	return &m
}

func newGeneric(payload any, opts []MessageOption) GenericEventMessage {
	m := GenericEventMessage{
		identifier:  uuid.NewString(),
		payloadType: shared.EventTypeOf(payload),
		payload:     payload,
		metadata:    Metadata{},
		timestamp:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.metadata == nil {
		m.metadata = Metadata{}
	}
	return m
}

// Identifier implements EventMessage
func (m *GenericEventMessage) Identifier() string { return m.identifier }

// PayloadType implements EventMessage
func (m *GenericEventMessage) PayloadType() string { return m.payloadType }

// Payload implements EventMessage
func (m *GenericEventMessage) Payload() any { return m.payload }

// Metadata implements EventMessage
func (m *GenericEventMessage) Metadata() Metadata { return m.metadata }

// Timestamp implements EventMessage
func (m *GenericEventMessage) Timestamp() time.Time { return m.timestamp }

// DomainEventMessage is an event message raised by an aggregate
type DomainEventMessage struct {
	GenericEventMessage
	aggregateType  string
	aggregateID    string
	sequenceNumber int64
}

// NewDomainEventMessage creates the message for event number sequenceNumber of an aggregate
func NewDomainEventMessage(aggregateType, aggregateID string, sequenceNumber int64, payload any, opts ...MessageOption) *DomainEventMessage {
	return &DomainEventMessage{
		GenericEventMessage: newGeneric(payload, opts),
		aggregateType:       aggregateType,
		aggregateID:         aggregateID,
		sequenceNumber:      sequenceNumber,
	}
}

// AggregateType returns the type of the aggregate that raised the event
func (m *DomainEventMessage) AggregateType() string { return m.aggregateType }

// AggregateIdentifier returns the identifier of the aggregate that raised the event
func (m *DomainEventMessage) AggregateIdentifier() string { return m.aggregateID }

// SequenceNumber returns the zero based position of the event in its aggregate
func (m *DomainEventMessage) SequenceNumber() int64 { return m.sequenceNumber }

// TrackedEventMessage is a domain event together with its position in the tenant stream
type TrackedEventMessage struct {
	*DomainEventMessage
	token domain.GlobalSequenceTrackingToken
}

// Token returns the tracking token positioned at this event
func (m *TrackedEventMessage) Token() domain.GlobalSequenceTrackingToken { return m.token }

var (
	_ EventMessage = (*GenericEventMessage)(nil)
	_ EventMessage = (*DomainEventMessage)(nil)
	_ EventMessage = (*TrackedEventMessage)(nil)
)
