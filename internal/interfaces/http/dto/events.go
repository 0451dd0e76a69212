package dto

import (
	"time"

	"github.com/eaf/backend/internal/infrastructure/eventstore"
)

// TokenResponse is a position in a tenant's global event stream
type TokenResponse struct {
	GlobalSequence int64 `json:"global_sequence"`
}

// EventResponse is one stored event
type EventResponse struct {
	EventID        string              `json:"event_id"`
	AggregateType  string              `json:"aggregate_type"`
	AggregateID    string              `json:"aggregate_id"`
	SequenceNumber int64               `json:"sequence_number"`
	GlobalSequence int64               `json:"global_sequence,omitempty"`
	EventType      string              `json:"event_type"`
	Timestamp      time.Time           `json:"timestamp"`
	Payload        any                 `json:"payload"`
	Metadata       eventstore.Metadata `json:"metadata,omitempty"`
}

// EventsAfterRequest selects the tracked events after a token
type EventsAfterRequest struct {
	After int64 `form:"after" binding:"min=0"`
}

// AggregateEventsRequest selects the events of one aggregate
type AggregateEventsRequest struct {
	From int64  `form:"from" binding:"min=0"`
	To   *int64 `form:"to" binding:"omitempty,min=0"`
}

// FromDomainEvent converts a domain event message
func FromDomainEvent(m *eventstore.DomainEventMessage) EventResponse {
	return EventResponse{
		EventID:        m.Identifier(),
		AggregateType:  m.AggregateType(),
		AggregateID:    m.AggregateIdentifier(),
		SequenceNumber: m.SequenceNumber(),
		EventType:      m.PayloadType(),
		Timestamp:      m.Timestamp(),
		Payload:        m.Payload(),
		Metadata:       m.Metadata(),
	}
}

// FromTrackedEvent converts a tracked event message
func FromTrackedEvent(m *eventstore.TrackedEventMessage) EventResponse {
	resp := FromDomainEvent(m.DomainEventMessage)
	resp.GlobalSequence = m.Token().GlobalSequence
	return resp
}
