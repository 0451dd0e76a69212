package eventstore

import (
	"iter"

	domain "github.com/eaf/backend/internal/domain/eventstore"
)

// DomainEventStream is a finite, ordered stream of the events of one
// aggregate. It can be consumed once.
type DomainEventStream struct {
	messages []*DomainEventMessage
	next     int
	current  *DomainEventMessage
}

// NewDomainEventStream creates a stream over messages
func NewDomainEventStream(messages []*DomainEventMessage) *DomainEventStream {
	return &DomainEventStream{messages: messages}
}

// Next advances to the next message, reporting false when the stream is exhausted
func (s *DomainEventStream) Next() bool {
	if s.next >= len(s.messages) {
		s.current = nil
		return false
	}
	s.current = s.messages[s.next]
	s.next++
	return true
}

// Message returns the message Next advanced to
func (s *DomainEventStream) Message() *DomainEventMessage {
	return s.current
}

// Peek returns the message Next would advance to without consuming it
func (s *DomainEventStream) Peek() (*DomainEventMessage, bool) {
	if s.next >= len(s.messages) {
		return nil, false
	}
	return s.messages[s.next], true
}

// LastSequenceNumber returns the sequence number of the last consumed message
func (s *DomainEventStream) LastSequenceNumber() (int64, bool) {
	if s.next == 0 {
		return 0, false
	}
	return s.messages[s.next-1].SequenceNumber(), true
}

// Remaining returns the number of messages not consumed yet
func (s *DomainEventStream) Remaining() int {
	return len(s.messages) - s.next
}

// All consumes the remaining messages
func (s *DomainEventStream) All() iter.Seq[*DomainEventMessage] {
	return func(yield func(*DomainEventMessage) bool) {
		for s.Next() {
			if !yield(s.current) {
				return
			}
		}
	}
}

// TrackingEventStream is the result of one bounded tracking read. Token
// reports the position of the last consumed message, or the starting token
// before any message was consumed.
type TrackingEventStream struct {
	messages []*TrackedEventMessage
	next     int
	current  *TrackedEventMessage
	token    domain.GlobalSequenceTrackingToken
	closed   bool
}

// NewTrackingEventStream creates a stream starting at token
func NewTrackingEventStream(token domain.GlobalSequenceTrackingToken, messages []*TrackedEventMessage) *TrackingEventStream {
	return &TrackingEventStream{messages: messages, token: token}
}

// Next advances to the next message, reporting false when the stream is exhausted or closed
func (s *TrackingEventStream) Next() bool {
	if s.closed || s.next >= len(s.messages) {
		s.current = nil
		return false
	}
	s.current = s.messages[s.next]
	s.next++
	s.token = s.token.Upper(s.current.Token())
	return true
}

// Message returns the message Next advanced to
func (s *TrackingEventStream) Message() *TrackedEventMessage {
	return s.current
}

// Peek returns the message Next would advance to without consuming it
func (s *TrackingEventStream) Peek() (*TrackedEventMessage, bool) {
	if s.closed || s.next >= len(s.messages) {
		return nil, false
	}
	return s.messages[s.next], true
}

// Token returns the position of the last consumed message
func (s *TrackingEventStream) Token() domain.GlobalSequenceTrackingToken {
	return s.token
}

// Len returns the number of messages the read returned
func (s *TrackingEventStream) Len() int {
	return len(s.messages)
}

// Close releases the stream. Subsequent calls to Next report false.
func (s *TrackingEventStream) Close() error {
	s.closed = true
	s.messages = nil
	return nil
}

// All consumes the remaining messages
func (s *TrackingEventStream) All() iter.Seq[*TrackedEventMessage] {
	return func(yield func(*TrackedEventMessage) bool) {
		for s.Next() {
			if !yield(s.current) {
				return
			}
		}
	}
}
