package eventstore

import "fmt"

// GlobalSequenceTrackingToken marks a position in a tenant's global event
// stream. A token at sequence g covers every event with a global sequence <= g.
// Tokens of different tenants are never compared.
type GlobalSequenceTrackingToken struct {
	GlobalSequence int64 `json:"globalSequence"`
}

// InitialToken returns the token positioned before the first event
func InitialToken() GlobalSequenceTrackingToken {
	return GlobalSequenceTrackingToken{GlobalSequence: 0}
}

// NewTrackingToken creates a token at the given global sequence.
// Negative sequences are clamped to the initial position.
func NewTrackingToken(globalSequence int64) GlobalSequenceTrackingToken {
	if globalSequence < 0 {
		globalSequence = 0
	}
	return GlobalSequenceTrackingToken{GlobalSequence: globalSequence}
}

// IsInitial reports whether the token is before all events
func (t GlobalSequenceTrackingToken) IsInitial() bool {
	return t.GlobalSequence <= 0
}

// Compare returns -1, 0 or 1 when t is before, at or after other
func (t GlobalSequenceTrackingToken) Compare(other GlobalSequenceTrackingToken) int {
	switch {
	case t.GlobalSequence < other.GlobalSequence:
		return -1
	case t.GlobalSequence > other.GlobalSequence:
		return 1
	default:
		return 0
	}
}

// Covers reports whether every event seen by other was also seen by t
func (t GlobalSequenceTrackingToken) Covers(other GlobalSequenceTrackingToken) bool {
	return t.GlobalSequence >= other.GlobalSequence
}

// Upper returns the furthest of the two tokens
func (t GlobalSequenceTrackingToken) Upper(other GlobalSequenceTrackingToken) GlobalSequenceTrackingToken {
	if other.GlobalSequence > t.GlobalSequence {
		return other
	}
	return t
}

// Lower returns the earliest of the two tokens
func (t GlobalSequenceTrackingToken) Lower(other GlobalSequenceTrackingToken) GlobalSequenceTrackingToken {
	if other.GlobalSequence < t.GlobalSequence {
		return other
	}
	return t
}

// Advance returns a token positioned at the given global sequence, never moving backwards
func (t GlobalSequenceTrackingToken) Advance(globalSequence int64) GlobalSequenceTrackingToken {
	return t.Upper(NewTrackingToken(globalSequence))
}

func (t GlobalSequenceTrackingToken) String() string {
	return fmt.Sprintf("GlobalSequenceTrackingToken{globalSequence=%d}", t.GlobalSequence)
}
