package eventstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobalSequenceTrackingToken_Ordering(t *testing.T) {
	t.Run("initial token is before everything", func(t *testing.T) {
		initial := InitialToken()
		assert.True(t, initial.IsInitial())
		assert.Equal(t, -1, initial.Compare(NewTrackingToken(1)))
		assert.False(t, initial.Covers(NewTrackingToken(1)))
	})

	t.Run("compare is total", func(t *testing.T) {
		a := NewTrackingToken(5)
		b := NewTrackingToken(7)
		assert.Equal(t, -1, a.Compare(b))
		assert.Equal(t, 1, b.Compare(a))
		assert.Equal(t, 0, a.Compare(NewTrackingToken(5)))
		assert.True(t, b.Covers(a))
		assert.True(t, a.Covers(a))
	})

	t.Run("upper and lower", func(t *testing.T) {
		a := NewTrackingToken(3)
		b := NewTrackingToken(9)
		assert.Equal(t, b, a.Upper(b))
		assert.Equal(t, b, b.Upper(a))
		assert.Equal(t, a, b.Lower(a))
	})

	t.Run("advance never moves backwards", func(t *testing.T) {
		tok := NewTrackingToken(10)
		assert.Equal(t, int64(12), tok.Advance(12).GlobalSequence)
		assert.Equal(t, int64(10), tok.Advance(4).GlobalSequence)
	})

	t.Run("negative sequence clamps to initial", func(t *testing.T) {
		assert.True(t, NewTrackingToken(-3).IsInitial())
		assert.Equal(t, int64(0), NewTrackingToken(-3).GlobalSequence)
	})
}

func TestExpectedVersionFor(t *testing.T) {
	assert.Nil(t, ExpectedVersionFor(0))
	v := ExpectedVersionFor(3)
	if assert.NotNil(t, v) {
		assert.Equal(t, int64(2), *v)
	}
}

func TestStreamIDFor(t *testing.T) {
	assert.Equal(t, "Tenant-abc", StreamIDFor("Tenant", "abc"))
}
