package eventstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/eaf/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
)

func TestOptimisticLockingFailure(t *testing.T) {
	expected := int64(1)
	actual := int64(2)
	err := &OptimisticLockingFailure{
		TenantID:        "tenant-123",
		AggregateID:     "order-1",
		ExpectedVersion: &expected,
		ActualVersion:   &actual,
	}

	assert.Contains(t, err.Error(), "expected version 1, actual version 2")
	assert.Contains(t, err.Error(), "tenant-123")
	assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))
	assert.True(t, IsRetryable(fmt.Errorf("save: %w", err)))

	fresh := &OptimisticLockingFailure{TenantID: "t", AggregateID: "a", ActualVersion: &actual}
	assert.Contains(t, fresh.Error(), "expected version none")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     ErrorKind
		resolved bool
	}{
		{"repository error", NewRepositoryError(KindDatabase, "GetEvents", errors.New("conn refused")), KindDatabase, true},
		{"wrapped repository error", fmt.Errorf("outer: %w", NewRepositoryError(KindSerialization, "GetEvents", nil)), KindSerialization, true},
		{"locking failure", &OptimisticLockingFailure{}, KindConcurrencyConflict, true},
		{"plain error", errors.New("boom"), KindUnexpected, false},
		{"context error", context.Canceled, KindUnexpected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.resolved, ok)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(NewRepositoryError(KindDataIntegrity, "AppendEvents", errors.New("dup"))))
	assert.True(t, IsRetryable(NewRepositoryError(KindConcurrencyConflict, "AppendEvents", nil)))
	assert.True(t, IsRetryable(shared.ErrConcurrencyConflict))
}

func TestRepositoryError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewRepositoryError(KindDatabase, "SaveSnapshot", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "SaveSnapshot: database_error: disk full", err.Error())
	assert.Equal(t, "SaveSnapshot: database_error", NewRepositoryError(KindDatabase, "SaveSnapshot", nil).Error())
}

func TestAppendGroupError(t *testing.T) {
	actual := int64(0)
	err := &AppendGroupError{
		AggregateID: "order-2",
		Err:         &OptimisticLockingFailure{TenantID: "t", AggregateID: "order-2", ActualVersion: &actual},
	}

	assert.Contains(t, err.Error(), "aggregate order-2")
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindConcurrencyConflict, kind)
	assert.True(t, IsRetryable(err))

	_, ok = KindOf(&AppendGroupError{AggregateID: "a", Err: errors.New("boom")})
	assert.False(t, ok, "the group wrapper adds no kind of its own")
}
