package eventsourcing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/domain/tenancy"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"github.com/eaf/backend/internal/infrastructure/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEventStore is a mock implementation of EventStore
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) AppendEvents(ctx context.Context, messages ...eventstore.EventMessage) error {
	args := m.Called(ctx, messages)
	return args.Error(0)
}

func (m *MockEventStore) ReadEvents(ctx context.Context, aggregateID string, first int64) (*eventstore.DomainEventStream, error) {
	args := m.Called(ctx, aggregateID, first)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eventstore.DomainEventStream), args.Error(1)
}

func (m *MockEventStore) StoreSnapshot(ctx context.Context, msg *eventstore.DomainEventMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockEventStore) ReadSnapshot(ctx context.Context, aggregateID string) (*eventstore.DomainEventMessage, bool) {
	args := m.Called(ctx, aggregateID)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*eventstore.DomainEventMessage), args.Bool(1)
}

func streamOf(msgs ...*eventstore.DomainEventMessage) *eventstore.DomainEventStream {
	return eventstore.NewDomainEventStream(msgs)
}

func createdAt(id string, seq int64) *eventstore.DomainEventMessage {
	return eventstore.NewDomainEventMessage(tenancy.AggregateType, id, seq,
		tenancy.TenantCreated{TenantID: id, Name: "Acme", CreatedAt: time.Now().UTC()})
}

func renamedAt(id string, seq int64, name string) *eventstore.DomainEventMessage {
	return eventstore.NewDomainEventMessage(tenancy.AggregateType, id, seq, tenancy.TenantRenamed{NewName: name})
}

func ctxFor(t *testing.T) context.Context {
	t.Helper()
	return tenant.MustWithTenantID(context.Background(), "tenant-1")
}

func TestRepository_Load(t *testing.T) {
	t.Run("replays every event without snapshots", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		store.On("ReadEvents", ctx, "t1", int64(0)).
			Return(streamOf(createdAt("t1", 0), renamedAt("t1", 1, "Acme Two")), nil)

		repo := NewRepository(store, tenancy.Rehydrate)
		got, err := repo.Load(ctx, "t1")

		require.NoError(t, err)
		assert.Equal(t, "Acme Two", got.Name())
		assert.Equal(t, int64(1), got.Version())
		assert.Empty(t, got.PendingEvents())
		store.AssertNotCalled(t, "ReadSnapshot", mock.Anything, mock.Anything)
	})

	t.Run("starts after the snapshot", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		snap := eventstore.NewDomainEventMessage(tenancy.AggregateType, "t1", 4,
			tenancy.Snapshot{Name: "Snapshotted", Status: tenancy.StatusSuspended, SuspendedReason: "billing"})
		store.On("ReadSnapshot", ctx, "t1").Return(snap, true)
		store.On("ReadEvents", ctx, "t1", int64(5)).Return(streamOf(renamedAt("t1", 5, "After")), nil)

		repo := NewRepository(store, tenancy.Rehydrate, WithSnapshotThreshold(10))
		got, err := repo.Load(ctx, "t1")

		require.NoError(t, err)
		assert.Equal(t, "After", got.Name())
		assert.Equal(t, tenancy.StatusSuspended, got.Status())
		assert.Equal(t, int64(5), got.Version())
		store.AssertExpectations(t)
	})

	t.Run("unusable snapshot falls back to a full replay", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		store.On("ReadSnapshot", ctx, "t1").
			Return(eventstore.NewDomainEventMessage(tenancy.AggregateType, "t1", 4, "not a snapshot"), true)
		store.On("ReadEvents", ctx, "t1", int64(0)).Return(streamOf(createdAt("t1", 0)), nil)

		repo := NewRepository(store, tenancy.Rehydrate, WithSnapshotThreshold(10))
		got, err := repo.Load(ctx, "t1")

		require.NoError(t, err)
		assert.Equal(t, "Acme", got.Name())
		assert.Equal(t, int64(0), got.Version())
	})

	t.Run("no events is not found", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		store.On("ReadEvents", ctx, "t1", int64(0)).Return(streamOf(), nil)

		_, err := NewRepository(store, tenancy.Rehydrate).Load(ctx, "t1")

		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("read errors surface unchanged", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		readErr := errors.New("db down")
		store.On("ReadEvents", ctx, "t1", int64(0)).Return(nil, readErr)

		_, err := NewRepository(store, tenancy.Rehydrate).Load(ctx, "t1")

		assert.Same(t, readErr, err)
	})

	t.Run("unknown event fails the replay", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		store.On("ReadEvents", ctx, "t1", int64(0)).Return(streamOf(
			createdAt("t1", 0),
			eventstore.NewDomainEventMessage(tenancy.AggregateType, "t1", 1, struct{}{}),
		), nil)

		_, err := NewRepository(store, tenancy.Rehydrate).Load(ctx, "t1")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "replaying Tenant t1 at 1")
	})
}

func TestRepository_Save(t *testing.T) {
	t.Run("numbers pending events after the version", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := logger.WithRequestID(ctxFor(t), "req-42")

		agg, err := tenancy.NewTenant("t1", "Acme")
		require.NoError(t, err)
		require.NoError(t, agg.Rename("Acme Two", "typo"))

		var appended []eventstore.EventMessage
		store.On("AppendEvents", ctx, mock.Anything).Run(func(args mock.Arguments) {
			appended = args.Get(1).([]eventstore.EventMessage)
		}).Return(nil)

		require.NoError(t, NewRepository(store, tenancy.Rehydrate).Save(ctx, agg))

		require.Len(t, appended, 2)
		for i, msg := range appended {
			dm := msg.(*eventstore.DomainEventMessage)
			assert.Equal(t, int64(i), dm.SequenceNumber())
			assert.Equal(t, "t1", dm.AggregateIdentifier())
			assert.Equal(t, tenancy.AggregateType, dm.AggregateType())
			assert.Equal(t, "req-42", dm.Metadata()[eventstore.MetadataCorrelationID])
		}
		assert.Equal(t, int64(1), agg.Version())
		assert.Empty(t, agg.PendingEvents())
	})

	t.Run("nothing pending appends nothing", func(t *testing.T) {
		store := new(MockEventStore)
		agg := tenancy.Rehydrate("t1")

		require.NoError(t, NewRepository(store, tenancy.Rehydrate).Save(ctxFor(t), agg))
		store.AssertNotCalled(t, "AppendEvents", mock.Anything, mock.Anything)
	})

	t.Run("conflict keeps the pending events", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		store.On("AppendEvents", ctx, mock.Anything).Return(shared.ErrConcurrencyConflict)

		agg, err := tenancy.NewTenant("t1", "Acme")
		require.NoError(t, err)

		err = NewRepository(store, tenancy.Rehydrate).Save(ctx, agg)

		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.Len(t, agg.PendingEvents(), 1)
		assert.Equal(t, shared.NoVersion, agg.Version())
	})

	t.Run("snapshot when a save crosses the threshold", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		store.On("AppendEvents", ctx, mock.Anything).Return(nil)
		store.On("StoreSnapshot", ctx, mock.Anything).Return(errors.New("snapshot table locked"))
		repo := NewRepository(store, tenancy.Rehydrate, WithSnapshotThreshold(2))

		agg, err := tenancy.NewTenant("t1", "Acme")
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, agg))
		store.AssertNotCalled(t, "StoreSnapshot", mock.Anything, mock.Anything)

		require.NoError(t, agg.Rename("Acme Two", ""))
		require.NoError(t, repo.Save(ctx, agg), "snapshot failures do not fail the save")

		store.AssertNumberOfCalls(t, "StoreSnapshot", 1)
		snap := store.Calls[len(store.Calls)-1].Arguments.Get(1).(*eventstore.DomainEventMessage)
		assert.Equal(t, int64(1), snap.SequenceNumber())
		assert.Equal(t, tenancy.Snapshot{Name: "Acme Two", Status: tenancy.StatusActive}, snap.Payload())
	})
}

func TestRepository_Update(t *testing.T) {
	t.Run("retries conflicts with a fresh load", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		store.On("ReadEvents", ctx, "t1", int64(0)).Return(streamOf(createdAt("t1", 0)), nil).Once()
		store.On("ReadEvents", ctx, "t1", int64(0)).Return(streamOf(createdAt("t1", 0), renamedAt("t1", 1, "Other")), nil).Once()
		store.On("AppendEvents", ctx, mock.Anything).Return(shared.ErrConcurrencyConflict).Once()
		store.On("AppendEvents", ctx, mock.Anything).Return(nil).Once()

		repo := NewRepository(store, tenancy.Rehydrate)
		got, err := repo.Update(ctx, "t1", func(agg *tenancy.Tenant) error {
			return agg.Suspend("billing")
		})

		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version())
		assert.Equal(t, "Other", got.Name())
		store.AssertExpectations(t)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		for range 2 {
			store.On("ReadEvents", ctx, "t1", int64(0)).Return(streamOf(createdAt("t1", 0)), nil).Once()
		}
		store.On("AppendEvents", ctx, mock.Anything).Return(shared.ErrConcurrencyConflict)

		repo := NewRepository(store, tenancy.Rehydrate, WithMaxAttempts(2))
		_, err := repo.Update(ctx, "t1", func(agg *tenancy.Tenant) error { return agg.Rename("New", "") })

		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		store.AssertNumberOfCalls(t, "AppendEvents", 2)
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		store := new(MockEventStore)
		ctx := ctxFor(t)
		store.On("ReadEvents", ctx, "t1", int64(0)).Return(streamOf(createdAt("t1", 0)), nil).Once()

		repo := NewRepository(store, tenancy.Rehydrate)
		_, err := repo.Update(ctx, "t1", func(agg *tenancy.Tenant) error { return agg.Reactivate() })

		assert.ErrorIs(t, err, shared.ErrInvalidState)
		store.AssertNotCalled(t, "AppendEvents", mock.Anything, mock.Anything)
	})
}
