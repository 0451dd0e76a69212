package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// One connection keeps the in-memory database alive and serializes transactions
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.EventStoreModels()...))
	require.NoError(t, NewTenantGuard(EventStoreTables()...).Register(db))
	return db
}

func newEvents(tenantID, aggregateID string, n int) []domain.PersistedEvent {
	events := make([]domain.PersistedEvent, n)
	for i := range events {
		events[i] = domain.PersistedEvent{
			EventID:       uuid.New(),
			AggregateID:   aggregateID,
			AggregateType: "Order",
			TenantID:      tenantID,
			EventType:     "OrderLineAdded",
			Payload:       fmt.Sprintf(`{"line":%d}`, i),
			Metadata:      fmt.Sprintf(`{"tenantId":%q}`, tenantID),
			TimestampUTC:  time.Now().UTC(),
		}
	}
	return events
}

func version(v int64) *int64 {
	return &v
}

func TestGormEventStoreRepository_AppendAndRead(t *testing.T) {
	ctx := context.Background()

	t.Run("versions grow by the number of appended events", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))

		var expected *int64
		total := 0
		for _, k := range []int{1, 3, 2} {
			require.NoError(t, repo.AppendEvents(ctx, newEvents("tenant-123", "order-1", k), "tenant-123", "order-1", expected))
			total += k
			expected = version(int64(total - 1))
		}

		current, err := repo.GetCurrentVersion(ctx, "tenant-123", "order-1")
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Equal(t, int64(total-1), *current)

		events, err := repo.GetEvents(ctx, "tenant-123", "order-1", 0)
		require.NoError(t, err)
		require.Len(t, events, total)
		for i, e := range events {
			assert.Equal(t, int64(i), e.SequenceNumber)
			assert.Equal(t, "Order-order-1", e.StreamID)
			if i > 0 {
				assert.Greater(t, e.GlobalSequenceID, events[i-1].GlobalSequenceID)
				require.NotNil(t, e.ExpectedVersion)
				assert.Equal(t, int64(i-1), *e.ExpectedVersion)
			} else {
				assert.Nil(t, e.ExpectedVersion)
			}
		}
	})

	t.Run("new aggregate has no version", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))

		current, err := repo.GetCurrentVersion(ctx, "tenant-123", "missing")
		require.NoError(t, err)
		assert.Nil(t, current)
	})

	t.Run("reads from a sequence number", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		require.NoError(t, repo.AppendEvents(ctx, newEvents("t1", "a1", 5), "t1", "a1", nil))

		events, err := repo.GetEvents(ctx, "t1", "a1", 3)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(3), events[0].SequenceNumber)
		assert.Equal(t, int64(4), events[1].SequenceNumber)
	})

	t.Run("range is inclusive on both ends", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		require.NoError(t, repo.AppendEvents(ctx, newEvents("t1", "a1", 6), "t1", "a1", nil))

		events, err := repo.GetEventsInRange(ctx, "t1", "a1", 1, 3)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(1), events[0].SequenceNumber)
		assert.Equal(t, int64(3), events[2].SequenceNumber)

		empty, err := repo.GetEventsInRange(ctx, "t1", "a1", 4, 2)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("payload and metadata survive storage", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		in := newEvents("t1", "a1", 1)
		require.NoError(t, repo.AppendEvents(ctx, in, "t1", "a1", nil))

		out, err := repo.GetEvents(ctx, "t1", "a1", 0)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, in[0].EventID, out[0].EventID)
		assert.Equal(t, in[0].EventType, out[0].EventType)
		assert.JSONEq(t, in[0].Payload, out[0].Payload)
		assert.JSONEq(t, in[0].Metadata, out[0].Metadata)
		assert.WithinDuration(t, in[0].TimestampUTC, out[0].TimestampUTC, time.Millisecond)
	})
}

func TestGormEventStoreRepository_OptimisticLocking(t *testing.T) {
	ctx := context.Background()

	t.Run("stale expected version is rejected with the actual version", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		require.NoError(t, repo.AppendEvents(ctx, newEvents("tenant-123", "order-1", 2), "tenant-123", "order-1", nil))

		err := repo.AppendEvents(ctx, newEvents("tenant-123", "order-1", 1), "tenant-123", "order-1", version(0))
		require.Error(t, err)

		var conflict *domain.OptimisticLockingFailure
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, "tenant-123", conflict.TenantID)
		assert.Equal(t, "order-1", conflict.AggregateID)
		assert.Equal(t, int64(0), *conflict.ExpectedVersion)
		assert.Equal(t, int64(1), *conflict.ActualVersion)
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("appending a first event to an existing aggregate conflicts", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		require.NoError(t, repo.AppendEvents(ctx, newEvents("t1", "a1", 1), "t1", "a1", nil))

		err := repo.AppendEvents(ctx, newEvents("t1", "a1", 1), "t1", "a1", nil)

		var conflict *domain.OptimisticLockingFailure
		require.True(t, errors.As(err, &conflict))
		assert.Nil(t, conflict.ExpectedVersion)
		assert.Equal(t, int64(0), *conflict.ActualVersion)
	})

	t.Run("expecting a version of a new aggregate conflicts", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))

		err := repo.AppendEvents(ctx, newEvents("t1", "a1", 1), "t1", "a1", version(3))

		var conflict *domain.OptimisticLockingFailure
		require.True(t, errors.As(err, &conflict))
		assert.Nil(t, conflict.ActualVersion)
	})

	t.Run("a rejected batch writes nothing", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		require.NoError(t, repo.AppendEvents(ctx, newEvents("t1", "a1", 1), "t1", "a1", nil))

		require.Error(t, repo.AppendEvents(ctx, newEvents("t1", "a1", 4), "t1", "a1", version(7)))

		events, err := repo.GetEvents(ctx, "t1", "a1", 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("exactly one concurrent writer wins", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		require.NoError(t, repo.AppendEvents(ctx, newEvents("tenant-123", "order-1", 2), "tenant-123", "order-1", nil))

		const writers = 5
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := range writers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = repo.AppendEvents(ctx, newEvents("tenant-123", "order-1", 1), "tenant-123", "order-1", version(1))
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			var conflict *domain.OptimisticLockingFailure
			require.True(t, errors.As(err, &conflict), "unexpected error: %v", err)
			assert.Equal(t, int64(1), *conflict.ExpectedVersion)
			assert.Equal(t, int64(2), *conflict.ActualVersion)
		}
		assert.Equal(t, 1, succeeded)

		current, err := repo.GetCurrentVersion(ctx, "tenant-123", "order-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), *current)
	})
}

func TestGormEventStoreRepository_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewGormEventStoreRepository(setupSQLiteDB(t))

	require.NoError(t, repo.AppendEvents(ctx, newEvents("t1", "shared-id", 3), "t1", "shared-id", nil))
	require.NoError(t, repo.AppendEvents(ctx, newEvents("t2", "shared-id", 1), "t2", "shared-id", nil))

	t.Run("aggregate reads stay in their tenant", func(t *testing.T) {
		t1, err := repo.GetEvents(ctx, "t1", "shared-id", 0)
		require.NoError(t, err)
		assert.Len(t, t1, 3)
		for _, e := range t1 {
			assert.Equal(t, "t1", e.TenantID)
		}

		t2, err := repo.GetEvents(ctx, "t2", "shared-id", 0)
		require.NoError(t, err)
		require.Len(t, t2, 1)
		assert.Equal(t, "t2", t2[0].TenantID)

		none, err := repo.GetEvents(ctx, "t3", "shared-id", 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("versions are per tenant", func(t *testing.T) {
		v1, err := repo.GetCurrentVersion(ctx, "t1", "shared-id")
		require.NoError(t, err)
		v2, err := repo.GetCurrentVersion(ctx, "t2", "shared-id")
		require.NoError(t, err)
		assert.Equal(t, int64(2), *v1)
		assert.Equal(t, int64(0), *v2)
	})

	t.Run("global stream and head are per tenant", func(t *testing.T) {
		t1, err := repo.ReadEventsFrom(ctx, "t1", 0, 0)
		require.NoError(t, err)
		assert.Len(t, t1, 3)

		t2, err := repo.ReadEventsFrom(ctx, "t2", 0, 0)
		require.NoError(t, err)
		require.Len(t, t2, 1)

		head1, err := repo.GetMaxGlobalSequence(ctx, "t1")
		require.NoError(t, err)
		head2, err := repo.GetMaxGlobalSequence(ctx, "t2")
		require.NoError(t, err)
		head3, err := repo.GetMaxGlobalSequence(ctx, "t3")
		require.NoError(t, err)

		assert.Equal(t, t1[2].GlobalSequenceID, head1)
		assert.Equal(t, t2[0].GlobalSequenceID, head2)
		assert.NotEqual(t, head1, head2)
		assert.Zero(t, head3)
	})
}

func TestGormEventStoreRepository_ReadEventsFrom(t *testing.T) {
	ctx := context.Background()
	repo := NewGormEventStoreRepository(setupSQLiteDB(t))

	require.NoError(t, repo.AppendEvents(ctx, newEvents("t1", "a1", 2), "t1", "a1", nil))
	require.NoError(t, repo.AppendEvents(ctx, newEvents("t1", "a2", 2), "t1", "a2", nil))

	all, err := repo.ReadEventsFrom(ctx, "t1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].GlobalSequenceID, all[i-1].GlobalSequenceID)
	}

	t.Run("bound is exclusive", func(t *testing.T) {
		rest, err := repo.ReadEventsFrom(ctx, "t1", all[1].GlobalSequenceID, 0)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, all[2].EventID, rest[0].EventID)
	})

	t.Run("limit caps the batch", func(t *testing.T) {
		batch, err := repo.ReadEventsFrom(ctx, "t1", 0, 3)
		require.NoError(t, err)
		assert.Len(t, batch, 3)
	})

	t.Run("reading from the head returns nothing", func(t *testing.T) {
		head, err := repo.GetMaxGlobalSequence(ctx, "t1")
		require.NoError(t, err)

		rest, err := repo.ReadEventsFrom(ctx, "t1", head, 0)
		require.NoError(t, err)
		assert.Empty(t, rest)
	})
}

func TestGormEventStoreRepository_AppendEventGroups(t *testing.T) {
	ctx := context.Background()

	t.Run("stores every group", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		require.NoError(t, repo.AppendEvents(ctx, newEvents("t1", "b", 1), "t1", "b", nil))

		err := repo.AppendEventGroups(ctx, "t1", []domain.AppendGroup{
			{AggregateID: "a", Events: newEvents("t1", "a", 2)},
			{AggregateID: "b", ExpectedVersion: version(0), Events: newEvents("t1", "b", 1)},
		})

		require.NoError(t, err)
		a, err := repo.GetCurrentVersion(ctx, "t1", "a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), *a)
		b, err := repo.GetCurrentVersion(ctx, "t1", "b")
		require.NoError(t, err)
		assert.Equal(t, int64(1), *b)
	})

	t.Run("a conflicting group rolls back the others", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		require.NoError(t, repo.AppendEvents(ctx, newEvents("t1", "b", 1), "t1", "b", nil))

		err := repo.AppendEventGroups(ctx, "t1", []domain.AppendGroup{
			{AggregateID: "a", Events: newEvents("t1", "a", 1)},
			{AggregateID: "b", Events: newEvents("t1", "b", 1)},
		})

		var groupErr *domain.AppendGroupError
		require.ErrorAs(t, err, &groupErr)
		assert.Equal(t, "b", groupErr.AggregateID)
		var conflict *domain.OptimisticLockingFailure
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(0), *conflict.ActualVersion)
		assert.True(t, domain.IsRetryable(err))

		events, err := repo.GetEvents(ctx, "t1", "a", 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("an invalid group stores nothing", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		bad := newEvents("t1", "b", 1)
		bad[0].EventType = ""

		err := repo.AppendEventGroups(ctx, "t1", []domain.AppendGroup{
			{AggregateID: "a", Events: newEvents("t1", "a", 1)},
			{AggregateID: "b", Events: bad},
		})

		var groupErr *domain.AppendGroupError
		require.ErrorAs(t, err, &groupErr)
		assert.Equal(t, "b", groupErr.AggregateID)
		kind, _ := domain.KindOf(err)
		assert.Equal(t, domain.KindDataIntegrity, kind)
		head, err := repo.GetMaxGlobalSequence(ctx, "t1")
		require.NoError(t, err)
		assert.Zero(t, head)
	})

	t.Run("missing tenant", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))

		err := repo.AppendEventGroups(ctx, "", []domain.AppendGroup{{AggregateID: "a", Events: newEvents("", "a", 1)}})

		kind, _ := domain.KindOf(err)
		assert.Equal(t, domain.KindTenantContextMissing, kind)
	})
}

func TestGormEventStoreRepository_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("missing tenant", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))

		err := repo.AppendEvents(ctx, newEvents("", "a1", 1), "", "a1", nil)
		kind, ok := domain.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, domain.KindTenantContextMissing, kind)

		_, err = repo.GetEvents(ctx, "", "a1", 0)
		kind, _ = domain.KindOf(err)
		assert.Equal(t, domain.KindTenantContextMissing, kind)

		_, err = repo.GetMaxGlobalSequence(ctx, "")
		kind, _ = domain.KindOf(err)
		assert.Equal(t, domain.KindTenantContextMissing, kind)
	})

	t.Run("event of another tenant", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))

		err := repo.AppendEvents(ctx, newEvents("t2", "a1", 1), "t1", "a1", nil)
		kind, ok := domain.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, domain.KindDataIntegrity, kind)
	})

	t.Run("structurally invalid event", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		events := newEvents("t1", "a1", 1)
		events[0].EventType = ""

		err := repo.AppendEvents(ctx, events, "t1", "a1", nil)
		kind, _ := domain.KindOf(err)
		assert.Equal(t, domain.KindDataIntegrity, kind)
	})

	t.Run("duplicate event id", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		first := newEvents("t1", "a1", 1)
		require.NoError(t, repo.AppendEvents(ctx, first, "t1", "a1", nil))

		dup := newEvents("t1", "a2", 1)
		dup[0].EventID = first[0].EventID
		err := repo.AppendEvents(ctx, dup, "t1", "a2", nil)

		kind, ok := domain.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, domain.KindDataIntegrity, kind)
		assert.False(t, domain.IsRetryable(err))
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		assert.NoError(t, repo.AppendEvents(ctx, nil, "t1", "a1", nil))
	})
}

func TestGormEventStoreRepository_Snapshots(t *testing.T) {
	ctx := context.Background()

	snapshot := func(tenantID, aggregateID string, last int64, payload string) domain.AggregateSnapshot {
		return domain.AggregateSnapshot{
			AggregateID:          aggregateID,
			TenantID:             tenantID,
			AggregateType:        "Order",
			LastSequenceNumber:   last,
			SnapshotPayloadJSONB: payload,
		}
	}

	t.Run("upsert overwrites and bumps the version", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))

		require.NoError(t, repo.SaveSnapshot(ctx, snapshot("t1", "a1", 4, `{"lines":5}`), "t1", "a1"))
		got, err := repo.GetSnapshot(ctx, "t1", "a1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(4), got.LastSequenceNumber)
		assert.Equal(t, int64(1), got.Version)

		require.NoError(t, repo.SaveSnapshot(ctx, snapshot("t1", "a1", 9, `{"lines":10}`), "t1", "a1"))
		got, err = repo.GetSnapshot(ctx, "t1", "a1")
		require.NoError(t, err)
		assert.Equal(t, int64(9), got.LastSequenceNumber)
		assert.JSONEq(t, `{"lines":10}`, got.SnapshotPayloadJSONB)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("missing snapshot is nil", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))

		got, err := repo.GetSnapshot(ctx, "t1", "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("snapshots are per tenant", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))
		require.NoError(t, repo.SaveSnapshot(ctx, snapshot("t1", "a1", 0, `{}`), "t1", "a1"))

		got, err := repo.GetSnapshot(ctx, "t2", "a1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("snapshot of another aggregate is rejected", func(t *testing.T) {
		repo := NewGormEventStoreRepository(setupSQLiteDB(t))

		err := repo.SaveSnapshot(ctx, snapshot("t1", "a2", 0, `{}`), "t1", "a1")
		kind, _ := domain.KindOf(err)
		assert.Equal(t, domain.KindDataIntegrity, kind)
	})
}
