//go:build integration

package eventstore_test

import (
	"context"
	"sync"
	"testing"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/domain/tenancy"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
	"github.com/eaf/backend/internal/infrastructure/persistence"
	"github.com/eaf/backend/internal/infrastructure/persistence/pgtest"
	"github.com/eaf/backend/internal/infrastructure/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEngine_Postgres(t *testing.T) {
	tdb := pgtest.New(t)
	engine := eventstore.NewEngine(persistence.NewGormEventStoreRepository(tdb.DB), newRegistry(),
		eventstore.WithLogger(zaptest.NewLogger(t)))
	ctx := tenantCtx()
	other := tenant.MustWithTenantID(context.Background(), "tenant-other")

	t.Run("append and replay", func(t *testing.T) {
		tdb.Truncate()
		require.NoError(t, engine.AppendEvents(ctx, created("a"), renamed("a", 1, "Acme Two")))

		stream, err := engine.ReadEvents(ctx, "a", 0)
		require.NoError(t, err)
		var names []string
		for msg := range stream.All() {
			if r, ok := msg.Payload().(tenancy.TenantRenamed); ok {
				names = append(names, r.NewName)
			}
		}
		assert.Equal(t, []string{"Acme Two"}, names)

		stream, err = engine.ReadEvents(other, "a", 0)
		require.NoError(t, err)
		assert.Equal(t, 0, stream.Remaining())
	})

	t.Run("unique violation becomes a conflict", func(t *testing.T) {
		tdb.Truncate()
		require.NoError(t, engine.AppendEvents(ctx, created("a")))

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = engine.AppendEvents(ctx, renamed("a", 1, "concurrent"))
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			requireStoreError(t, err, domain.KindConcurrencyConflict)
			assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("tracked events keep global order per tenant", func(t *testing.T) {
		tdb.Truncate()
		require.NoError(t, engine.AppendEvents(ctx, created("a")))
		require.NoError(t, engine.AppendEvents(other, created("z")))
		require.NoError(t, engine.AppendEvents(ctx, created("b")))

		stream, err := engine.ReadTrackedEvents(ctx, nil, false)
		require.NoError(t, err)
		var ids []string
		var last int64
		for msg := range stream.All() {
			ids = append(ids, msg.AggregateIdentifier())
			assert.Greater(t, msg.Token().GlobalSequence, last)
			last = msg.Token().GlobalSequence
		}
		assert.Equal(t, []string{"a", "b"}, ids)
		assert.Equal(t, domain.NewTrackingToken(3), engine.CreateHeadToken(ctx))
		assert.Equal(t, domain.NewTrackingToken(2), engine.CreateHeadToken(other))
	})

	t.Run("snapshot upsert", func(t *testing.T) {
		tdb.Truncate()
		state := tenancy.Snapshot{Name: "Acme", Status: tenancy.StatusActive}
		require.NoError(t, engine.StoreSnapshot(ctx, eventstore.NewDomainEventMessage(tenancy.AggregateType, "a", 3, state)))
		state.Status = tenancy.StatusSuspended
		require.NoError(t, engine.StoreSnapshot(ctx, eventstore.NewDomainEventMessage(tenancy.AggregateType, "a", 7, state)))

		msg, ok := engine.ReadSnapshot(ctx, "a")
		require.True(t, ok)
		assert.Equal(t, int64(7), msg.SequenceNumber())
		assert.Equal(t, state, msg.Payload())

		var version int64
		require.NoError(t, tdb.DB.WithContext(ctx).Raw(
			"SELECT version FROM aggregate_snapshots WHERE tenant_id = ? AND aggregate_id = ?", testTenant, "a",
		).Scan(&version).Error)
		assert.Equal(t, int64(2), version)
	})

	t.Run("token store upsert", func(t *testing.T) {
		tdb.Truncate()
		store := persistence.NewGormTokenStore(tdb.DB)
		require.NoError(t, store.Save(ctx, "projector", testTenant, domain.NewTrackingToken(4)))
		require.NoError(t, store.Save(ctx, "projector", testTenant, domain.NewTrackingToken(9)))

		token, found, err := store.Load(ctx, "projector", testTenant)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(9), token.GlobalSequence)
	})
}
