package persistence

import (
	"context"
	"testing"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormTokenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown processor starts at the initial token", func(t *testing.T) {
		store := NewGormTokenStore(setupSQLiteDB(t))

		token, found, err := store.Load(ctx, "projector", "t1")
		require.NoError(t, err)
		assert.False(t, found)
		assert.True(t, token.IsInitial())
	})

	t.Run("save then load", func(t *testing.T) {
		store := NewGormTokenStore(setupSQLiteDB(t))

		require.NoError(t, store.Save(ctx, "projector", "t1", domain.NewTrackingToken(12)))
		require.NoError(t, store.Save(ctx, "projector", "t1", domain.NewTrackingToken(20)))

		token, found, err := store.Load(ctx, "projector", "t1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(20), token.GlobalSequence)
	})

	t.Run("tokens are per tenant and processor", func(t *testing.T) {
		store := NewGormTokenStore(setupSQLiteDB(t))
		require.NoError(t, store.Save(ctx, "projector", "t1", domain.NewTrackingToken(5)))

		_, found, err := store.Load(ctx, "projector", "t2")
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = store.Load(ctx, "auditor", "t1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("tenant is required", func(t *testing.T) {
		store := NewGormTokenStore(setupSQLiteDB(t))

		err := store.Save(ctx, "projector", "", domain.NewTrackingToken(1))
		kind, _ := domain.KindOf(err)
		assert.Equal(t, domain.KindTenantContextMissing, kind)
	})
}
