package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sn-go/internal/models"
)

func TestMemoryUserStoreOptimisticSave(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	u := &models.User{Username: "alice"}
	require.NoError(t, store.Create(ctx, u))

	t.Run("save bumps the version", func(t *testing.T) {
		loaded, err := store.Load(ctx, u.ID)
		require.NoError(t, err)
		loaded.Bio = "hello"

		newVersion, err := store.Save(ctx, loaded, loaded.Version)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), newVersion)

		reloaded, err := store.Load(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", reloaded.Bio)
		assert.Equal(t, uint64(1), reloaded.Version)
	})

	t.Run("stale save is rejected without changing state", func(t *testing.T) {
		first, err := store.Load(ctx, u.ID)
		require.NoError(t, err)
		second, err := store.Load(ctx, u.ID)
		require.NoError(t, err)

		first.Bio = "writer one"
		_, err = store.Save(ctx, first, first.Version)
		require.NoError(t, err)

		second.Bio = "writer two"
		_, err = store.Save(ctx, second, second.Version)
		assert.ErrorIs(t, err, ErrStaleVersion)

		reloaded, err := store.Load(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "writer one", reloaded.Bio)
	})

	t.Run("saving a missing aggregate", func(t *testing.T) {
		ghost := &models.User{Username: "ghost"}
		ghost.ID = 99
		_, err := store.Save(ctx, ghost, 0)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("load returns an independent copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, u.ID)
		require.NoError(t, err)
		loaded.Following.Add(42)

		reloaded, err := store.Load(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, reloaded.Following.Contains(42))
	})
}
