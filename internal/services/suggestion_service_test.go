package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sn-go/internal/config"
	"sn-go/internal/models"
	"sn-go/internal/storage"
)

func suggestionCfg() config.SuggestionConfig {
	return config.SuggestionConfig{
		PoolSize:      200,
		MutualWeight:  3.0,
		LocaleWeight:  1.0,
		RecencyWeight: 1.0,
		RecencyWindow: 7 * 24 * time.Hour,
		DefaultLimit:  20,
	}
}

func rankUser(id uint, mutate ...func(*models.User)) *models.User {
	u := &models.User{IsVerified: true}
	u.ID = id
	for _, m := range mutate {
		m(u)
	}
	return u
}

func TestRank(t *testing.T) {
	now := time.Now()
	cfg := suggestionCfg()

	t.Run("excludes invalid candidates", func(t *testing.T) {
		actor := rankUser(1, func(u *models.User) {
			u.Following = models.IDList{5}
			u.Blocked = models.IDList{3}
			u.Locale = "zh-CN"
		})
		pool := []*models.User{
			rankUser(1, func(u *models.User) { u.Locale = "zh-CN" }),                  // self
			rankUser(3, func(u *models.User) { u.Locale = "zh-CN" }),                  // blocked by actor
			rankUser(4, func(u *models.User) { u.Blocked = models.IDList{1} }),        // blocks actor
			rankUser(5, func(u *models.User) { u.Locale = "zh-CN" }),                  // already followed
			rankUser(6, func(u *models.User) { u.IsDeleted = true; u.Locale = "zh-CN" }),
			rankUser(7, func(u *models.User) { u.IsVerified = false; u.Locale = "zh-CN" }),
			rankUser(8, func(u *models.User) { u.Locale = "zh-CN" }), // the only valid one
		}

		got := Rank(actor, pool, 10, cfg, now)
		require.Len(t, got, 1)
		assert.Equal(t, uint(8), got[0].ID)
	})

	t.Run("zero score excluded entirely", func(t *testing.T) {
		actor := rankUser(1, func(u *models.User) { u.Locale = "zh-CN" })
		pool := []*models.User{
			rankUser(2, func(u *models.User) { u.Locale = "en-US" }), // no shared signal
		}
		assert.Empty(t, Rank(actor, pool, 10, cfg, now))
	})

	t.Run("orders by score with mutual connections dominating", func(t *testing.T) {
		recent := now.Add(-time.Hour)
		actor := rankUser(1, func(u *models.User) {
			u.Following = models.IDList{10, 11}
			u.Locale = "zh-CN"
		})
		// two mutual connections: 3*2 = 6
		manyMutuals := rankUser(2, func(u *models.User) {
			u.Followers = models.IDList{10, 11}
		})
		// locale + recency: 1 + 1 = 2
		localActive := rankUser(3, func(u *models.User) {
			u.Locale = "zh-CN"
			u.LastActiveAt = &recent
		})
		// one mutual: 3
		oneMutual := rankUser(4, func(u *models.User) {
			u.Followers = models.IDList{10}
		})

		got := Rank(actor, []*models.User{localActive, oneMutual, manyMutuals}, 10, cfg, now)
		require.Len(t, got, 3)
		assert.Equal(t, uint(2), got[0].ID)
		assert.Equal(t, uint(4), got[1].ID)
		assert.Equal(t, uint(3), got[2].ID)
	})

	t.Run("equal scores tie-break by ascending id", func(t *testing.T) {
		actor := rankUser(1, func(u *models.User) { u.Locale = "zh-CN" })
		c9 := rankUser(9, func(u *models.User) { u.Locale = "zh-CN" })
		c2 := rankUser(2, func(u *models.User) { u.Locale = "zh-CN" })
		c5 := rankUser(5, func(u *models.User) { u.Locale = "zh-CN" })

		got := Rank(actor, []*models.User{c9, c2, c5}, 10, cfg, now)
		require.Len(t, got, 3)
		assert.Equal(t, uint(2), got[0].ID)
		assert.Equal(t, uint(5), got[1].ID)
		assert.Equal(t, uint(9), got[2].ID)
	})

	t.Run("stale activity earns no recency score", func(t *testing.T) {
		old := now.Add(-30 * 24 * time.Hour)
		actor := rankUser(1)
		stale := rankUser(2, func(u *models.User) { u.LastActiveAt = &old })
		assert.Empty(t, Rank(actor, []*models.User{stale}, 10, cfg, now))
	})

	t.Run("truncates to limit", func(t *testing.T) {
		actor := rankUser(1, func(u *models.User) { u.Locale = "zh-CN" })
		var pool []*models.User
		for i := uint(2); i < 10; i++ {
			pool = append(pool, rankUser(i, func(u *models.User) { u.Locale = "zh-CN" }))
		}
		got := Rank(actor, pool, 3, cfg, now)
		assert.Len(t, got, 3)
	})
}

// fakeSuggestionCache is a map-backed SuggestionCache used to verify the
// service's cache interaction.
type fakeSuggestionCache struct {
	entries map[uint][]*models.UserSummary
	sets    int
}

func newFakeSuggestionCache() *fakeSuggestionCache {
	return &fakeSuggestionCache{entries: make(map[uint][]*models.UserSummary)}
}

func (c *fakeSuggestionCache) Get(ctx context.Context, userID uint) ([]*models.UserSummary, bool, error) {
	items, ok := c.entries[userID]
	return items, ok, nil
}

func (c *fakeSuggestionCache) Set(ctx context.Context, userID uint, items []*models.UserSummary, ttl time.Duration) error {
	c.entries[userID] = items
	c.sets++
	return nil
}

func (c *fakeSuggestionCache) Invalidate(ctx context.Context, userID uint) error {
	delete(c.entries, userID)
	return nil
}

func TestSuggestUsers(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, cache SuggestionCache) (SuggestionService, *storage.MemoryUserStore) {
		store := storage.NewMemoryUserStore()
		for _, u := range []*models.User{
			{Username: "alice", IsVerified: true, Locale: "zh-CN"},
			{Username: "bob", IsVerified: true, Locale: "zh-CN"},
			{Username: "carol", IsVerified: true, Locale: "zh-CN"},
		} {
			require.NoError(t, store.Create(ctx, u))
		}
		return NewSuggestionService(store, cache, suggestionCfg()), store
	}

	t.Run("computes and caches on miss", func(t *testing.T) {
		cache := newFakeSuggestionCache()
		svc, _ := setup(t, cache)

		items, err := svc.SuggestUsers(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, uint(2), items[0].ID)
		assert.Equal(t, uint(3), items[1].ID)
		assert.Equal(t, 1, cache.sets)
	})

	t.Run("serves from cache on hit", func(t *testing.T) {
		cache := newFakeSuggestionCache()
		cache.entries[1] = []*models.UserSummary{{ID: 42, Username: "cached"}}
		svc, _ := setup(t, cache)

		items, err := svc.SuggestUsers(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, uint(42), items[0].ID)
		assert.Zero(t, cache.sets)
	})

	t.Run("works without a cache", func(t *testing.T) {
		svc, _ := setup(t, nil)
		items, err := svc.SuggestUsers(ctx, 1, 1)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("unknown actor", func(t *testing.T) {
		svc, _ := setup(t, nil)
		_, err := svc.SuggestUsers(ctx, 99, 10)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}
