package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sn-go/internal/config"
	"sn-go/internal/models"
	"sn-go/internal/notify"
	"sn-go/internal/storage"
)

// memorySink captures emitted notification events for assertions.
type memorySink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *memorySink) Emit(ctx context.Context, event notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) byType(t string) []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type engineFixture struct {
	engine   RelationshipService
	store    *storage.MemoryUserStore
	requests *storage.MemoryFollowRequestRepository
	audits   *storage.MemoryAuditRepository
	repairs  *storage.MemoryRepairRepository
	sink     *memorySink
	cache    *fakeSuggestionCache
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    storage.NewMemoryUserStore(),
		requests: storage.NewMemoryFollowRequestRepository(),
		audits:   storage.NewMemoryAuditRepository(),
		repairs:  storage.NewMemoryRepairRepository(),
		sink:     &memorySink{},
		cache:    newFakeSuggestionCache(),
	}
	f.engine = NewRelationshipService(f.store, f.requests, f.audits, f.repairs, f.sink, f.cache, "api", config.EngineConfig{
		ConflictRetries: 2,
		MirrorRetries:   2,
	})
	return f
}

func (f *engineFixture) addUser(t *testing.T, username string, mutate ...func(*models.User)) *models.User {
	t.Helper()
	u := &models.User{
		Username:      username,
		Visibility:    models.VisibilityPublic,
		IsVerified:    true,
		NotifyFollows: true,
	}
	for _, m := range mutate {
		m(u)
	}
	require.NoError(t, f.store.Create(context.Background(), u))
	return u
}

func (f *engineFixture) mustLoad(t *testing.T, id uint) *models.User {
	t.Helper()
	u, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestFollow(t *testing.T) {
	ctx := context.Background()

	t.Run("public target creates mirrored edge", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob")

		state, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RelationshipFollowing, state)

		assert.True(t, f.mustLoad(t, a.ID).Following.Contains(b.ID))
		assert.True(t, f.mustLoad(t, b.ID).Followers.Contains(a.ID))

		events := f.sink.byType(models.NotificationTypeFollow)
		require.Len(t, events, 1)
		assert.Equal(t, b.ID, events[0].RecipientID)
		assert.Equal(t, a.ID, events[0].ActorID)
	})

	t.Run("reverse edge makes result mutual", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob")

		_, err := f.engine.Follow(ctx, b.ID, a.ID)
		require.NoError(t, err)
		state, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RelationshipMutual, state)
	})

	t.Run("self follow rejected", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		_, err := f.engine.Follow(ctx, a.ID, a.ID)
		assert.ErrorIs(t, err, ErrSelfReference)
	})

	t.Run("deleted target rejected", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.IsDeleted = true })
		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("unverified target rejected", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.IsVerified = false })
		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		assert.ErrorIs(t, err, ErrUserNotEligible)
	})

	t.Run("blocked either way rejected", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.Blocked = models.IDList{1} })
		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		assert.ErrorIs(t, err, ErrBlocked)
	})

	t.Run("duplicate follow rejected", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob")
		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		_, err = f.engine.Follow(ctx, a.ID, b.ID)
		assert.ErrorIs(t, err, ErrAlreadyFollowing)
	})

	t.Run("silent target gets no follow notification", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.NotifyFollows = false })
		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Empty(t, f.sink.byType(models.NotificationTypeFollow))
	})
}

func TestFollowPrivateTarget(t *testing.T) {
	ctx := context.Background()

	t.Run("creates exactly one pending request", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.Visibility = models.VisibilityPrivate })

		state, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RelationshipRequested, state)

		// 没有任何边被写入
		assert.False(t, f.mustLoad(t, a.ID).Following.Contains(b.ID))
		assert.False(t, f.mustLoad(t, b.ID).Followers.Contains(a.ID))

		req, err := f.requests.FindPending(ctx, a.ID, b.ID)
		require.NoError(t, err)
		require.NotNil(t, req)

		events := f.sink.byType(models.NotificationTypeFollowRequest)
		require.Len(t, events, 1)
		assert.Equal(t, b.ID, events[0].RecipientID)

		// Second attempt before resolution is a duplicate.
		_, err = f.engine.Follow(ctx, a.ID, b.ID)
		assert.ErrorIs(t, err, ErrDuplicateRequest)
		all, err := f.requests.GetPendingForTarget(ctx, b.ID)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("accept creates the edge and resolves the request", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.Visibility = models.VisibilityPrivate })

		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		require.NoError(t, f.engine.AcceptRequest(ctx, b.ID, a.ID))

		assert.True(t, f.mustLoad(t, a.ID).Following.Contains(b.ID))
		assert.True(t, f.mustLoad(t, b.ID).Followers.Contains(a.ID))

		pending, err := f.requests.GetPendingForTarget(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, pending)

		events := f.sink.byType(models.NotificationTypeRequestAccepted)
		require.Len(t, events, 1)
		assert.Equal(t, a.ID, events[0].RecipientID)
	})

	t.Run("reject leaves no edge", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.Visibility = models.VisibilityPrivate })

		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		require.NoError(t, f.engine.RejectRequest(ctx, b.ID, a.ID))

		assert.False(t, f.mustLoad(t, a.ID).Following.Contains(b.ID))
		pending, err := f.requests.FindPending(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Nil(t, pending)
	})

	t.Run("requester can cancel and follow again", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.Visibility = models.VisibilityPrivate })

		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		require.NoError(t, f.engine.CancelRequest(ctx, a.ID, b.ID))

		state, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RelationshipRequested, state)
	})

	t.Run("resolving a missing request fails", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob")
		assert.ErrorIs(t, f.engine.AcceptRequest(ctx, b.ID, a.ID), ErrRequestNotFound)
		assert.ErrorIs(t, f.engine.RejectRequest(ctx, b.ID, a.ID), ErrRequestNotFound)
		assert.ErrorIs(t, f.engine.CancelRequest(ctx, a.ID, b.ID), ErrRequestNotFound)
	})
}

func TestUnfollow(t *testing.T) {
	ctx := context.Background()

	t.Run("success then not-following", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob")

		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)

		require.NoError(t, f.engine.Unfollow(ctx, a.ID, b.ID))
		assert.False(t, f.mustLoad(t, a.ID).Following.Contains(b.ID))
		assert.False(t, f.mustLoad(t, b.ID).Followers.Contains(a.ID))

		assert.ErrorIs(t, f.engine.Unfollow(ctx, a.ID, b.ID), ErrNotFollowing)
	})

	t.Run("retry after partial unfollow strips the stale mirror", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.Followers = models.IDList{1} })
		// a 侧无边、b 侧残留镜像：等价于上一次 unfollow 只提交了首写

		require.NoError(t, f.engine.Unfollow(ctx, a.ID, b.ID))
		assert.False(t, f.mustLoad(t, b.ID).Followers.Contains(a.ID))
	})
}

func TestBlock(t *testing.T) {
	ctx := context.Background()

	t.Run("strips edges in both directions and cancels pending", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob")

		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		_, err = f.engine.Follow(ctx, b.ID, a.ID)
		require.NoError(t, err)

		require.NoError(t, f.engine.Block(ctx, a.ID, b.ID))

		au := f.mustLoad(t, a.ID)
		bu := f.mustLoad(t, b.ID)
		assert.True(t, au.Blocked.Contains(b.ID))
		assert.False(t, au.Following.Contains(b.ID))
		assert.False(t, au.Followers.Contains(b.ID))
		assert.False(t, bu.Following.Contains(a.ID))
		assert.False(t, bu.Followers.Contains(a.ID))

		_, err = f.engine.Follow(ctx, b.ID, a.ID)
		assert.ErrorIs(t, err, ErrBlocked)
	})

	t.Run("block cancels a pending request between the pair", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.Visibility = models.VisibilityPrivate })

		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		require.NoError(t, f.engine.Block(ctx, b.ID, a.ID))

		pending, err := f.requests.FindPending(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Nil(t, pending)
	})

	t.Run("re-block is a no-op success", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob")
		require.NoError(t, f.engine.Block(ctx, a.ID, b.ID))
		require.NoError(t, f.engine.Block(ctx, a.ID, b.ID))
		assert.Equal(t, models.IDList{b.ID}, f.mustLoad(t, a.ID).Blocked)
	})
}

func TestUnblock(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.addUser(t, "alice")
	b := f.addUser(t, "bob")

	require.NoError(t, f.engine.Block(ctx, a.ID, b.ID))
	require.NoError(t, f.engine.Unblock(ctx, a.ID, b.ID))
	assert.False(t, f.mustLoad(t, a.ID).Blocked.Contains(b.ID))

	// 未拉黑时解除拉黑是幂等的
	require.NoError(t, f.engine.Unblock(ctx, a.ID, b.ID))

	// Prior edges are not restored.
	state, err := f.engine.Follow(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipFollowing, state)
}

func TestConflictSurfacedAfterRetries(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.addUser(t, "alice")
	b := f.addUser(t, "bob")

	// Every save of the acting side loses the optimistic race.
	f.store.SaveHook = func(u *models.User, expectedVersion uint64) error {
		if u.ID == a.ID {
			return storage.ErrStaleVersion
		}
		return nil
	}

	_, err := f.engine.Follow(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, ErrConflict)

	f.store.SaveHook = nil
	assert.False(t, f.mustLoad(t, b.ID).Followers.Contains(a.ID))
}

func TestPartialFailureAndRepair(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.addUser(t, "alice")
	b := f.addUser(t, "bob")

	// The mirror write keeps failing until the retries exhaust.
	f.store.SaveHook = func(u *models.User, expectedVersion uint64) error {
		if u.ID == b.ID {
			return errors.New("store briefly unavailable")
		}
		return nil
	}

	_, err := f.engine.Follow(ctx, a.ID, b.ID)
	require.ErrorIs(t, err, ErrPartialFailure)

	// First write committed, mirror did not.
	assert.True(t, f.mustLoad(t, a.ID).Following.Contains(b.ID))
	assert.False(t, f.mustLoad(t, b.ID).Followers.Contains(a.ID))

	ok, err := f.engine.CheckMirror(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	queued, err := f.repairs.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, a.ID, queued[0].ActorID)
	assert.Equal(t, b.ID, queued[0].TargetID)

	// Store recovers; repair restores the mirror from the acting side.
	f.store.SaveHook = nil
	require.NoError(t, f.engine.RepairPair(ctx, a.ID, b.ID))

	assert.True(t, f.mustLoad(t, b.ID).Followers.Contains(a.ID))
	ok, err = f.engine.CheckMirror(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFollowRetryAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.addUser(t, "alice")
	b := f.addUser(t, "bob")

	f.store.SaveHook = func(u *models.User, expectedVersion uint64) error {
		if u.ID == b.ID {
			return errors.New("store briefly unavailable")
		}
		return nil
	}
	_, err := f.engine.Follow(ctx, a.ID, b.ID)
	require.ErrorIs(t, err, ErrPartialFailure)

	// Store recovers; the caller retries the same follow. The half-applied
	// edge must be completed, not rejected as a duplicate.
	f.store.SaveHook = nil
	state, err := f.engine.Follow(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipFollowing, state)
	assert.True(t, f.mustLoad(t, b.ID).Followers.Contains(a.ID))

	ok, err := f.engine.CheckMirror(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// 补齐镜像也会发关注通知
	assert.Len(t, f.sink.byType(models.NotificationTypeFollow), 1)

	// Only a genuinely complete edge reports duplicate.
	_, err = f.engine.Follow(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, ErrAlreadyFollowing)
}

func TestAuditRecordsCarryConfiguredOrigin(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryUserStore()
	audits := storage.NewMemoryAuditRepository()
	engine := NewRelationshipService(store, storage.NewMemoryFollowRequestRepository(),
		audits, storage.NewMemoryRepairRepository(), &memorySink{}, nil, "reconciler",
		config.EngineConfig{ConflictRetries: 1, MirrorRetries: 1})

	a := &models.User{Username: "alice", Visibility: models.VisibilityPublic, IsVerified: true}
	b := &models.User{Username: "bob", Visibility: models.VisibilityPublic, IsVerified: true}
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	_, err := engine.Follow(ctx, a.ID, b.ID)
	require.NoError(t, err)

	records, err := audits.ListForActor(ctx, a.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, rec := range records {
		assert.Equal(t, "reconciler", rec.Origin)
	}
}

func TestEdgeMutationsInvalidateSuggestionCache(t *testing.T) {
	ctx := context.Background()

	seed := func(f *engineFixture, ids ...uint) {
		for _, id := range ids {
			f.cache.entries[id] = []*models.UserSummary{{ID: 99}}
		}
	}
	cached := func(f *engineFixture, id uint) bool {
		_, ok := f.cache.entries[id]
		return ok
	}

	t.Run("follow drops both cached lists", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob")
		seed(f, a.ID, b.ID)

		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.False(t, cached(f, a.ID))
		assert.False(t, cached(f, b.ID))
	})

	t.Run("block and unblock drop the cached lists", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob")

		seed(f, a.ID, b.ID)
		require.NoError(t, f.engine.Block(ctx, a.ID, b.ID))
		assert.False(t, cached(f, a.ID))
		assert.False(t, cached(f, b.ID))

		seed(f, a.ID, b.ID)
		require.NoError(t, f.engine.Unblock(ctx, a.ID, b.ID))
		assert.False(t, cached(f, a.ID))
	})

	t.Run("accepting a request drops the cached lists", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		b := f.addUser(t, "bob", func(u *models.User) { u.Visibility = models.VisibilityPrivate })

		_, err := f.engine.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)

		seed(f, a.ID, b.ID)
		require.NoError(t, f.engine.AcceptRequest(ctx, b.ID, a.ID))
		assert.False(t, cached(f, a.ID))
		assert.False(t, cached(f, b.ID))
	})

	t.Run("failed operation leaves the cache alone", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.addUser(t, "alice")
		seed(f, a.ID)

		_, err := f.engine.Follow(ctx, a.ID, a.ID)
		require.ErrorIs(t, err, ErrSelfReference)
		assert.True(t, cached(f, a.ID))
	})
}

func TestRepairPairUnderBlock(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.addUser(t, "alice", func(u *models.User) {
		u.Blocked = models.IDList{2}
		u.Following = models.IDList{2} // 与拉黑共存的脏数据
	})
	b := f.addUser(t, "bob", func(u *models.User) { u.Followers = models.IDList{1} })

	ok, err := f.engine.CheckMirror(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.engine.RepairPair(ctx, a.ID, b.ID))

	au := f.mustLoad(t, a.ID)
	bu := f.mustLoad(t, b.ID)
	assert.True(t, au.Blocked.Contains(b.ID))
	assert.False(t, au.Following.Contains(b.ID))
	assert.False(t, bu.Followers.Contains(a.ID))
}

// TestRandomSequenceKeepsPairConsistent drives a random mix of operations on a
// small population and checks the pair invariants after every step.
func TestRandomSequenceKeepsPairConsistent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	const population = 4
	ids := make([]uint, 0, population)
	for i := 0; i < population; i++ {
		vis := models.VisibilityPublic
		if i%2 == 1 {
			vis = models.VisibilityPrivate
		}
		u := f.addUser(t, fmt.Sprintf("user%d", i), func(u *models.User) { u.Visibility = vis })
		ids = append(ids, u.ID)
	}

	rng := rand.New(rand.NewSource(1))
	known := []error{
		ErrSelfReference, ErrAlreadyFollowing, ErrNotFollowing, ErrBlocked,
		ErrDuplicateRequest, ErrRequestNotFound,
	}
	isKnown := func(err error) bool {
		for _, k := range known {
			if errors.Is(err, k) {
				return true
			}
		}
		return false
	}

	for step := 0; step < 300; step++ {
		actor := ids[rng.Intn(population)]
		target := ids[rng.Intn(population)]

		var err error
		switch rng.Intn(7) {
		case 0:
			_, err = f.engine.Follow(ctx, actor, target)
		case 1:
			err = f.engine.Unfollow(ctx, actor, target)
		case 2:
			err = f.engine.Block(ctx, actor, target)
		case 3:
			err = f.engine.Unblock(ctx, actor, target)
		case 4:
			err = f.engine.AcceptRequest(ctx, actor, target)
		case 5:
			err = f.engine.RejectRequest(ctx, actor, target)
		case 6:
			err = f.engine.CancelRequest(ctx, actor, target)
		}
		if err != nil && !isKnown(err) {
			t.Fatalf("step %d: unexpected error: %v", step, err)
		}

		for i := 0; i < population; i++ {
			for j := i + 1; j < population; j++ {
				ok, err := f.engine.CheckMirror(ctx, ids[i], ids[j])
				require.NoError(t, err)
				require.True(t, ok, "step %d: pair (%d,%d) inconsistent", step, ids[i], ids[j])
			}
		}
	}
}
