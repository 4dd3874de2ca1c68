package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sn-go/internal/config"
	"sn-go/internal/models"
	"sn-go/internal/notify"
	"sn-go/internal/services"
	"sn-go/internal/storage"
)

type noopSink struct{}

func (noopSink) Emit(ctx context.Context, event notify.Event) error { return nil }

func TestRepairerResolvesQueuedRecords(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryUserStore()
	requests := storage.NewMemoryFollowRequestRepository()
	audits := storage.NewMemoryAuditRepository()
	repairs := storage.NewMemoryRepairRepository()

	engine := services.NewRelationshipService(store, requests, audits, repairs, noopSink{}, nil, "reconciler", config.EngineConfig{
		ConflictRetries: 2,
		MirrorRetries:   1,
	})

	alice := &models.User{Username: "alice", IsVerified: true, Visibility: models.VisibilityPublic}
	bob := &models.User{Username: "bob", IsVerified: true, Visibility: models.VisibilityPublic}
	require.NoError(t, store.Create(ctx, alice))
	require.NoError(t, store.Create(ctx, bob))

	// Break the mirror: the second write fails until the store recovers.
	store.SaveHook = func(u *models.User, expectedVersion uint64) error {
		if u.ID == bob.ID {
			return errors.New("store briefly unavailable")
		}
		return nil
	}
	_, err := engine.Follow(ctx, alice.ID, bob.ID)
	require.ErrorIs(t, err, services.ErrPartialFailure)
	store.SaveHook = nil

	queued, err := repairs.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	repairer := NewRepairer(engine, repairs, config.ReconcilerConfig{
		ScanInterval: time.Hour, // 只依赖启动时的首轮扫描
		BatchSize:    10,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = repairer.Run(runCtx)
	}()

	require.Eventually(t, func() bool {
		left, err := repairs.ListUnresolved(ctx, 10)
		return err == nil && len(left) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	ok, err := engine.CheckMirror(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	b, err := store.Load(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, b.Followers.Contains(alice.ID))
}

func TestRepairerKeepsFailingRecordsQueued(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryUserStore()
	requests := storage.NewMemoryFollowRequestRepository()
	repairs := storage.NewMemoryRepairRepository()

	engine := services.NewRelationshipService(store, requests, storage.NewMemoryAuditRepository(), repairs, noopSink{}, nil, "reconciler", config.EngineConfig{
		ConflictRetries: 1,
		MirrorRetries:   1,
	})

	alice := &models.User{Username: "alice", IsVerified: true, Following: models.IDList{2}}
	bob := &models.User{Username: "bob", IsVerified: true} // 镜像缺失
	require.NoError(t, store.Create(ctx, alice))
	require.NoError(t, store.Create(ctx, bob))
	require.NoError(t, repairs.Create(ctx, &models.MirrorRepair{ActorID: alice.ID, TargetID: bob.ID, Operation: "follow"}))

	// The store stays broken for bob, so the repair cannot complete.
	store.SaveHook = func(u *models.User, expectedVersion uint64) error {
		if u.ID == bob.ID {
			return errors.New("still down")
		}
		return nil
	}

	repairer := NewRepairer(engine, repairs, config.ReconcilerConfig{ScanInterval: time.Hour, BatchSize: 10})
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = repairer.Run(runCtx)
	}()

	// 修复失败本身也会排入新的修复记录，所以只看原始记录的尝试次数
	require.Eventually(t, func() bool {
		left, err := repairs.ListUnresolved(ctx, 10)
		return err == nil && len(left) >= 1 && left[0].Attempts > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
