package reconcile

import (
	"context"
	"errors"
	"sync"

	"sn-go/internal/models"
	"sn-go/internal/services"
)

var (
	// ErrOperationInFlight is returned when a speculative operation against
	// the same target has not resolved yet. Callers retry after resolution;
	// queueing would reorder writes.
	ErrOperationInFlight = errors.New("该目标的操作尚未完成")
)

// Reconciler wraps the relationship engine for one interactive caller. Each
// mutation is applied to the local view immediately, then confirmed against
// the engine's authoritative result or reverted to the exact prior value on
// failure. Operations on the same target are serialized; transient engine
// errors get one automatic retry.
//
// 本地视图只属于单个用户会话，引擎本身仍可被任意并发调用。
type Reconciler struct {
	engine  services.RelationshipService
	actorID uint

	mu       sync.Mutex
	view     map[uint]models.RelationshipState
	inflight map[uint]bool
}

// NewReconciler creates a reconciler for the given actor with an empty local view.
func NewReconciler(engine services.RelationshipService, actorID uint) *Reconciler {
	return &Reconciler{
		engine:   engine,
		actorID:  actorID,
		view:     make(map[uint]models.RelationshipState),
		inflight: make(map[uint]bool),
	}
}

// Seed primes the local view from an authoritative snapshot, e.g. a page of
// query-service results.
func (r *Reconciler) Seed(states map[uint]models.RelationshipState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range states {
		r.view[id] = st
	}
}

// State returns the current local view of the relationship with targetID.
func (r *Reconciler) State(targetID uint) models.RelationshipState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.view[targetID]; ok {
		return st
	}
	return models.RelationshipNone
}

// Follow speculatively shows FOLLOWING, then reconciles with the engine's
// result, which may instead be REQUESTED when the target turns out private.
func (r *Reconciler) Follow(ctx context.Context, targetID uint) (models.RelationshipState, error) {
	return r.run(ctx, targetID, models.RelationshipFollowing, func(ctx context.Context) (models.RelationshipState, error) {
		return r.engine.Follow(ctx, r.actorID, targetID)
	})
}

func (r *Reconciler) Unfollow(ctx context.Context, targetID uint) (models.RelationshipState, error) {
	return r.run(ctx, targetID, models.RelationshipNone, func(ctx context.Context) (models.RelationshipState, error) {
		return models.RelationshipNone, r.engine.Unfollow(ctx, r.actorID, targetID)
	})
}

func (r *Reconciler) Block(ctx context.Context, targetID uint) (models.RelationshipState, error) {
	return r.run(ctx, targetID, models.RelationshipBlocked, func(ctx context.Context) (models.RelationshipState, error) {
		return models.RelationshipBlocked, r.engine.Block(ctx, r.actorID, targetID)
	})
}

func (r *Reconciler) Unblock(ctx context.Context, targetID uint) (models.RelationshipState, error) {
	return r.run(ctx, targetID, models.RelationshipNone, func(ctx context.Context) (models.RelationshipState, error) {
		return models.RelationshipNone, r.engine.Unblock(ctx, r.actorID, targetID)
	})
}

func (r *Reconciler) CancelRequest(ctx context.Context, targetID uint) (models.RelationshipState, error) {
	return r.run(ctx, targetID, models.RelationshipNone, func(ctx context.Context) (models.RelationshipState, error) {
		return models.RelationshipNone, r.engine.CancelRequest(ctx, r.actorID, targetID)
	})
}

// run executes one speculative operation against targetID: apply the
// speculative state, invoke the engine, confirm or revert.
func (r *Reconciler) run(ctx context.Context, targetID uint, speculative models.RelationshipState, op func(context.Context) (models.RelationshipState, error)) (models.RelationshipState, error) {
	r.mu.Lock()
	if r.inflight[targetID] {
		st := r.stateLocked(targetID)
		r.mu.Unlock()
		return st, ErrOperationInFlight
	}
	r.inflight[targetID] = true
	prev, hadPrev := r.view[targetID]
	r.view[targetID] = speculative
	r.mu.Unlock()

	confirmed, err := op(ctx)
	if err != nil && retryable(err) {
		// 瞬态错误自动重试一次；引擎的操作可安全重入
		confirmed, err = op(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, targetID)
	if err != nil {
		// Revert exactly to the pre-call value.
		if hadPrev {
			r.view[targetID] = prev
		} else {
			delete(r.view, targetID)
		}
		return r.stateLocked(targetID), err
	}
	r.view[targetID] = confirmed
	return confirmed, nil
}

func (r *Reconciler) stateLocked(targetID uint) models.RelationshipState {
	if st, ok := r.view[targetID]; ok {
		return st
	}
	return models.RelationshipNone
}

func retryable(err error) bool {
	return errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrPartialFailure)
}
