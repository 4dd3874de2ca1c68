package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"sn-go/internal/config"
	"sn-go/internal/models"
	"sn-go/internal/notify"
	"sn-go/internal/storage"
)

var (
	ErrSelfReference    = errors.New("不能对自己执行关系操作")
	ErrUserNotFound     = errors.New("用户不存在")
	ErrUserNotEligible  = errors.New("用户当前不可参与关系操作")
	ErrAlreadyFollowing = errors.New("已经关注了该用户")
	ErrNotFollowing     = errors.New("尚未关注该用户")
	ErrBlocked          = errors.New("你们之间存在拉黑关系")
	ErrDuplicateRequest = errors.New("已存在待处理的关注请求")
	ErrRequestNotFound  = errors.New("关注请求不存在")
	// ErrConflict indicates the operation lost an optimistic-write race and
	// can be retried with fresh state.
	ErrConflict = errors.New("并发修改冲突，请重试")
	// ErrPartialFailure indicates the first aggregate write committed but the
	// mirror write could not be confirmed; a repair record was queued. The
	// caller may retry, but must not treat the operation as succeeded.
	ErrPartialFailure = errors.New("关系变更部分生效，已记录待修复")

	// errFirstWriteStale is internal: the actor-side write lost the race
	// before any state changed, so the whole operation can be re-run.
	errFirstWriteStale = errors.New("first write stale")
)

// Operation names used in audit and repair records.
const (
	opFollow        = "follow"
	opUnfollow      = "unfollow"
	opBlock         = "block"
	opUnblock       = "unblock"
	opAcceptRequest = "accept_request"
	opRejectRequest = "reject_request"
	opCancelRequest = "cancel_request"
	opRepair        = "repair"
)

// RelationshipService is the relationship graph engine. It owns every edge
// mutation between user aggregates, the dual-aggregate optimistic write
// protocol, and the mirror-invariant check/repair used by the reconciler.
//
// The store offers no cross-aggregate transaction: each operation writes the
// acting user's aggregate first, then the counterpart's. A stale first write
// aborts cleanly (Conflict); a failed second write is retried with bounded
// backoff and, if exhausted, recorded for asynchronous repair and surfaced as
// PartialFailure. The acting side's edge list is authoritative during repair.
type RelationshipService interface {
	Follow(ctx context.Context, actorID, targetID uint) (models.RelationshipState, error)
	Unfollow(ctx context.Context, actorID, targetID uint) error
	Block(ctx context.Context, actorID, targetID uint) error
	Unblock(ctx context.Context, actorID, targetID uint) error
	AcceptRequest(ctx context.Context, actorID, requesterID uint) error
	RejectRequest(ctx context.Context, actorID, requesterID uint) error
	CancelRequest(ctx context.Context, actorID, targetID uint) error
	// CheckMirror reports whether every pair invariant holds between the two
	// users: mirrored edges, block supremacy, and pending/edge exclusivity.
	CheckMirror(ctx context.Context, userID1, userID2 uint) (bool, error)
	// RepairPair restores the pair invariants, taking each user's own
	// following/blocked lists as authoritative.
	RepairPair(ctx context.Context, userID1, userID2 uint) error
}

type relationshipService struct {
	store       storage.UserStore
	requests    storage.FollowRequestRepository
	audits      storage.AuditRepository
	repairs     storage.RepairRepository
	sink        notify.Sink
	suggestions SuggestionCache // may be nil
	cfg         config.EngineConfig
	origin      string
}

// NewRelationshipService creates a new RelationshipService instance.
// suggestions may be nil when no suggestion cache is deployed; origin names
// the calling process in audit records, e.g. "api" or "reconciler".
func NewRelationshipService(
	store storage.UserStore,
	requests storage.FollowRequestRepository,
	audits storage.AuditRepository,
	repairs storage.RepairRepository,
	sink notify.Sink,
	suggestions SuggestionCache,
	origin string,
	cfg config.EngineConfig,
) RelationshipService {
	return &relationshipService{
		store:       store,
		requests:    requests,
		audits:      audits,
		repairs:     repairs,
		sink:        sink,
		suggestions: suggestions,
		cfg:         cfg,
		origin:      origin,
	}
}

// storeCtx bounds a single store call. No store call may block indefinitely;
// a timeout is treated as failure, never as success.
func (s *relationshipService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *relationshipService) load(ctx context.Context, id uint) (*models.User, error) {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.store.Load(cctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return u, nil
}

func (s *relationshipService) save(ctx context.Context, u *models.User, expectedVersion uint64) error {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	_, err := s.store.Save(cctx, u, expectedVersion)
	return err
}

// Follow creates a follow edge from actor to target, or a pending follow
// request when the target profile is private. Returns the resulting derived
// state: REQUESTED, FOLLOWING, or MUTUAL. A retry after an earlier partial
// success is detected via the mirror invariant and completes the mirror
// write instead of failing.
func (s *relationshipService) Follow(ctx context.Context, actorID, targetID uint) (models.RelationshipState, error) {
	if actorID == targetID {
		return models.RelationshipNone, ErrSelfReference
	}

	var state models.RelationshipState
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		actor, err := s.load(ctx, actorID)
		if err != nil {
			return err
		}
		target, err := s.load(ctx, targetID)
		if err != nil {
			return err
		}
		if actor.IsDeleted || target.IsDeleted {
			return ErrUserNotFound
		}
		if !actor.IsVerified || !target.IsVerified {
			return ErrUserNotEligible
		}
		if actor.BlockedEitherWay(target) {
			return ErrBlocked
		}
		if actor.Following.Contains(targetID) {
			// The actor side already shows the edge. If the mirror is
			// missing, an earlier follow committed on the actor but not the
			// target: finish the mirror write and report the derived state.
			if target.Followers.Contains(actorID) {
				return ErrAlreadyFollowing
			}
			targetNew := target.Clone()
			targetNew.Followers.Add(actorID)
			if err := s.save(context.WithoutCancel(ctx), targetNew, target.Version); err != nil {
				if errors.Is(err, storage.ErrStaleVersion) {
					return errFirstWriteStale
				}
				return fmt.Errorf("failed to finish follow mirror write: %w", err)
			}
			s.audit(ctx, actorID, targetID, opFollow, "followers",
				target.Followers.String(), targetNew.Followers.String())
			if target.NotifyFollows {
				s.emit(ctx, notify.Event{
					Type:        models.NotificationTypeFollow,
					RecipientID: targetID,
					ActorID:     actorID,
				})
			}
			s.invalidateSuggestions(ctx, actorID, targetID)
			if target.Following.Contains(actorID) {
				state = models.RelationshipMutual
			} else {
				state = models.RelationshipFollowing
			}
			return nil
		}
		pending, err := s.requests.FindPending(ctx, actorID, targetID)
		if err != nil {
			return fmt.Errorf("failed to check pending follow request: %w", err)
		}
		if pending != nil {
			return ErrDuplicateRequest
		}

		// Private target: record a pending request instead of an edge.
		// Single-store write, so the dual-write protocol does not apply.
		if target.Visibility == models.VisibilityPrivate {
			req := &models.FollowRequest{
				RequesterID: actorID,
				TargetID:    targetID,
				Status:      models.FollowRequestStatusPending,
			}
			if err := s.requests.Create(ctx, req); err != nil {
				return fmt.Errorf("failed to create follow request: %w", err)
			}
			s.audit(ctx, actorID, targetID, opFollow, "follow_requests",
				"", fmt.Sprintf("pending:%d->%d", actorID, targetID))
			s.emit(ctx, notify.Event{
				Type:        models.NotificationTypeFollowRequest,
				RecipientID: targetID,
				ActorID:     actorID,
			})
			state = models.RelationshipRequested
			return nil
		}

		actorNew := actor.Clone()
		targetNew := target.Clone()
		actorNew.Following.Add(targetID)
		targetNew.Followers.Add(actorID)

		if err := s.commitPair(ctx, opFollow, actor, actorNew, target, targetNew,
			func(fresh *models.User) bool { return fresh.Followers.Add(actorID) }); err != nil {
			return err
		}

		s.audit(ctx, actorID, actorID, opFollow, "following",
			actor.Following.String(), actorNew.Following.String())
		s.audit(ctx, actorID, targetID, opFollow, "followers",
			target.Followers.String(), targetNew.Followers.String())
		if target.NotifyFollows {
			s.emit(ctx, notify.Event{
				Type:        models.NotificationTypeFollow,
				RecipientID: targetID,
				ActorID:     actorID,
			})
		}
		s.invalidateSuggestions(ctx, actorID, targetID)

		if target.Following.Contains(actorID) {
			state = models.RelationshipMutual
		} else {
			state = models.RelationshipFollowing
		}
		return nil
	})
	if err != nil {
		return models.RelationshipNone, err
	}
	return state, nil
}

// Unfollow removes the follow edge from actor to target. A retry after an
// earlier partial success is detected via the mirror invariant and completes
// the removal instead of failing.
func (s *relationshipService) Unfollow(ctx context.Context, actorID, targetID uint) error {
	if actorID == targetID {
		return ErrSelfReference
	}
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		actor, err := s.load(ctx, actorID)
		if err != nil {
			return err
		}
		target, err := s.load(ctx, targetID)
		if err != nil {
			return err
		}

		if !actor.Following.Contains(targetID) {
			// The actor side shows no edge. If the target side still does,
			// an earlier unfollow committed on the actor but not the mirror:
			// finish stripping the mirror and report success.
			if !target.Followers.Contains(actorID) {
				return ErrNotFollowing
			}
			targetNew := target.Clone()
			targetNew.Followers.Remove(actorID)
			if err := s.save(context.WithoutCancel(ctx), targetNew, target.Version); err != nil {
				if errors.Is(err, storage.ErrStaleVersion) {
					return errFirstWriteStale
				}
				return fmt.Errorf("failed to finish unfollow mirror strip: %w", err)
			}
			s.audit(ctx, actorID, targetID, opUnfollow, "followers",
				target.Followers.String(), targetNew.Followers.String())
			s.invalidateSuggestions(ctx, actorID, targetID)
			return nil
		}

		actorNew := actor.Clone()
		targetNew := target.Clone()
		actorNew.Following.Remove(targetID)
		targetNew.Followers.Remove(actorID)

		if err := s.commitPair(ctx, opUnfollow, actor, actorNew, target, targetNew,
			func(fresh *models.User) bool { return fresh.Followers.Remove(actorID) }); err != nil {
			return err
		}

		s.audit(ctx, actorID, actorID, opUnfollow, "following",
			actor.Following.String(), actorNew.Following.String())
		s.audit(ctx, actorID, targetID, opUnfollow, "followers",
			target.Followers.String(), targetNew.Followers.String())
		s.invalidateSuggestions(ctx, actorID, targetID)
		return nil
	})
}

// Block adds target to the actor's block list and unilaterally strips every
// follow edge and pending request between the pair, in both directions.
// Blocking an already-blocked user is a no-op success.
func (s *relationshipService) Block(ctx context.Context, actorID, targetID uint) error {
	if actorID == targetID {
		return ErrSelfReference
	}
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		actor, err := s.load(ctx, actorID)
		if err != nil {
			return err
		}
		target, err := s.load(ctx, targetID)
		if err != nil {
			return err
		}

		actorNew := actor.Clone()
		actorChanged := actorNew.Blocked.Add(targetID)
		actorChanged = actorNew.Following.Remove(targetID) || actorChanged
		actorChanged = actorNew.Followers.Remove(targetID) || actorChanged

		targetNew := target.Clone()
		targetChanged := targetNew.Following.Remove(actorID)
		targetChanged = targetNew.Followers.Remove(actorID) || targetChanged

		if actorChanged || targetChanged {
			if err := s.commitPair(ctx, opBlock, actor, actorNew, target, targetNew,
				func(fresh *models.User) bool {
					changed := fresh.Following.Remove(actorID)
					return fresh.Followers.Remove(actorID) || changed
				}); err != nil {
				return err
			}
		}

		// Pending requests cannot survive a block in either direction.
		if err := s.requests.ResolvePendingBetween(ctx, actorID, targetID, models.FollowRequestStatusCancelled); err != nil {
			log.Printf("Error cancelling pending requests between %d and %d after block: %v", actorID, targetID, err)
		}

		s.audit(ctx, actorID, actorID, opBlock, "blocked",
			actor.Blocked.String(), actorNew.Blocked.String())
		s.invalidateSuggestions(ctx, actorID, targetID)
		return nil
	})
}

// Unblock removes target from the actor's block list. Prior follow edges are
// not restored. Only the actor's aggregate changes, so this is a single
// optimistic write.
func (s *relationshipService) Unblock(ctx context.Context, actorID, targetID uint) error {
	if actorID == targetID {
		return ErrSelfReference
	}
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		actor, err := s.load(ctx, actorID)
		if err != nil {
			return err
		}
		actorNew := actor.Clone()
		if !actorNew.Blocked.Remove(targetID) {
			return nil // not blocked; unblock is idempotent
		}
		if err := s.save(ctx, actorNew, actor.Version); err != nil {
			if errors.Is(err, storage.ErrStaleVersion) {
				return errFirstWriteStale
			}
			return fmt.Errorf("failed to save unblock for user %d: %w", actorID, err)
		}
		s.audit(ctx, actorID, actorID, opUnblock, "blocked",
			actor.Blocked.String(), actorNew.Blocked.String())
		s.invalidateSuggestions(ctx, actorID, targetID)
		return nil
	})
}

// AcceptRequest turns the pending request from requester to actor into an
// active follow edge. The actor (the request's target) writes first.
func (s *relationshipService) AcceptRequest(ctx context.Context, actorID, requesterID uint) error {
	if actorID == requesterID {
		return ErrSelfReference
	}
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		req, err := s.requests.FindPending(ctx, requesterID, actorID)
		if err != nil {
			return fmt.Errorf("failed to look up follow request: %w", err)
		}
		if req == nil {
			return ErrRequestNotFound
		}

		actor, err := s.load(ctx, actorID)
		if err != nil {
			return err
		}
		requester, err := s.load(ctx, requesterID)
		if err != nil {
			return err
		}
		if requester.IsDeleted {
			// Requester vanished while the request sat pending; resolve it.
			_ = s.requests.UpdateStatus(ctx, req.ID, models.FollowRequestStatusCancelled)
			return ErrUserNotFound
		}
		if actor.BlockedEitherWay(requester) {
			return ErrBlocked
		}

		actorNew := actor.Clone()
		requesterNew := requester.Clone()
		actorNew.Followers.Add(requesterID)
		requesterNew.Following.Add(actorID)

		if err := s.commitPair(ctx, opAcceptRequest, actor, actorNew, requester, requesterNew,
			func(fresh *models.User) bool { return fresh.Following.Add(actorID) }); err != nil {
			return err
		}

		// Edges are committed; the pending entry must not survive them.
		// A failure here is queued for repair rather than undone.
		if err := s.requests.UpdateStatus(ctx, req.ID, models.FollowRequestStatusAccepted); err != nil {
			log.Printf("Error marking follow request %d accepted: %v", req.ID, err)
			s.queueRepair(ctx, actorID, requesterID, opAcceptRequest, err)
		}

		s.audit(ctx, actorID, actorID, opAcceptRequest, "followers",
			actor.Followers.String(), actorNew.Followers.String())
		s.emit(ctx, notify.Event{
			Type:        models.NotificationTypeRequestAccepted,
			RecipientID: requesterID,
			ActorID:     actorID,
		})
		s.invalidateSuggestions(ctx, actorID, requesterID)
		return nil
	})
}

// RejectRequest resolves the pending request from requester to actor without
// creating an edge.
func (s *relationshipService) RejectRequest(ctx context.Context, actorID, requesterID uint) error {
	return s.resolveRequest(ctx, requesterID, actorID, actorID, opRejectRequest, models.FollowRequestStatusRejected)
}

// CancelRequest lets the requester withdraw their own pending request to target.
func (s *relationshipService) CancelRequest(ctx context.Context, actorID, targetID uint) error {
	return s.resolveRequest(ctx, actorID, targetID, actorID, opCancelRequest, models.FollowRequestStatusCancelled)
}

func (s *relationshipService) resolveRequest(ctx context.Context, requesterID, targetID, actorID uint, op string, status models.FollowRequestStatus) error {
	if requesterID == targetID {
		return ErrSelfReference
	}
	req, err := s.requests.FindPending(ctx, requesterID, targetID)
	if err != nil {
		return fmt.Errorf("failed to look up follow request: %w", err)
	}
	if req == nil {
		return ErrRequestNotFound
	}
	if err := s.requests.UpdateStatus(ctx, req.ID, status); err != nil {
		return fmt.Errorf("failed to resolve follow request %d: %w", req.ID, err)
	}
	s.audit(ctx, actorID, requesterID, op, "follow_requests",
		string(models.FollowRequestStatusPending), string(status))
	return nil
}

// CheckMirror verifies the pair invariants between two users.
func (s *relationshipService) CheckMirror(ctx context.Context, userID1, userID2 uint) (bool, error) {
	u1, err := s.load(ctx, userID1)
	if err != nil {
		return false, err
	}
	u2, err := s.load(ctx, userID2)
	if err != nil {
		return false, err
	}
	pending, err := s.requests.ListPendingBetween(ctx, userID1, userID2)
	if err != nil {
		return false, fmt.Errorf("failed to list pending requests: %w", err)
	}
	return pairConsistent(u1, u2, pending), nil
}

// pairConsistent reports whether the mirror invariant, block supremacy, and
// pending/edge exclusivity all hold between the two aggregates.
func pairConsistent(u1, u2 *models.User, pending []models.FollowRequest) bool {
	blocked := u1.BlockedEitherWay(u2)
	if blocked {
		if u1.Following.Contains(u2.ID) || u1.Followers.Contains(u2.ID) ||
			u2.Following.Contains(u1.ID) || u2.Followers.Contains(u1.ID) ||
			len(pending) > 0 {
			return false
		}
		return true
	}
	if u1.Following.Contains(u2.ID) != u2.Followers.Contains(u1.ID) {
		return false
	}
	if u2.Following.Contains(u1.ID) != u1.Followers.Contains(u2.ID) {
		return false
	}
	for _, req := range pending {
		if req.Status != models.FollowRequestStatusPending {
			continue
		}
		// A pending request and an active edge must not coexist.
		requesterFollowing := (req.RequesterID == u1.ID && u1.Following.Contains(u2.ID)) ||
			(req.RequesterID == u2.ID && u2.Following.Contains(u1.ID))
		if requesterFollowing {
			return false
		}
	}
	return true
}

// RepairPair restores the pair invariants. Each user's own following and
// blocked lists are taken as authoritative (the acting side writes first, so
// a broken mirror always means a missing or surplus entry on the passive
// side). Block supremacy wins over everything else.
func (s *relationshipService) RepairPair(ctx context.Context, userID1, userID2 uint) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		u1, err := s.load(ctx, userID1)
		if err != nil {
			return err
		}
		u2, err := s.load(ctx, userID2)
		if err != nil {
			return err
		}
		pending, err := s.requests.ListPendingBetween(ctx, userID1, userID2)
		if err != nil {
			return fmt.Errorf("failed to list pending requests: %w", err)
		}
		if pairConsistent(u1, u2, pending) {
			return nil
		}

		n1 := u1.Clone()
		n2 := u2.Clone()
		blocked := u1.BlockedEitherWay(u2)
		if blocked {
			n1.Following.Remove(u2.ID)
			n1.Followers.Remove(u2.ID)
			n2.Following.Remove(u1.ID)
			n2.Followers.Remove(u1.ID)
			if err := s.requests.ResolvePendingBetween(ctx, userID1, userID2, models.FollowRequestStatusCancelled); err != nil {
				return fmt.Errorf("failed to cancel pending requests during repair: %w", err)
			}
		} else {
			// Mirror the authoritative following lists onto the followers lists.
			syncMirror(n1, n2)
			syncMirror(n2, n1)
			// An established edge resolves any matching pending request.
			for _, req := range pending {
				if req.RequesterID == n1.ID && n1.Following.Contains(n2.ID) ||
					req.RequesterID == n2.ID && n2.Following.Contains(n1.ID) {
					if err := s.requests.UpdateStatus(ctx, req.ID, models.FollowRequestStatusAccepted); err != nil {
						return fmt.Errorf("failed to resolve pending request %d during repair: %w", req.ID, err)
					}
				}
			}
		}

		if err := s.commitPair(ctx, opRepair, u1, n1, u2, n2,
			func(fresh *models.User) bool {
				if blocked {
					changed := fresh.Following.Remove(u1.ID)
					return fresh.Followers.Remove(u1.ID) || changed
				}
				if n1.Following.Contains(fresh.ID) {
					return fresh.Followers.Add(n1.ID)
				}
				return fresh.Followers.Remove(n1.ID)
			}); err != nil {
			return err
		}
		s.audit(ctx, userID1, userID2, opRepair, "pair", "inconsistent", "repaired")
		s.invalidateSuggestions(ctx, userID1, userID2)
		return nil
	})
}

// syncMirror makes to.Followers agree with from.Following for the pair.
func syncMirror(from, to *models.User) {
	if from.Following.Contains(to.ID) {
		to.Followers.Add(from.ID)
	} else {
		to.Followers.Remove(from.ID)
	}
}

// withConflictRetry re-runs fn with fresh reads while its first aggregate
// write keeps losing the optimistic race, up to the configured budget, then
// surfaces Conflict. fn signals that safe-to-rerun case with errFirstWriteStale.
func (s *relationshipService) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !errors.Is(err, errFirstWriteStale) {
			return err
		}
		if attempt >= s.cfg.ConflictRetries {
			return ErrConflict
		}
		if s.cfg.RetryBackoff > 0 {
			select {
			case <-time.After(s.cfg.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// commitPair runs the dual-aggregate write sequence:
//
//  1. write the acting side (first) with its loaded version — a stale write
//     here aborts the whole operation with no state changed;
//  2. write the passive side (second); if that write fails, retry it alone
//     with backoff, re-reading the aggregate and re-applying the idempotent
//     reapply mutation; if retries exhaust, queue a repair record and
//     surface PartialFailure.
//
// Caller cancellation is honored only before step 1 commits; once the first
// write is in flight the tail runs on a cancellation-free context so the
// mirror is never abandoned half-written by a disappearing caller.
func (s *relationshipService) commitPair(
	ctx context.Context,
	op string,
	first, firstNew, second, secondNew *models.User,
	reapply func(fresh *models.User) bool,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.save(ctx, firstNew, first.Version); err != nil {
		if errors.Is(err, storage.ErrStaleVersion) {
			return errFirstWriteStale
		}
		return fmt.Errorf("failed to save user %d during %s: %w", first.ID, op, err)
	}

	tail := context.WithoutCancel(ctx)
	fresh, expected := secondNew, second.Version
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MirrorRetries; attempt++ {
		if attempt > 0 {
			if s.cfg.RetryBackoff > 0 {
				time.Sleep(s.cfg.RetryBackoff)
			}
			reloaded, err := s.store.Load(tail, second.ID)
			if err != nil {
				lastErr = err
				continue
			}
			if !reapply(reloaded) {
				return nil // a concurrent writer already applied the mirror
			}
			fresh, expected = reloaded, reloaded.Version
		}
		if err := s.save(tail, fresh, expected); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	log.Printf("Mirror write for %s (%d -> %d) failed after %d retries: %v",
		op, first.ID, second.ID, s.cfg.MirrorRetries, lastErr)
	s.queueRepair(tail, first.ID, second.ID, op, lastErr)
	return ErrPartialFailure
}

// queueRepair records a pair inconsistency for the reconciler. Best-effort;
// a failure to record is logged loudly since it delays the repair to the
// next full scan.
func (s *relationshipService) queueRepair(ctx context.Context, actorID, targetID uint, op string, cause error) {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	repair := &models.MirrorRepair{
		ActorID:   actorID,
		TargetID:  targetID,
		Operation: op,
		Detail:    detail,
	}
	if err := s.repairs.Create(ctx, repair); err != nil {
		log.Printf("ERROR: failed to queue mirror repair for (%d, %d) after %s: %v", actorID, targetID, op, err)
	}
}

// audit records one field change, best-effort.
func (s *relationshipService) audit(ctx context.Context, actorID, subjectID uint, op, field, oldValue, newValue string) {
	entry := &models.AuditRecord{
		ActorID:   actorID,
		SubjectID: subjectID,
		Operation: op,
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
		Origin:    s.origin,
	}
	if err := s.audits.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Printf("Error recording audit entry for %s by user %d: %v", op, actorID, err)
	}
}

// invalidateSuggestions drops the cached suggestion lists of both pair
// members after an edge or block change, so a just-followed or just-blocked
// user does not linger in a cached feed for the rest of its TTL. Best-effort.
func (s *relationshipService) invalidateSuggestions(ctx context.Context, userIDs ...uint) {
	if s.suggestions == nil {
		return
	}
	tail := context.WithoutCancel(ctx)
	for _, id := range userIDs {
		if err := s.suggestions.Invalidate(tail, id); err != nil {
			log.Printf("Error invalidating suggestion cache for user %d: %v", id, err)
		}
	}
}

// emit publishes a notification event, best-effort, after the relationship
// change is fully committed. Failures are logged and never propagated.
func (s *relationshipService) emit(ctx context.Context, event notify.Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()
	if err := s.sink.Emit(context.WithoutCancel(ctx), event); err != nil {
		log.Printf("Error emitting %s notification to user %d: %v", event.Type, event.RecipientID, err)
	}
}
