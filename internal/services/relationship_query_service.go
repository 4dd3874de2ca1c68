package services

import (
	"context"
	"errors"
	"fmt"

	"sn-go/internal/models"
	"sn-go/internal/storage"
)

var ErrInvalidPage = errors.New("无效的分页参数")

// RelationshipQueryService serves the one-hop relationship lists with the
// derived per-item flags. Edge lists preserve edge-creation order, which is
// the stable pagination key. Entries pointing at deleted or blocked-out users
// are filtered defensively even though the engine's invariants should prevent
// them from persisting.
type RelationshipQueryService interface {
	ListFollowers(ctx context.Context, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error)
	ListFollowing(ctx context.Context, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error)
	ListBlocked(ctx context.Context, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error)
	// ListPendingRequests returns the incoming pending follow requests with
	// requester summaries attached.
	ListPendingRequests(ctx context.Context, userID uint) ([]*models.FollowRequestWithRequester, error)
}

type relationshipQueryService struct {
	store    storage.UserStore
	requests storage.FollowRequestRepository
}

// NewRelationshipQueryService creates a new RelationshipQueryService instance.
func NewRelationshipQueryService(store storage.UserStore, requests storage.FollowRequestRepository) RelationshipQueryService {
	return &relationshipQueryService{store: store, requests: requests}
}

func (s *relationshipQueryService) ListFollowers(ctx context.Context, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error) {
	return s.listEdges(ctx, userID, page, pageSize, func(u *models.User) models.IDList { return u.Followers })
}

func (s *relationshipQueryService) ListFollowing(ctx context.Context, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error) {
	return s.listEdges(ctx, userID, page, pageSize, func(u *models.User) models.IDList { return u.Following })
}

func (s *relationshipQueryService) ListBlocked(ctx context.Context, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error) {
	return s.listEdges(ctx, userID, page, pageSize, func(u *models.User) models.IDList { return u.Blocked })
}

// listEdges paginates one of the owner's edge lists and attaches the derived
// isMutual / isPending flags per entry.
func (s *relationshipQueryService) listEdges(ctx context.Context, userID uint, page, pageSize int, edges func(*models.User) models.IDList) ([]models.RelationshipSummary, int, error) {
	if page < 1 || pageSize < 1 {
		return nil, 0, ErrInvalidPage
	}

	owner, err := s.store.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, 0, ErrUserNotFound
		}
		return nil, 0, fmt.Errorf("failed to load user %d: %w", userID, err)
	}

	list := edges(owner)
	total := len(list)

	start := (page - 1) * pageSize
	if start >= total {
		return []models.RelationshipSummary{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	pageIDs := list[start:end]

	peers, err := s.store.LoadMany(ctx, pageIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load peers for user %d: %w", userID, err)
	}
	peerByID := make(map[uint]*models.User, len(peers))
	for _, p := range peers {
		peerByID[p.ID] = p
	}

	pending, err := s.requests.ListPendingInvolving(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pending requests for user %d: %w", userID, err)
	}
	pendingWith := make(map[uint]bool)
	for _, req := range pending {
		if req.RequesterID == userID {
			pendingWith[req.TargetID] = true
		} else {
			pendingWith[req.RequesterID] = true
		}
	}

	items := make([]models.RelationshipSummary, 0, len(pageIDs))
	for _, id := range pageIDs {
		peer, ok := peerByID[id]
		if !ok || peer.IsDeleted {
			continue // stale entry; the aggregate is gone or deactivated
		}
		if owner.BlockedEitherWay(peer) && !owner.Blocked.Contains(id) {
			// A peer that blocked the owner never shows up, except in the
			// owner's own blocked list.
			continue
		}
		items = append(items, models.RelationshipSummary{
			User:      peer.Summary(),
			IsMutual:  owner.Following.Contains(id) && peer.Following.Contains(userID),
			IsPending: pendingWith[id],
		})
	}
	return items, total, nil
}

func (s *relationshipQueryService) ListPendingRequests(ctx context.Context, userID uint) ([]*models.FollowRequestWithRequester, error) {
	pendingRequests, err := s.requests.GetPendingForTarget(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending follow requests for user %d: %w", userID, err)
	}
	if len(pendingRequests) == 0 {
		return []*models.FollowRequestWithRequester{}, nil
	}

	ids := make([]uint, 0, len(pendingRequests))
	for _, req := range pendingRequests {
		ids = append(ids, req.RequesterID)
	}
	requesters, err := s.store.LoadMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load requesters: %w", err)
	}
	byID := make(map[uint]*models.User, len(requesters))
	for _, u := range requesters {
		byID[u.ID] = u
	}

	out := make([]*models.FollowRequestWithRequester, 0, len(pendingRequests))
	for _, req := range pendingRequests {
		requester, ok := byID[req.RequesterID]
		if !ok || requester.IsDeleted {
			continue
		}
		out = append(out, &models.FollowRequestWithRequester{
			FollowRequest: req,
			Requester:     requester.Summary(),
		})
	}
	return out, nil
}
