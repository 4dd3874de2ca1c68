package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"sn-go/internal/config"
	"sn-go/internal/models"
	"sn-go/internal/storage"
)

// SuggestionCache 缓存每个用户的推荐列表。
// The redis implementation lives in internal/redis; tests use a nil cache.
type SuggestionCache interface {
	// Get returns the cached suggestions and whether the entry was present.
	Get(ctx context.Context, userID uint) ([]*models.UserSummary, bool, error)
	Set(ctx context.Context, userID uint, items []*models.UserSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, userID uint) error
}

// SuggestionService ranks candidate users for the suggested-friends feed.
type SuggestionService interface {
	SuggestUsers(ctx context.Context, actorID uint, limit int) ([]*models.UserSummary, error)
}

type suggestionService struct {
	store storage.UserStore
	cache SuggestionCache // may be nil
	cfg   config.SuggestionConfig
}

// NewSuggestionService creates a new SuggestionService instance.
func NewSuggestionService(store storage.UserStore, cache SuggestionCache, cfg config.SuggestionConfig) SuggestionService {
	return &suggestionService{store: store, cache: cache, cfg: cfg}
}

func (s *suggestionService) SuggestUsers(ctx context.Context, actorID uint, limit int) ([]*models.UserSummary, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, actorID)
		if err != nil {
			// 缓存故障不应阻塞推荐计算
			log.Printf("suggestion cache read failed for user %d: %v", actorID, err)
		} else if ok {
			if len(cached) > limit {
				cached = cached[:limit]
			}
			return cached, nil
		}
	}

	actor, err := s.store.Load(ctx, actorID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user %d: %w", actorID, err)
	}

	pool, err := s.store.ListCandidates(ctx, actorID, s.cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestion candidates: %w", err)
	}

	ranked := Rank(actor, pool, limit, s.cfg, time.Now())

	items := make([]*models.UserSummary, 0, len(ranked))
	for _, c := range ranked {
		items = append(items, c.Summary())
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, actorID, items, s.cfg.CacheTTL); err != nil {
			log.Printf("suggestion cache write failed for user %d: %v", actorID, err)
		}
	}
	return items, nil
}

// Rank filters and scores the candidate pool for the actor. 纯函数，不做任何持久化。
// Candidates that are the actor, deleted, unverified, blocked in either
// direction, or already followed are excluded. Only positive scores survive.
// Ties break by ascending candidate id so output is stable across equal scores.
func Rank(actor *models.User, pool []*models.User, limit int, cfg config.SuggestionConfig, now time.Time) []*models.User {
	type scored struct {
		user  *models.User
		score float64
	}
	kept := make([]scored, 0, len(pool))
	for _, cand := range pool {
		if cand.ID == actor.ID || cand.IsDeleted || !cand.IsVerified {
			continue
		}
		if actor.BlockedEitherWay(cand) {
			continue
		}
		if actor.Following.Contains(cand.ID) {
			continue
		}
		score := scoreCandidate(actor, cand, cfg, now)
		if score <= 0 {
			continue
		}
		kept = append(kept, scored{user: cand, score: score})
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].user.ID < kept[j].user.ID
	})

	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	out := make([]*models.User, 0, len(kept))
	for _, sc := range kept {
		out = append(out, sc.user)
	}
	return out
}

func scoreCandidate(actor, cand *models.User, cfg config.SuggestionConfig, now time.Time) float64 {
	mutual := intersectionCount(actor.Following, cand.Followers) +
		intersectionCount(cand.Following, actor.Followers)
	score := cfg.MutualWeight * float64(mutual)

	if actor.Locale != "" && actor.Locale == cand.Locale {
		score += cfg.LocaleWeight
	}
	if cand.LastActiveAt != nil && now.Sub(*cand.LastActiveAt) <= cfg.RecencyWindow {
		score += cfg.RecencyWeight
	}
	return score
}

func intersectionCount(a, b models.IDList) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[uint]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	n := 0
	for _, id := range b {
		if _, ok := set[id]; ok {
			n++
		}
	}
	return n
}
