package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sn-go/internal/models"
)

// MemoryUserStore is an in-memory UserStore with the same optimistic-save
// semantics as the GORM implementation. Used by tests and local development.
// SaveHook, when set, runs before a save is applied; returning an error aborts
// that save, which lets tests inject a failure between the two writes of a
// dual-aggregate mutation.
type MemoryUserStore struct {
	mu     sync.Mutex
	users  map[uint]*models.User
	nextID uint

	SaveHook func(user *models.User, expectedVersion uint64) error
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[uint]*models.User), nextID: 1}
}

func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		user.ID = s.nextID
		s.nextID++
	} else if user.ID >= s.nextID {
		s.nextID = user.ID + 1
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = user.Clone()
	return nil
}

func (s *MemoryUserStore) Load(ctx context.Context, id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryUserStore) LoadMany(ctx context.Context, ids []uint) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u.Clone())
		}
	}
	return out, nil
}

func (s *MemoryUserStore) Save(ctx context.Context, user *models.User, expectedVersion uint64) (uint64, error) {
	s.mu.Lock()
	hook := s.SaveHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(user, expectedVersion); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[user.ID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if stored.Version != expectedVersion {
		return 0, ErrStaleVersion
	}
	user.Version = expectedVersion + 1
	user.UpdatedAt = time.Now()
	s.users[user.ID] = user.Clone()
	return user.Version, nil
}

func (s *MemoryUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u.Clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u.Clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryUserStore) SearchUsers(ctx context.Context, query string, currentUserID uint) ([]*models.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []*models.UserSummary
	for _, u := range s.sortedUsers() {
		if u.ID == currentUserID || u.IsDeleted {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) ||
			strings.Contains(strings.ToLower(u.DisplayName), q) {
			out = append(out, u.Summary())
		}
		if len(out) == 10 {
			break
		}
	}
	return out, nil
}

func (s *MemoryUserStore) ListCandidates(ctx context.Context, excludeID uint, limit int) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.User
	for _, u := range s.sortedUsers() {
		if u.ID == excludeID || u.IsDeleted || !u.IsVerified {
			continue
		}
		out = append(out, u.Clone())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// sortedUsers returns the stored aggregates in id order. Caller must hold mu.
func (s *MemoryUserStore) sortedUsers() []*models.User {
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemoryFollowRequestRepository is an in-memory FollowRequestRepository.
type MemoryFollowRequestRepository struct {
	mu       sync.Mutex
	requests []*models.FollowRequest
	nextID   uint
}

func NewMemoryFollowRequestRepository() *MemoryFollowRequestRepository {
	return &MemoryFollowRequestRepository{nextID: 1}
}

func (r *MemoryFollowRequestRepository) Create(ctx context.Context, request *models.FollowRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	request.ID = r.nextID
	r.nextID++
	request.CreatedAt = time.Now()
	cp := *request
	r.requests = append(r.requests, &cp)
	return nil
}

func (r *MemoryFollowRequestRepository) FindPending(ctx context.Context, requesterID, targetID uint) (*models.FollowRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.Status == models.FollowRequestStatusPending &&
			req.RequesterID == requesterID && req.TargetID == targetID {
			cp := *req
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryFollowRequestRepository) ListPendingBetween(ctx context.Context, userID1, userID2 uint) ([]models.FollowRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FollowRequest
	for _, req := range r.requests {
		if req.Status != models.FollowRequestStatusPending {
			continue
		}
		if (req.RequesterID == userID1 && req.TargetID == userID2) ||
			(req.RequesterID == userID2 && req.TargetID == userID1) {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *MemoryFollowRequestRepository) ListPendingInvolving(ctx context.Context, userID uint) ([]models.FollowRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FollowRequest
	for _, req := range r.requests {
		if req.Status != models.FollowRequestStatusPending {
			continue
		}
		if req.RequesterID == userID || req.TargetID == userID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *MemoryFollowRequestRepository) GetPendingForTarget(ctx context.Context, targetID uint) ([]models.FollowRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FollowRequest
	for _, req := range r.requests {
		if req.Status == models.FollowRequestStatusPending && req.TargetID == targetID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *MemoryFollowRequestRepository) UpdateStatus(ctx context.Context, requestID uint, status models.FollowRequestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.ID == requestID {
			req.Status = status
			return nil
		}
	}
	return nil
}

func (r *MemoryFollowRequestRepository) ResolvePendingBetween(ctx context.Context, userID1, userID2 uint, status models.FollowRequestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.Status != models.FollowRequestStatusPending {
			continue
		}
		if (req.RequesterID == userID1 && req.TargetID == userID2) ||
			(req.RequesterID == userID2 && req.TargetID == userID1) {
			req.Status = status
		}
	}
	return nil
}

// MemoryAuditRepository is an in-memory AuditRepository.
type MemoryAuditRepository struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Record(ctx context.Context, entry *models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uint(len(r.records) + 1)
	entry.CreatedAt = time.Now()
	r.records = append(r.records, *entry)
	return nil
}

func (r *MemoryAuditRepository) ListForActor(ctx context.Context, actorID uint, limit int) ([]models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].ActorID == actorID {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

// MemoryRepairRepository is an in-memory RepairRepository.
type MemoryRepairRepository struct {
	mu      sync.Mutex
	repairs []*models.MirrorRepair
	nextID  uint
}

func NewMemoryRepairRepository() *MemoryRepairRepository {
	return &MemoryRepairRepository{nextID: 1}
}

func (r *MemoryRepairRepository) Create(ctx context.Context, repair *models.MirrorRepair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	repair.ID = r.nextID
	r.nextID++
	repair.CreatedAt = time.Now()
	cp := *repair
	r.repairs = append(r.repairs, &cp)
	return nil
}

func (r *MemoryRepairRepository) ListUnresolved(ctx context.Context, limit int) ([]models.MirrorRepair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MirrorRepair
	for _, rep := range r.repairs {
		if rep.ResolvedAt == nil {
			out = append(out, *rep)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepairRepository) MarkResolved(ctx context.Context, repairID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.repairs {
		if rep.ID == repairID {
			now := time.Now()
			rep.ResolvedAt = &now
			return nil
		}
	}
	return nil
}

func (r *MemoryRepairRepository) IncrementAttempts(ctx context.Context, repairID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.repairs {
		if rep.ID == repairID {
			rep.Attempts++
			return nil
		}
	}
	return nil
}
