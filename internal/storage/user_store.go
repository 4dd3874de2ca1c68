package storage

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"sn-go/internal/models"
)

var (
	// ErrUserNotFound is returned when no aggregate exists for the given id.
	ErrUserNotFound = errors.New("user not found")
	// ErrStaleVersion is returned by Save when the stored aggregate changed
	// since it was loaded. The caller must re-read and retry.
	ErrStaleVersion = errors.New("stale aggregate version")
)

// saveColumns are the aggregate fields written by an optimistic Save.
// The edge lists are serialized JSON columns; version is always bumped.
var saveColumns = []string{
	"display_name", "avatar_url", "bio", "locale",
	"followers", "following", "blocked",
	"visibility", "notify_follows", "is_verified", "is_deleted",
	"last_active_at", "version", "updated_at",
}

// UserStore is the key-addressable store of User aggregates. Each aggregate is
// independently loadable and savable; Save uses optimistic concurrency keyed
// on the version read by Load. There is no cross-aggregate transaction: the
// relationship engine layers its dual-write protocol on top of this contract.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Load(ctx context.Context, id uint) (*models.User, error)
	LoadMany(ctx context.Context, ids []uint) ([]*models.User, error)
	// Save persists the aggregate if its stored version still equals
	// expectedVersion, and returns the new version. ErrStaleVersion otherwise.
	Save(ctx context.Context, user *models.User, expectedVersion uint64) (uint64, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	SearchUsers(ctx context.Context, query string, currentUserID uint) ([]*models.UserSummary, error)
	// ListCandidates returns up to limit verified, non-deleted aggregates
	// other than excludeID, in stable id order. Suggestion candidate pool.
	ListCandidates(ctx context.Context, excludeID uint, limit int) ([]*models.User, error)
}

// gormUserStore implements UserStore using GORM.
type gormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore creates a new GORM-based UserStore.
func NewGormUserStore(db *gorm.DB) UserStore {
	return &gormUserStore{db: db}
}

func (s *gormUserStore) Create(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *gormUserStore) Load(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *gormUserStore) LoadMany(ctx context.Context, ids []uint) ([]*models.User, error) {
	var users []*models.User
	if len(ids) == 0 {
		return users, nil
	}
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// Save persists the aggregate guarded by its version. The WHERE clause carries
// the expected version so a concurrent writer makes RowsAffected zero instead
// of silently overwriting.
func (s *gormUserStore) Save(ctx context.Context, user *models.User, expectedVersion uint64) (uint64, error) {
	user.Version = expectedVersion + 1
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND version = ?", user.ID, expectedVersion).
		Select(saveColumns).
		Updates(user)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing aggregate from a concurrent write.
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, ErrUserNotFound
		}
		return 0, ErrStaleVersion
	}
	return user.Version, nil
}

func (s *gormUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *gormUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SearchUsers performs a case-insensitive match on username and display name,
// excluding the searching user and deactivated accounts.
func (s *gormUserStore) SearchUsers(ctx context.Context, query string, currentUserID uint) ([]*models.UserSummary, error) {
	var summaries []*models.UserSummary
	searchTerm := "%" + strings.ToLower(query) + "%"

	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "username", "display_name", "avatar_url", "is_verified").
		Where("(LOWER(username) LIKE ? OR LOWER(display_name) LIKE ?) AND id != ? AND is_deleted = ?",
			searchTerm, searchTerm, currentUserID, false).
		Limit(10).
		Find(&summaries).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return summaries, nil
		}
		return nil, err
	}
	return summaries, nil
}

func (s *gormUserStore) ListCandidates(ctx context.Context, excludeID uint, limit int) ([]*models.User, error) {
	var users []*models.User
	err := s.db.WithContext(ctx).
		Where("id != ? AND is_deleted = ? AND is_verified = ?", excludeID, false, true).
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
