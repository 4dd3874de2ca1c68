package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"sn-go/internal/models"
)

// FollowRequestRepository defines the interface for follow request data operations.
// Pending requests are directional: FindPending(a, b) only matches a -> b.
type FollowRequestRepository interface {
	Create(ctx context.Context, request *models.FollowRequest) error
	FindPending(ctx context.Context, requesterID, targetID uint) (*models.FollowRequest, error)
	// ListPendingBetween returns pending requests between the two users in
	// either direction. Used for derived-state computation and block stripping.
	ListPendingBetween(ctx context.Context, userID1, userID2 uint) ([]models.FollowRequest, error)
	// ListPendingInvolving returns every pending request where the user is
	// requester or target.
	ListPendingInvolving(ctx context.Context, userID uint) ([]models.FollowRequest, error)
	GetPendingForTarget(ctx context.Context, targetID uint) ([]models.FollowRequest, error)
	UpdateStatus(ctx context.Context, requestID uint, status models.FollowRequestStatus) error
	// ResolvePendingBetween moves every pending request between the two users
	// (either direction) to the given terminal status. No-op if none exist.
	ResolvePendingBetween(ctx context.Context, userID1, userID2 uint, status models.FollowRequestStatus) error
}

type gormFollowRequestRepository struct {
	db *gorm.DB
}

func NewGormFollowRequestRepository(db *gorm.DB) FollowRequestRepository {
	return &gormFollowRequestRepository{db: db}
}

func (r *gormFollowRequestRepository) Create(ctx context.Context, request *models.FollowRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

// FindPending checks for an existing pending request from requesterID to targetID.
func (r *gormFollowRequestRepository) FindPending(ctx context.Context, requesterID, targetID uint) (*models.FollowRequest, error) {
	var request models.FollowRequest
	err := r.db.WithContext(ctx).
		Where("requester_id = ? AND target_id = ?", requesterID, targetID).
		Where("status = ?", models.FollowRequestStatusPending).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No pending request is not an error here
		}
		return nil, err
	}
	return &request, nil
}

func (r *gormFollowRequestRepository) ListPendingBetween(ctx context.Context, userID1, userID2 uint) ([]models.FollowRequest, error) {
	var requests []models.FollowRequest
	err := r.db.WithContext(ctx).
		Where("(requester_id = ? AND target_id = ?) OR (requester_id = ? AND target_id = ?)",
			userID1, userID2, userID2, userID1).
		Where("status = ?", models.FollowRequestStatusPending).
		Find(&requests).Error
	return requests, err
}

func (r *gormFollowRequestRepository) ListPendingInvolving(ctx context.Context, userID uint) ([]models.FollowRequest, error) {
	var requests []models.FollowRequest
	err := r.db.WithContext(ctx).
		Where("requester_id = ? OR target_id = ?", userID, userID).
		Where("status = ?", models.FollowRequestStatusPending).
		Find(&requests).Error
	return requests, err
}

func (r *gormFollowRequestRepository) GetPendingForTarget(ctx context.Context, targetID uint) ([]models.FollowRequest, error) {
	var requests []models.FollowRequest
	err := r.db.WithContext(ctx).
		Where("target_id = ? AND status = ?", targetID, models.FollowRequestStatusPending).
		Order("created_at ASC").
		Find(&requests).Error
	return requests, err
}

func (r *gormFollowRequestRepository) UpdateStatus(ctx context.Context, requestID uint, status models.FollowRequestStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.FollowRequest{}).
		Where("id = ?", requestID).
		Update("status", status).Error
}

func (r *gormFollowRequestRepository) ResolvePendingBetween(ctx context.Context, userID1, userID2 uint, status models.FollowRequestStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.FollowRequest{}).
		Where("(requester_id = ? AND target_id = ?) OR (requester_id = ? AND target_id = ?)",
			userID1, userID2, userID2, userID1).
		Where("status = ?", models.FollowRequestStatusPending).
		Update("status", status).Error
}
