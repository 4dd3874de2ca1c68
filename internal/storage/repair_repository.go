package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"sn-go/internal/models"
)

// RepairRepository persists mirror-repair records written when a dual-write
// commits on one aggregate but exhausts its retries on the other.
type RepairRepository interface {
	Create(ctx context.Context, repair *models.MirrorRepair) error
	ListUnresolved(ctx context.Context, limit int) ([]models.MirrorRepair, error)
	MarkResolved(ctx context.Context, repairID uint) error
	IncrementAttempts(ctx context.Context, repairID uint) error
}

type gormRepairRepository struct {
	db *gorm.DB
}

func NewGormRepairRepository(db *gorm.DB) RepairRepository {
	return &gormRepairRepository{db: db}
}

func (r *gormRepairRepository) Create(ctx context.Context, repair *models.MirrorRepair) error {
	return r.db.WithContext(ctx).Create(repair).Error
}

func (r *gormRepairRepository) ListUnresolved(ctx context.Context, limit int) ([]models.MirrorRepair, error) {
	var repairs []models.MirrorRepair
	err := r.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&repairs).Error
	return repairs, err
}

func (r *gormRepairRepository) MarkResolved(ctx context.Context, repairID uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.MirrorRepair{}).
		Where("id = ?", repairID).
		Update("resolved_at", &now).Error
}

func (r *gormRepairRepository) IncrementAttempts(ctx context.Context, repairID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.MirrorRepair{}).
		Where("id = ?", repairID).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}
