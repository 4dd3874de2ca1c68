package storage

import (
	"context"

	"gorm.io/gorm"

	"sn-go/internal/models"
)

// AuditRepository records field-level changes made by relationship operations.
// Writes are best-effort: the engine logs a failed record but never fails the
// operation because of it.
type AuditRepository interface {
	Record(ctx context.Context, entry *models.AuditRecord) error
	ListForActor(ctx context.Context, actorID uint, limit int) ([]models.AuditRecord, error)
}

type gormAuditRepository struct {
	db *gorm.DB
}

func NewGormAuditRepository(db *gorm.DB) AuditRepository {
	return &gormAuditRepository{db: db}
}

func (r *gormAuditRepository) Record(ctx context.Context, entry *models.AuditRecord) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormAuditRepository) ListForActor(ctx context.Context, actorID uint, limit int) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	err := r.db.WithContext(ctx).
		Where("actor_id = ?", actorID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
