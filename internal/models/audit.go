package models

// AuditRecord captures one field change applied by a relationship operation.
// Written best-effort alongside every mutation; used for dispute resolution.
type AuditRecord struct {
	BaseModel
	ActorID   uint   `gorm:"not null;index"`
	SubjectID uint   `gorm:"not null;index"` // aggregate the change was applied to
	Operation string `gorm:"type:varchar(40);not null"`
	Field     string `gorm:"type:varchar(40);not null"`
	OldValue  string `gorm:"type:text"`
	NewValue  string `gorm:"type:text"`
	Origin    string `gorm:"type:varchar(40)"` // e.g. "api", "reconciler"
}
