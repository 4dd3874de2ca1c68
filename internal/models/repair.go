package models

import "time"

// MirrorRepair records a dual-write that committed on one aggregate but could
// not be confirmed on the other after the engine's bounded retries. The
// reconciler scans unresolved rows and re-runs the mirror repair until the
// invariant holds again.
type MirrorRepair struct {
	BaseModel
	ActorID    uint       `gorm:"not null;index:idx_mirror_repair_pair"`
	TargetID   uint       `gorm:"not null;index:idx_mirror_repair_pair"`
	Operation  string     `gorm:"type:varchar(40);not null"`
	Detail     string     `gorm:"type:text"` // last error observed when retries exhausted
	Attempts   int        `gorm:"not null;default:0"`
	ResolvedAt *time.Time `gorm:"index"`
}
