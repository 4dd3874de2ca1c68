package models

import "time"

// Notification types emitted by the relationship engine.
const (
	NotificationTypeFollow          = "follow"
	NotificationTypeFollowRequest   = "follow_request"
	NotificationTypeRequestAccepted = "request_accepted"
)

// Notification is an in-app inbox row, written by the notifier from the
// notification topic. Delivery beyond the inbox (email, push) is out of scope.
type Notification struct {
	BaseModel
	RecipientID uint       `gorm:"not null;index"`
	ActorID     uint       `gorm:"not null"`
	Type        string     `gorm:"type:varchar(40);not null"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}
