package models

// FollowRequestStatus 定义关注请求的状态
type FollowRequestStatus string

const (
	FollowRequestStatusPending   FollowRequestStatus = "pending"
	FollowRequestStatusAccepted  FollowRequestStatus = "accepted"
	FollowRequestStatusRejected  FollowRequestStatus = "rejected"
	FollowRequestStatusCancelled FollowRequestStatus = "cancelled" // Requester cancels, or a block strips it
)

// FollowRequest 代表一个关注请求记录。
// Created by follow() when the target profile is private; resolved by
// accept/reject/cancel, or cancelled as a side effect of a block. A pending
// request and an active follow edge are mutually exclusive for the same
// ordered (requester, target) pair.
type FollowRequest struct {
	BaseModel
	RequesterID uint                `gorm:"not null;index:idx_follow_request_users"`
	TargetID    uint                `gorm:"not null;index:idx_follow_request_users"`
	Status      FollowRequestStatus `gorm:"type:varchar(20);not null;default:'pending'"`
}

// FollowRequestWithRequester is a DTO that includes follow request details
// along with basic information about the user who sent the request.
// Useful for API responses listing incoming pending requests.
type FollowRequestWithRequester struct {
	FollowRequest
	Requester *UserSummary `json:"requester"`
}
