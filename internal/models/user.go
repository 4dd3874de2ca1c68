package models

import (
	"strconv"
	"strings"
	"time"
)

// Visibility 定义用户主页的可见范围。
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityFollowers Visibility = "followers"
	VisibilityPrivate   Visibility = "private"
)

// Valid reports whether v is one of the known visibility settings.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityFollowers, VisibilityPrivate:
		return true
	}
	return false
}

// IDList is an ordered set of user IDs stored as a JSON column.
// Insertion order is preserved so edge lists can be paginated by
// edge-creation order. Membership operations are idempotent.
type IDList []uint

// Contains reports whether id is present in the list.
func (l IDList) Contains(id uint) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// Add appends id if it is not already present. Returns true if the list changed.
func (l *IDList) Add(id uint) bool {
	if l.Contains(id) {
		return false
	}
	*l = append(*l, id)
	return true
}

// Remove deletes id from the list. Returns true if the list changed.
func (l *IDList) Remove(id uint) bool {
	for i, v := range *l {
		if v == id {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return true
		}
	}
	return false
}

// String renders the list for audit records, e.g. "[3 7 12]".
func (l IDList) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	b.WriteByte(']')
	return b.String()
}

// Clone returns an independent copy of the list.
func (l IDList) Clone() IDList {
	if l == nil {
		return nil
	}
	out := make(IDList, len(l))
	copy(out, l)
	return out
}

// User 代表系统中的用户聚合。
// Each user is an independent aggregate: its follower/following/blocked edge
// lists live on the row itself, and Version guards optimistic saves. A directed
// edge is recorded on both aggregates (the mirror invariant): B appearing in
// A.Following must be matched by A appearing in B.Followers.
type User struct {
	BaseModel
	Username     string `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"` // 不暴露密码哈希
	Email        string `gorm:"type:varchar(100);uniqueIndex" json:"email,omitempty"`
	DisplayName  string `gorm:"type:varchar(100)" json:"displayName,omitempty"`
	AvatarURL    string `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	Bio          string `gorm:"type:text" json:"bio,omitempty"`
	Locale       string `gorm:"type:varchar(32)" json:"locale,omitempty"` // 粗粒度地区，用于推荐

	Followers IDList `gorm:"type:jsonb;serializer:json" json:"-"` // 关注我的用户
	Following IDList `gorm:"type:jsonb;serializer:json" json:"-"` // 我关注的用户
	Blocked   IDList `gorm:"type:jsonb;serializer:json" json:"-"` // 我拉黑的用户（单向）

	Visibility    Visibility `gorm:"type:varchar(20);not null;default:'public'" json:"visibility"`
	NotifyFollows bool       `gorm:"not null;default:true" json:"notifyFollows"` // 是否接收关注通知
	IsVerified    bool       `gorm:"not null;default:false" json:"isVerified"`
	IsDeleted     bool       `gorm:"not null;default:false" json:"-"` // 账号已注销

	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`

	// Version is bumped by every successful save; UserStore.Save fails with
	// ErrStaleVersion when the stored version no longer matches the one read.
	Version uint64 `gorm:"not null;default:0" json:"-"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// Clone returns a deep copy of the aggregate, safe to mutate without touching
// the original snapshot. Used by the engine to build the post-operation state
// before attempting the optimistic save.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Followers = u.Followers.Clone()
	out.Following = u.Following.Clone()
	out.Blocked = u.Blocked.Clone()
	return &out
}

// HasBlocked reports whether u has blocked the given user.
func (u *User) HasBlocked(id uint) bool {
	return u.Blocked.Contains(id)
}

// BlockedEitherWay reports whether a block exists between u and other in
// either direction. A block takes precedence over every other relationship
// state.
func (u *User) BlockedEitherWay(other *User) bool {
	return u.HasBlocked(other.ID) || other.HasBlocked(u.ID)
}

// UserSummary holds minimal public information about a user.
// Used for list endpoints, suggestions and notification payloads.
type UserSummary struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	IsVerified  bool   `json:"isVerified"`
}

// Summary returns the public summary of the user.
func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsVerified:  u.IsVerified,
	}
}
