package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sn-go/internal/models"
	"sn-go/internal/storage"
)

var ErrInvalidVisibility = errors.New("无效的隐私设置")

// ProfileUpdate carries the fields a user may change on their own profile.
// Nil pointers mean "leave unchanged".
type ProfileUpdate struct {
	DisplayName   *string
	AvatarURL     *string
	Bio           *string
	Locale        *string
	Visibility    *models.Visibility
	NotifyFollows *bool
}

// UserService 定义了用户相关服务的接口。
type UserService interface {
	GetUserProfile(ctx context.Context, userID uint) (*models.User, error)
	UpdateUserProfile(ctx context.Context, userID uint, update ProfileUpdate) (*models.User, error)
	// DeactivateUser marks the account deleted. The aggregate and its edges
	// are retained; queries filter deactivated users out.
	DeactivateUser(ctx context.Context, userID uint) error
	TouchActivity(ctx context.Context, userID uint) error
	SearchUsers(ctx context.Context, query string, currentUserID uint) ([]*models.UserSummary, error)
}

// userService 是 UserService 的实现。
type userService struct {
	store storage.UserStore
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(store storage.UserStore) UserService {
	return &userService{store: store}
}

// GetUserProfile 获取用户公开的个人资料。
func (s *userService) GetUserProfile(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.store.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("获取用户 %d 失败: %w", userID, err)
	}
	if user.IsDeleted {
		return nil, ErrUserNotFound
	}
	// 清理敏感信息
	user.PasswordHash = ""
	return user, nil
}

// UpdateUserProfile 更新用户的个人资料。
// 写入走乐观保存；与关系引擎的并发写冲突时重读重放一次。
func (s *userService) UpdateUserProfile(ctx context.Context, userID uint, update ProfileUpdate) (*models.User, error) {
	if update.Visibility != nil && !update.Visibility.Valid() {
		return nil, ErrInvalidVisibility
	}

	for attempt := 0; ; attempt++ {
		user, err := s.store.Load(ctx, userID)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("更新用户资料失败，用户 %d 未找到: %w", userID, err)
		}
		if user.IsDeleted {
			return nil, ErrUserNotFound
		}

		if !applyProfileUpdate(user, update) {
			user.PasswordHash = ""
			return user, nil // 没有字段被更新
		}

		_, err = s.store.Save(ctx, user, user.Version)
		if err == nil {
			user.PasswordHash = ""
			return user, nil
		}
		if errors.Is(err, storage.ErrStaleVersion) && attempt == 0 {
			continue
		}
		return nil, fmt.Errorf("更新用户 %d 资料失败: %w", userID, err)
	}
}

func applyProfileUpdate(user *models.User, update ProfileUpdate) bool {
	updated := false
	if update.DisplayName != nil && user.DisplayName != *update.DisplayName {
		user.DisplayName = *update.DisplayName
		updated = true
	}
	if update.AvatarURL != nil && user.AvatarURL != *update.AvatarURL {
		user.AvatarURL = *update.AvatarURL
		updated = true
	}
	if update.Bio != nil && user.Bio != *update.Bio {
		user.Bio = *update.Bio
		updated = true
	}
	if update.Locale != nil && user.Locale != *update.Locale {
		user.Locale = *update.Locale
		updated = true
	}
	if update.Visibility != nil && user.Visibility != *update.Visibility {
		user.Visibility = *update.Visibility
		updated = true
	}
	if update.NotifyFollows != nil && user.NotifyFollows != *update.NotifyFollows {
		user.NotifyFollows = *update.NotifyFollows
		updated = true
	}
	return updated
}

// DeactivateUser 将账号标记为已注销。
func (s *userService) DeactivateUser(ctx context.Context, userID uint) error {
	user, err := s.store.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("注销用户 %d 失败: %w", userID, err)
	}
	if user.IsDeleted {
		return nil
	}
	user.IsDeleted = true
	if _, err := s.store.Save(ctx, user, user.Version); err != nil {
		return fmt.Errorf("注销用户 %d 失败: %w", userID, err)
	}
	return nil
}

// TouchActivity 更新用户的最近活跃时间，用于推荐的活跃度信号。
func (s *userService) TouchActivity(ctx context.Context, userID uint) error {
	user, err := s.store.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	now := time.Now()
	user.LastActiveAt = &now
	if _, err := s.store.Save(ctx, user, user.Version); err != nil {
		// 活跃度是尽力而为的信号，冲突时放弃本次更新
		if errors.Is(err, storage.ErrStaleVersion) {
			return nil
		}
		return err
	}
	return nil
}

// SearchUsers 按用户名或昵称模糊搜索用户。
func (s *userService) SearchUsers(ctx context.Context, query string, currentUserID uint) ([]*models.UserSummary, error) {
	return s.store.SearchUsers(ctx, query, currentUserID)
}
