package services

import (
	"context"
	"errors"
	"fmt"

	"sn-go/internal/auth"
	"sn-go/internal/config"
	"sn-go/internal/models"
	"sn-go/internal/storage"
)

var (
	ErrUserAlreadyExists  = errors.New("用户名或邮箱已存在")
	ErrInvalidCredentials = errors.New("无效的用户名或密码")
)

// AuthService 定义了用户认证服务的接口。
type AuthService interface {
	Register(ctx context.Context, username, displayName, email, password string) (*models.User, error)
	Login(ctx context.Context, usernameOrEmail, password string) (token string, user *models.User, err error)
}

// authService 是 AuthService 的实现。
type authService struct {
	store storage.UserStore
	cfg   config.Config
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(store storage.UserStore, cfg config.Config) AuthService {
	return &authService{store: store, cfg: cfg}
}

// Register 处理用户注册逻辑。
func (s *authService) Register(ctx context.Context, username, displayName, email, password string) (*models.User, error) {
	// 检查用户名是否存在
	_, err := s.store.GetByUsername(ctx, username)
	if err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("检查用户名时出错: %w", err)
	}

	// 检查邮箱是否存在
	if email != "" {
		_, err = s.store.GetByEmail(ctx, email)
		if err == nil {
			return nil, ErrUserAlreadyExists
		} else if !errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("检查邮箱时出错: %w", err)
		}
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("密码哈希失败: %w", err)
	}

	newUser := &models.User{
		Username:     username,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hashedPassword,
		Visibility:   models.VisibilityPublic,
		// 新账号默认接收关注通知；验证状态由运营流程切换
		NotifyFollows: true,
	}

	if err := s.store.Create(ctx, newUser); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}

	return newUser, nil
}

// Login 处理用户登录逻辑。
func (s *authService) Login(ctx context.Context, usernameOrEmail, password string) (string, *models.User, error) {
	user, err := s.store.GetByUsername(ctx, usernameOrEmail)
	if errors.Is(err, storage.ErrUserNotFound) {
		// 用户名未找到时尝试邮箱
		user, err = s.store.GetByEmail(ctx, usernameOrEmail)
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", nil, ErrUserNotFound
		} else if err != nil {
			return "", nil, fmt.Errorf("通过邮箱查找用户失败: %w", err)
		}
	} else if err != nil {
		return "", nil, fmt.Errorf("通过用户名查找用户失败: %w", err)
	}

	if user.IsDeleted {
		return "", nil, ErrUserNotFound
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.ID, user.Username, s.cfg.Auth)
	if err != nil {
		return "", nil, fmt.Errorf("生成令牌失败: %w", err)
	}

	return token, user, nil
}
