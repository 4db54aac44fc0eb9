package service

import (
	"errors"
	"fmt"
	"strings"

	"aero-doc-go/internal/model"
	"aero-doc-go/internal/repository"
	"aero-doc-go/pkg/hash"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/token"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 6
)

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(username, password string) (*model.User, error)
	Login(username, password string) (accessToken, refreshToken string, err error)
	RefreshToken(refreshToken string) (newAccessToken, newRefreshToken string, err error)
	GetProfile(userID string) (*model.User, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if n := len([]rune(username)); n < minUsernameLen || n > maxUsernameLen {
		return nil, fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	// 1. 检查用户名是否已存在
	_, err := s.userRepo.FindByUsername(username)
	if err == nil {
		return nil, ErrUserExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 存入数据库
	user := &model.User{
		ID:       uuid.NewString(),
		Username: username,
		Password: hashedPassword,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	log.Infof("[UserService] 用户注册成功, user=%s, id=%s", username, user.ID)
	return user, nil
}

// Login 校验用户名密码并签发 access / refresh token。
func (s *userService) Login(username, password string) (string, string, error) {
	user, err := s.userRepo.FindByUsername(strings.TrimSpace(username))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", ErrInvalidCredentials
	}
	if err != nil {
		return "", "", err
	}
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", "", ErrInvalidCredentials
	}
	return s.issue(user)
}

// RefreshToken 用 refresh token 换取一对新的令牌。
func (s *userService) RefreshToken(refreshToken string) (string, string, error) {
	claims, err := s.jwtManager.VerifyTokenType(refreshToken, token.TypeRefresh)
	if err != nil {
		return "", "", err
	}
	user, err := s.userRepo.FindByID(claims.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", token.ErrInvalidToken
	}
	if err != nil {
		return "", "", err
	}
	return s.issue(user)
}

// GetProfile 获取用户信息。
func (s *userService) GetProfile(userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

func (s *userService) issue(user *model.User) (string, string, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}
