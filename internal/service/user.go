package service

import (
	"errors"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/auth"
	"github.com/tufan8877/whisper3-sub000/internal/config"
	"github.com/tufan8877/whisper3-sub000/internal/models"
	"github.com/tufan8877/whisper3-sub000/internal/store"
)

// UserService 封装身份注册、登录与拉黑相关的业务逻辑。
type UserService struct {
	store store.Store
	cfg   config.Config
}

func NewUserService(st store.Store, cfg config.Config) *UserService {
	return &UserService{store: st, cfg: cfg}
}

// UserDTO 是对外输出的身份数据，不携带口令散列。
type UserDTO struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	PublicKey string    `json:"public_key,omitempty"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
}

func toUserDTO(u *models.User) UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username, PublicKey: u.PublicKey, IsOnline: u.IsOnline, LastSeen: u.LastSeen}
}

// Register 注册新身份，公钥由客户端生成后随注册上传。
func (s *UserService) Register(username, password, publicKey string) (*UserDTO, error) {
	if _, err := s.store.UserByUsername(username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &models.User{Username: username, PasswordHash: hash, PublicKey: publicKey}
	if err := s.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	dto := toUserDTO(user)
	return &dto, nil
}

// LoginResult 登录成功后返回的 token 对。
type LoginResult struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	User         UserDTO `json:"user"`
}

// Login 校验用户名密码并签发 token 对。
func (s *UserService) Login(username, password string) (*LoginResult, error) {
	user, err := s.store.UserByUsername(username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := s.store.SaveRefreshToken(user.ID, rt, exp); err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: toUserDTO(user)}, nil
}

// RefreshResult 刷新后的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 旋转刷新：旧 refresh token 一次性作废并换发新对。
func (s *UserService) RefreshTokens(oldRT string) (*RefreshResult, error) {
	newRT, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	userID, err := s.store.RotateRefreshToken(oldRT, newRT, exp)
	if err != nil {
		return nil, err
	}
	at, err := auth.GenerateAccessToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{AccessToken: at, RefreshToken: newRT}, nil
}

// Search 按用户名前缀搜索身份。
func (s *UserService) Search(q string, limit int) ([]UserDTO, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	users, err := s.store.SearchUsers(q, limit)
	if err != nil {
		return nil, err
	}
	out := make([]UserDTO, 0, len(users))
	for i := range users {
		out = append(out, toUserDTO(&users[i]))
	}
	return out, nil
}

// Block 记录拉黑关系。目前只做记录，不在摄入或投递链路上拦截。
func (s *UserService) Block(blockerID, blockedID uint) error {
	if _, err := s.store.UserByID(blockedID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return s.store.SetBlock(blockerID, blockedID)
}

// SetOnline 由连接注册表在 join/close 时调用。
func (s *UserService) SetOnline(userID uint, online bool) error {
	return s.store.SetOnline(userID, online, time.Now())
}
