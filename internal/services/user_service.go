package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"keychat_go_backend/internal/models"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrDuplicateKey = errors.New("api key already registered")
)

// CredentialStore maps hashed API keys to users.
type CredentialStore interface {
	Register(ctx context.Context, apiKey string) (*models.User, error)
	Lookup(ctx context.Context, apiKey string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	TouchLogin(ctx context.Context, user *models.User) error
	RegisterOrTouch(ctx context.Context, apiKey string) (*models.User, bool, error)
}

var _ CredentialStore = (*UserService)(nil)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// HashAPIKey returns the hex SHA-256 of key. Lookups depend on it being
// deterministic, so no salt is mixed in.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// MaskAPIKey keeps the first 4 and last 3 characters.
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 7 {
		return "***"
	}
	return apiKey[:4] + "***" + apiKey[len(apiKey)-3:]
}

func (s *UserService) Register(ctx context.Context, apiKey string) (*models.User, error) {
	hash := HashAPIKey(apiKey)

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("api_key_hash = ?", hash).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateKey
	}

	now := time.Now()
	user := &models.User{
		APIKeyHash:   hash,
		APIKeyMasked: MaskAPIKey(apiKey),
		LastLogin:    &now,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *UserService) Lookup(ctx context.Context, apiKey string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("api_key_hash = ?", HashAPIKey(apiKey)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &user, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (s *UserService) TouchLogin(ctx context.Context, user *models.User) error {
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(user).Update("last_login", now).Error; err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	user.LastLogin = &now
	return nil
}

// RegisterOrTouch returns the user for apiKey, creating it on first login.
func (s *UserService) RegisterOrTouch(ctx context.Context, apiKey string) (*models.User, bool, error) {
	user, err := s.Lookup(ctx, apiKey)
	if err == nil {
		return user, false, s.TouchLogin(ctx, user)
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user, err = s.Register(ctx, apiKey)
	if errors.Is(err, ErrDuplicateKey) {
		// lost a race with a concurrent first login
		user, err = s.Lookup(ctx, apiKey)
		if err != nil {
			return nil, false, err
		}
		return user, false, s.TouchLogin(ctx, user)
	}
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}
