package services

import (
	"context"
	"errors"
	"time"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/internal/utils"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrUserDisabled         = errors.New("user is disabled")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrRefreshTokenRevoked  = errors.New("refresh token revoked")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
	ErrIncorrectOldPassword = errors.New("incorrect old password")
)

type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
	configs   *SystemConfigService
	users     *UserService
	now       func() time.Time
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, users *UserService) *AuthService {
	return &AuthService{
		db:        db,
		jwtConfig: jwtCfg,
		configs:   NewSystemConfigService(db),
		users:     users,
		now:       time.Now,
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=100"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Email    string `json:"email" binding:"omitempty,email"`
	Nickname string `json:"nickname"`
}

// TokenPair is returned by login, registration and refresh.
type TokenPair struct {
	AccessToken     string       `json:"token"`
	AccessExpireAt  time.Time    `json:"expire_at"`
	RefreshToken    string       `json:"refresh_token"`
	RefreshExpireAt time.Time    `json:"refresh_expire_at"`
	User            *models.User `json:"user,omitempty"`
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest, clientIP, userAgent string) (*TokenPair, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issue(s.db.WithContext(ctx), &user, s.refreshExpireHours(), clientIP, userAgent)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user.LastLogin = &now
	s.db.WithContext(ctx).Model(&user).Update("last_login", now)

	pair.User = &user
	return pair, nil
}

// Register creates a regular account, grants the signup bonus and logs in.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest, clientIP, userAgent string) (*TokenPair, error) {
	user, err := s.users.Create(ctx, &CreateUserRequest{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Nickname: req.Nickname,
	})
	if err != nil {
		return nil, err
	}
	pair, err := s.issue(s.db.WithContext(ctx), user, s.refreshExpireHours(), clientIP, userAgent)
	if err != nil {
		return nil, err
	}
	pair.User = user
	return pair, nil
}

// Refresh rotates a refresh token: the presented one is revoked and linked
// to its replacement.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, clientIP, userAgent string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	db := s.db.WithContext(ctx)

	var stored models.RefreshToken
	if err := db.Where("token_hash = ?", utils.HashRefreshToken(refreshToken)).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	if stored.RevokedAt != nil {
		return nil, ErrRefreshTokenRevoked
	}
	if !stored.Usable(s.now()) {
		return nil, ErrRefreshTokenExpired
	}

	var user models.User
	if err := db.First(&user, stored.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	refreshHours := s.refreshExpireHours()
	var pair *TokenPair
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		pair, err = s.issue(tx, &user, refreshHours, clientIP, userAgent)
		if err != nil {
			return err
		}
		var replacement models.RefreshToken
		if err := tx.Where("token_hash = ?", utils.HashRefreshToken(pair.RefreshToken)).First(&replacement).Error; err != nil {
			return err
		}
		result := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", stored.ID).
			Updates(map[string]interface{}{
				"revoked_at":           s.now(),
				"replaced_by_token_id": replacement.ID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRefreshTokenRevoked
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *AuthService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", utils.HashRefreshToken(refreshToken)).
		Update("revoked_at", s.now()).Error
}

func (s *AuthService) refreshExpireHours() int {
	hours := s.configs.GetInt(models.ConfigRefreshExpireHours, s.jwtConfig.RefreshExpireHour)
	if hours <= 0 {
		return s.jwtConfig.RefreshExpireHour
	}
	return hours
}

// issue signs an access token and stores a new refresh token through db.
func (s *AuthService) issue(db *gorm.DB, user *models.User, refreshHours int, clientIP, userAgent string) (*TokenPair, error) {
	now := s.now()
	accessHours := s.jwtConfig.ExpireHour

	access, err := utils.GenerateToken(user.ID, user.Username, user.Role, accessHours)
	if err != nil {
		return nil, err
	}
	refresh, hash, err := utils.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	record := models.RefreshToken{
		UserID:      user.ID,
		TokenHash:   hash,
		ExpiresAt:   now.Add(time.Duration(refreshHours) * time.Hour),
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}
	if err := db.Create(&record).Error; err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:     access,
		AccessExpireAt:  now.Add(time.Duration(accessHours) * time.Hour),
		RefreshToken:    refresh,
		RefreshExpireAt: record.ExpiresAt,
	}, nil
}

func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	return s.users.GetByID(id)
}

// CreateAdminIfNotExists creates the admin/admin account on an empty install.
func (s *AuthService) CreateAdminIfNotExists(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := s.users.Create(ctx, &CreateUserRequest{
		Username: "admin",
		Password: "admin",
		Nickname: "Administrator",
		Role:     models.RoleAdmin,
	})
	return err
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6,max=72"`
}

func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest) error {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return err
	}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return ErrIncorrectOldPassword
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.db.Model(user).Update("password", hashed).Error
}
