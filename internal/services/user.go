package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/internal/utils"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUsernameTaken    = errors.New("username already exists")
	ErrInvalidUserRole  = errors.New("invalid user role")
	ErrModifySelf       = errors.New("cannot modify your own account")
	ErrInvalidTierValue = errors.New("billing tier must not be blank")
)

// UserService manages accounts. New accounts receive the signup bonus
// through the ledger.
type UserService struct {
	db            *gorm.DB
	credits       *CreditService
	signupCredits int64
}

func NewUserService(db *gorm.DB, credits *CreditService, signupCredits int64) *UserService {
	return &UserService{db: db, credits: credits, signupCredits: signupCredits}
}

type UserListRequest struct {
	Page        int    `form:"page" binding:"omitempty,min=1"`
	PageSize    int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Username    string `form:"username"`
	Role        string `form:"role"`
	BillingTier string `form:"billing_tier"`
}

type UserListResponse struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []models.User `json:"items"`
}

type CreateUserRequest struct {
	Username    string  `json:"username" binding:"required,min=3,max=100"`
	Password    string  `json:"password" binding:"required,min=6,max=72"`
	Email       string  `json:"email" binding:"omitempty,email"`
	Nickname    string  `json:"nickname"`
	Role        string  `json:"role"`
	BillingTier *string `json:"billing_tier"`
}

type UpdateUserRequest struct {
	Role        *string `json:"role"`
	IsActive    *bool   `json:"is_active"`
	Nickname    *string `json:"nickname"`
	Email       *string `json:"email"`
	BillingTier *string `json:"billing_tier"`
	ClearTier   bool    `json:"clear_billing_tier"`
}

func (s *UserService) List(req *UserListRequest) (*UserListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var users []models.User
	var total int64

	query := s.db.Model(&models.User{})
	if req.Username != "" {
		query = query.Where("username LIKE ?", "%"+req.Username+"%")
	}
	if req.Role != "" {
		query = query.Where("role = ?", req.Role)
	}
	if req.BillingTier != "" {
		query = query.Where("billing_tier = ?", req.BillingTier)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}
	if err := query.Order("id ASC").Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).Find(&users).Error; err != nil {
		return nil, err
	}

	return &UserListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    users,
	}, nil
}

func (s *UserService) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Create stores the account and grants the signup bonus. The grant is keyed
// per user, so a retry never pays the bonus twice.
func (s *UserService) Create(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	role := req.Role
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		return nil, ErrInvalidUserRole
	}
	tier, err := normalizeTier(req.BillingTier)
	if err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:    strings.TrimSpace(req.Username),
		Password:    hashed,
		Email:       req.Email,
		Nickname:    req.Nickname,
		Role:        role,
		BillingTier: tier,
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	if err := s.grantSignupBonus(ctx, user.ID); err != nil {
		// the account exists; the bonus can be granted by an admin
		logger.Error().Err(err).Uint("user_id", user.ID).Msg("failed to grant signup credits")
	}
	return &user, nil
}

func (s *UserService) grantSignupBonus(ctx context.Context, userID uint) error {
	if s.credits == nil || s.signupCredits <= 0 {
		return nil
	}
	_, err := s.credits.AddCredits(ctx, GrantRequest{
		UserID:         userID,
		Amount:         s.signupCredits,
		Type:           models.TxTypeSignup,
		Description:    "Welcome bonus",
		IdempotencyKey: fmt.Sprintf("signup:%d", userID),
	})
	return err
}

func (s *UserService) Update(id, currentUserID uint, req *UpdateUserRequest) (*models.User, error) {
	if id == currentUserID {
		return nil, ErrModifySelf
	}
	user, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Role != nil {
		if *req.Role != models.RoleUser && *req.Role != models.RoleAdmin {
			return nil, ErrInvalidUserRole
		}
		updates["role"] = *req.Role
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Nickname != nil {
		updates["nickname"] = *req.Nickname
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.ClearTier {
		updates["billing_tier"] = nil
	} else if req.BillingTier != nil {
		tier, err := normalizeTier(req.BillingTier)
		if err != nil {
			return nil, err
		}
		updates["billing_tier"] = *tier
	}

	if len(updates) > 0 {
		if err := s.db.Model(user).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	_, roleChanged := updates["role"]
	_, tierChanged := updates["billing_tier"]
	if roleChanged || tierChanged {
		// cached display costs carry the old multiplier
		s.credits.InvalidateUser(context.Background(), id)
	}
	return s.GetByID(id)
}

// Delete soft-deletes the account. Its ledger rows and balance stay.
func (s *UserService) Delete(id, currentUserID uint) error {
	if id == currentUserID {
		return ErrModifySelf
	}
	result := s.db.Delete(&models.User{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func normalizeTier(tier *string) (*string, error) {
	if tier == nil {
		return nil, nil
	}
	t := strings.ToLower(strings.TrimSpace(*tier))
	if t == "" {
		return nil, ErrInvalidTierValue
	}
	return &t, nil
}
