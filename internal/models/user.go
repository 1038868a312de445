package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Billing tiers. Tiers not listed in billing.transparent_tiers are billed at the markup.
const (
	BillingTierStandard    = "standard"
	BillingTierTransparent = "transparent"
	BillingTierStudio      = "studio"
)

// User represents an account that owns credits and film projects
type User struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Username    string         `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password    string         `gorm:"size:255" json:"-"`
	Email       string         `gorm:"size:255" json:"email"`
	Nickname    string         `gorm:"size:100" json:"nickname"`
	Avatar      string         `gorm:"size:500" json:"avatar"`
	Role        string         `gorm:"size:50;default:user" json:"role"`
	BillingTier *string        `gorm:"size:50" json:"billing_tier"` // nil: no explicit tier
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	LastLogin   *time.Time     `json:"last_login"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }
