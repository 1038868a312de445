package models

import "time"

// CreditBalance is the single mutable ledger row per user. It is only ever
// changed by conditional UPDATE statements inside a ledger transaction.
type CreditBalance struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance     int64     `gorm:"not null;default:0" json:"balance"`
	TotalSpent  int64     `gorm:"not null;default:0" json:"total_spent"`
	TotalEarned int64     `gorm:"not null;default:0" json:"total_earned"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (CreditBalance) TableName() string { return "credit_balances" }
