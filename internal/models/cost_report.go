package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostReport is the daily rollup of the ledger.
type CostReport struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ReportDate     time.Time       `gorm:"uniqueIndex;not null" json:"report_date"`
	CreditsSpent   int64           `json:"credits_spent"`
	CreditsGranted int64           `json:"credits_granted"`
	RealCost       decimal.Decimal `gorm:"type:decimal(14,6)" json:"real_cost"`
	Transactions   int64           `json:"transactions"`
	TrackOnly      int64           `json:"track_only"`
	Spenders       int64           `json:"spenders"`
	ByProvider     string          `gorm:"type:text" json:"by_provider"` // JSON
	ByType         string          `gorm:"type:text" json:"by_type"`     // JSON
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (CostReport) TableName() string { return "cost_reports" }
