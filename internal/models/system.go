package models

import "time"

// SystemConfig holds runtime-tunable settings (stored in database)
type SystemConfig struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:key;uniqueIndex;size:100;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:20;default:string" json:"type"`      // string, int, bool, decimal
	Group     string    `gorm:"column:group;size:50;index" json:"group"` // billing, report, system
	Label     string    `gorm:"size:200" json:"label"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SystemConfig) TableName() string { return "system_configs" }

const (
	ConfigLogRetentionDays     = "log_retention_days"
	ConfigCostReportEnabled    = "cost_report_enabled"
	ConfigCostReportTime       = "cost_report_time"
	ConfigTransactionPageLimit = "transaction_page_limit"
	ConfigRefreshExpireHours   = "auth_refresh_expire_hours"
)

func DefaultSystemConfigs() []SystemConfig {
	return []SystemConfig{
		{Key: ConfigLogRetentionDays, Value: "30", Type: "int", Group: "system", Label: "System Log Retention Days"},
		{Key: ConfigCostReportEnabled, Value: "true", Type: "bool", Group: "report", Label: "Generate Daily Cost Report"},
		{Key: ConfigCostReportTime, Value: "00:05", Type: "string", Group: "report", Label: "Daily Cost Report Time (HH:MM)"},
		{Key: ConfigTransactionPageLimit, Value: "100", Type: "int", Group: "billing", Label: "Max Transactions Per Page"},
	}
}

// SystemLog is an audit entry written for admin operations and ledger events.
type SystemLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;index" json:"level"` // info, warning, error
	Module    string    `gorm:"size:100;index" json:"module"`
	Action    string    `gorm:"size:200;index" json:"action"`
	Message   string    `gorm:"type:text" json:"message"`
	UserID    *uint     `json:"user_id"`
	IP        string    `gorm:"size:50" json:"ip"`
	UserAgent string    `gorm:"size:500" json:"user_agent"`
	Extra     string    `gorm:"type:text" json:"extra"` // JSON
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (SystemLog) TableName() string { return "system_logs" }

// SchedulerLock keeps one instance from running the same scheduled job twice.
type SchedulerLock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LockName  string    `gorm:"uniqueIndex:idx_lock_name_key;size:100;not null" json:"lock_name"`
	LockKey   string    `gorm:"uniqueIndex:idx_lock_name_key;size:100;not null" json:"lock_key"`
	LockedBy  string    `gorm:"size:100" json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (SchedulerLock) TableName() string { return "scheduler_locks" }
