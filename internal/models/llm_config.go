package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// LLMConfig is a text model endpoint used for prompt work. Token prices
// turn usage into the real cost recorded on the ledger.
type LLMConfig struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	Name             string          `gorm:"size:100;not null" json:"name"`
	Provider         string          `gorm:"size:50;default:openai" json:"provider"`
	BaseURL          string          `gorm:"size:500" json:"base_url"`
	APIKey           string          `gorm:"size:500" json:"-"`
	APIKeyMask       string          `gorm:"-" json:"api_key_mask"`
	Model            string          `gorm:"size:100" json:"model"`
	MaxTokens        int             `gorm:"default:2048" json:"max_tokens"`
	Temperature      float64         `gorm:"default:0.7" json:"temperature"`
	InputPricePer1K  decimal.Decimal `gorm:"type:decimal(12,6);default:0" json:"input_price_per_1k"`
	OutputPricePer1K decimal.Decimal `gorm:"type:decimal(12,6);default:0" json:"output_price_per_1k"`
	IsDefault        bool            `gorm:"default:false" json:"is_default"`
	IsActive         bool            `gorm:"default:true" json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (LLMConfig) TableName() string { return "llm_configs" }

// MaskAPIKey returns masked API key for display
func (l *LLMConfig) MaskAPIKey() string {
	if len(l.APIKey) <= 8 {
		return "****"
	}
	return l.APIKey[:4] + "****" + l.APIKey[len(l.APIKey)-4:]
}

// TokenCost prices a completion from its token counts.
func (l *LLMConfig) TokenCost(promptTokens, completionTokens int) decimal.Decimal {
	thousand := decimal.NewFromInt(1000)
	in := l.InputPricePer1K.Mul(decimal.NewFromInt(int64(promptTokens))).Div(thousand)
	out := l.OutputPricePer1K.Mul(decimal.NewFromInt(int64(completionTokens))).Div(thousand)
	return in.Add(out).Round(6)
}
