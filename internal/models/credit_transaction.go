package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Transaction types. The set is open; these are the ones the workflow emits.
const (
	TxTypeImage     = "image"
	TxTypeVideo     = "video"
	TxTypeVoiceover = "voiceover"
	TxTypeScene     = "scene"
	TxTypeCharacter = "character"
	TxTypeMusic     = "music"
	TxTypePrompt    = "prompt"

	TxTypeGrant    = "grant"
	TxTypePurchase = "purchase"
	TxTypeSignup   = "signup_bonus"
	TxTypeRefund   = "refund"
)

// Recognized metadata keys.
const (
	MetaIsRegeneration      = "isRegeneration"
	MetaPrepaidRegeneration = "prepaidRegeneration"
	MetaDuration            = "duration"
	MetaSceneID             = "sceneId"
	MetaVoice               = "voice"
	MetaCharacterCount      = "characterCount"
	MetaPromptTokens        = "promptTokens"
	MetaCompletionTokens    = "completionTokens"
	MetaModel               = "model"
	MetaGPUSeconds          = "gpuSeconds"
)

// Idempotency key limits. Client keys are shorter than the column so keys
// derived from them ("track:", "regen:", "refund:") still fit.
const (
	IdempotencyKeyMaxLen       = 128
	ClientIdempotencyKeyMaxLen = 100
)

var ErrImmutableTransaction = errors.New("credit transactions are append-only")

// CreditTransaction is one append-only ledger entry. Amount is the signed
// credit delta: negative for spends, zero for track-only rows, positive for
// grants and refunds. RealCost is the provider dollar cost and is unrelated
// to Amount.
type CreditTransaction struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	UserID         uint                `gorm:"not null;index:idx_credit_tx_user_created,priority:1;uniqueIndex:idx_credit_tx_user_idem,priority:1" json:"user_id"`
	Amount         int64               `gorm:"not null" json:"amount"`
	RealCost       decimal.NullDecimal `gorm:"type:decimal(14,6)" json:"real_cost"`
	Type           string              `gorm:"size:30;not null;index" json:"type"`
	Provider       *string             `gorm:"size:50;index" json:"provider"`
	Description    string              `gorm:"size:500" json:"description"`
	ProjectID      *uint               `gorm:"index" json:"project_id"`
	Metadata       datatypes.JSONMap   `json:"metadata"`
	IdempotencyKey *string             `gorm:"size:128;uniqueIndex:idx_credit_tx_user_idem,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time           `gorm:"index:idx_credit_tx_user_created,priority:2;index" json:"created_at"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (CreditTransaction) BeforeUpdate(*gorm.DB) error { return ErrImmutableTransaction }

func (CreditTransaction) BeforeDelete(*gorm.DB) error { return ErrImmutableTransaction }

// IsTrackOnly reports a zero-credit row recorded only for its real cost.
func (t *CreditTransaction) IsTrackOnly() bool { return t.Amount == 0 }

// IsRegeneration reads the caller-supplied isRegeneration flag.
func (t *CreditTransaction) IsRegeneration() bool {
	if t.Metadata == nil {
		return false
	}
	v, ok := t.Metadata[MetaIsRegeneration].(bool)
	return ok && v
}
