package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/internal/services/costs"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// ErrDuplicateGeneration means the idempotency key was already charged.
var ErrDuplicateGeneration = errors.New("generation request already processed")

// InsufficientCreditsError carries what the caller needs to show a top-up prompt.
type InsufficientCreditsError struct {
	Balance  int64 `json:"balance"`
	Required int64 `json:"required"`
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

type EnhancePromptRequest struct {
	Prompt         string `json:"prompt" binding:"required,max=4000"`
	Style          string `json:"style"`
	IsRegeneration bool   `json:"is_regeneration"`
	// PrepaidTransactionID names the prompt charge that pays for this
	// regeneration. Each charge covers one regeneration.
	PrepaidTransactionID *uint  `json:"prepaid_transaction_id"`
	IdempotencyKey       string `json:"-"`
}

type EnhancePromptResult struct {
	Prompt         string          `json:"prompt"`
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	CreditsCharged int64           `json:"credits_charged"`
	Balance        int64           `json:"balance"`
	TransactionID  uint            `json:"transaction_id,omitempty"`
	RealCost       decimal.Decimal `json:"real_cost"`
}

// GenerationService runs billable generation steps: charge, call the
// provider, then record the real cost or refund.
type GenerationService struct {
	credits *CreditService
	tracker *CostTracker
	llm     TextGenerator
	catalog *costs.Catalog
}

func NewGenerationService(credits *CreditService, tracker *CostTracker, llm TextGenerator, catalog *costs.Catalog) *GenerationService {
	if catalog == nil {
		catalog = costs.Default()
	}
	return &GenerationService{credits: credits, tracker: tracker, llm: llm, catalog: catalog}
}

// EnhancePrompt rewrites a project prompt with the configured LLM.
func (s *GenerationService) EnhancePrompt(ctx context.Context, userID uint, project *models.Project, req EnhancePromptRequest) (*EnhancePromptResult, error) {
	price := costs.PromptEnhancement
	prepaid := req.PrepaidTransactionID != nil
	if prepaid {
		if !req.IsRegeneration {
			return nil, ErrInvalidPrepaid
		}
		if _, err := s.credits.VerifyPrepaid(ctx, userID, project.ID, *req.PrepaidTransactionID); err != nil {
			return nil, err
		}
	}

	result := &EnhancePromptResult{}
	var charge *SpendResult
	if !prepaid {
		var err error
		charge, err = s.credits.SpendCredits(ctx, SpendRequest{
			UserID:      userID,
			Amount:      price,
			Type:        models.TxTypePrompt,
			Description: fmt.Sprintf("Prompt enhancement for %s", project.Name),
			ProjectID:   &project.ID,
			Metadata: map[string]interface{}{
				models.MetaIsRegeneration: req.IsRegeneration,
			},
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return nil, err
		}
		if !charge.Success {
			return nil, &InsufficientCreditsError{Balance: charge.Balance, Required: price}
		}
		if charge.Duplicate {
			return nil, ErrDuplicateGeneration
		}
		result.CreditsCharged = price
		result.TransactionID = charge.TransactionID
		result.Balance = charge.Balance
	}

	completion, err := s.llm.Generate(ctx, project, buildEnhancePrompt(project, req))
	if err != nil {
		if charge != nil {
			s.refund(ctx, userID, project, charge.TransactionID, price)
		}
		return nil, fmt.Errorf("enhance prompt: %w", err)
	}

	realCost := completion.RealCost
	if realCost.IsZero() {
		realCost = s.catalog.GetActionCost(costs.OperationPrompt, completion.Provider)
	}
	provider := completion.Provider

	description := fmt.Sprintf("%s completion (%s)", completion.Model, completion.ConfigName)
	metadata := map[string]interface{}{
		models.MetaPromptTokens:        completion.PromptTokens,
		models.MetaCompletionTokens:    completion.CompletionTokens,
		models.MetaModel:               completion.Model,
		models.MetaIsRegeneration:      req.IsRegeneration,
		models.MetaPrepaidRegeneration: prepaid,
	}

	if prepaid {
		// the zero-credit row is written synchronously: its key consumes the charge
		chargeID := *req.PrepaidTransactionID
		metadata["prepaidBy"] = chargeID
		claim, err := s.credits.SpendCredits(ctx, SpendRequest{
			UserID:         userID,
			Amount:         0,
			Type:           models.TxTypePrompt,
			Description:    description,
			ProjectID:      &project.ID,
			Provider:       &provider,
			Metadata:       metadata,
			RealCost:       decimal.NewNullDecimal(realCost),
			IdempotencyKey: PrepaidClaimKey(chargeID),
		})
		if err != nil {
			return nil, err
		}
		if claim.Duplicate {
			return nil, ErrPrepaidConsumed
		}
		result.TransactionID = claim.TransactionID
		result.Balance = claim.Balance
	} else {
		trackKey := ""
		if req.IdempotencyKey != "" {
			trackKey = TrackKey(req.IdempotencyKey)
		}
		s.tracker.Track(TrackRequest{
			UserID:         userID,
			RealCost:       decimal.NewNullDecimal(realCost),
			Type:           models.TxTypePrompt,
			Description:    description,
			ProjectID:      &project.ID,
			Provider:       &provider,
			Metadata:       metadata,
			IdempotencyKey: trackKey,
		})
	}

	result.Prompt = strings.TrimSpace(completion.Content)
	result.Provider = provider
	result.Model = completion.Model
	result.RealCost = realCost
	return result, nil
}

// refund returns credits for a charge whose generation failed. The key is
// derived from the charge so a retried refund is a no-op.
func (s *GenerationService) refund(ctx context.Context, userID uint, project *models.Project, chargeID uint, amount int64) {
	_, err := s.credits.AddCredits(context.WithoutCancel(ctx), GrantRequest{
		UserID:      userID,
		Amount:      amount,
		Type:        models.TxTypeRefund,
		Description: fmt.Sprintf("Refund for failed prompt enhancement on %s", project.Name),
		ProjectID:   &project.ID,
		Metadata: map[string]interface{}{
			"refundOf": chargeID,
		},
		IdempotencyKey: fmt.Sprintf("refund:%d", chargeID),
	})
	if err != nil {
		logger.Error().
			Err(err).
			Uint("user_id", userID).
			Uint("transaction_id", chargeID).
			Int64("amount", amount).
			Msg("refund failed")
	}
}

func buildEnhancePrompt(project *models.Project, req EnhancePromptRequest) string {
	style := req.Style
	if style == "" {
		style = project.Style
	}

	var b strings.Builder
	b.WriteString("You write visual prompts for short AI-generated films.\n")
	b.WriteString("Rewrite the idea below into one vivid, concrete prompt describing subject, setting, lighting and camera.\n")
	if style != "" {
		fmt.Fprintf(&b, "Visual style: %s\n", style)
	}
	if project.AspectRatio != "" {
		fmt.Fprintf(&b, "Frame: %s\n", project.AspectRatio)
	}
	if req.IsRegeneration {
		b.WriteString("Give a different take than before.\n")
	}
	b.WriteString("Reply with the prompt only.\n\nIdea:\n")
	b.WriteString(strings.TrimSpace(req.Prompt))
	return b.String()
}
