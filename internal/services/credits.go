package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidAmount       = errors.New("amount must be a non-negative number of credits")
	ErrInvalidRealCost     = errors.New("real cost must be a non-negative dollar amount")
	ErrInvalidUser         = errors.New("user id is required")
	ErrMissingType         = errors.New("transaction type is required")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidDateRange    = errors.New("dates must be YYYY-MM-DD")
	ErrInvalidPrepaid      = errors.New("prepaid charge not found for this user and project")
	ErrPrepaidConsumed     = errors.New("prepaid charge already used")
)

// errRollback aborts a ledger transaction whose outcome is already decided.
var errRollback = errors.New("rollback")

const (
	defaultTransactionPageSize = 20
	defaultTransactionPageMax  = 100
)

// SpendRequest debits Amount credits. Metadata is stored as given and never
// inspected by the ledger.
type SpendRequest struct {
	UserID         uint
	Amount         int64
	Type           string
	Description    string
	ProjectID      *uint
	Provider       *string
	Metadata       map[string]interface{}
	RealCost       decimal.NullDecimal
	IdempotencyKey string
}

// GrantRequest adds Amount credits. Type defaults to grant.
type GrantRequest struct {
	UserID         uint                   `json:"user_id" binding:"required"`
	Amount         int64                  `json:"amount" binding:"required,gt=0"`
	Type           string                 `json:"type"`
	Description    string                 `json:"description"`
	ProjectID      *uint                  `json:"project_id"`
	Metadata       map[string]interface{} `json:"metadata"`
	IdempotencyKey string                 `json:"idempotency_key" binding:"omitempty,max=100"`
}

// SpendResult is the outcome of a ledger write. Insufficient funds is a
// normal result with Success false, not an error.
type SpendResult struct {
	Success       bool   `json:"success"`
	Balance       int64  `json:"balance"`
	TransactionID uint   `json:"transaction_id,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	Error         string `json:"error,omitempty"`
}

type TransactionListRequest struct {
	UserID    uint   `form:"-"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	Type      string `form:"type"`
	Provider  string `form:"provider"`
	ProjectID *uint  `form:"project_id"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Order     string `form:"order"` // asc, desc
}

type TransactionListResponse struct {
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
	Items    []models.CreditTransaction `json:"items"`
}

// CreditService is the only writer of credit balances.
type CreditService struct {
	db       *gorm.DB
	notifier *LedgerNotifier
	pageMax  int
}

func NewCreditService(db *gorm.DB, notifier *LedgerNotifier) *CreditService {
	return &CreditService{db: db, notifier: notifier, pageMax: defaultTransactionPageMax}
}

// SetPageLimit caps ListTransactions page sizes.
func (s *CreditService) SetPageLimit(limit int) {
	if limit > 0 {
		s.pageMax = limit
	}
}

// SpendCredits debits req.Amount in one database transaction: get-or-create
// the balance, conditionally decrement it, insert the -Amount row and read
// the new balance back. The conditional UPDATE serializes concurrent spends
// for the same user on the balance row.
func (s *CreditService) SpendCredits(ctx context.Context, req SpendRequest) (*SpendResult, error) {
	if err := validateEntry(req.UserID, req.Type); err != nil {
		return nil, err
	}
	if req.Amount < 0 || (req.Amount == 0 && !req.RealCost.Valid) {
		return nil, ErrInvalidAmount
	}
	if req.RealCost.Valid && req.RealCost.Decimal.IsNegative() {
		return nil, ErrInvalidRealCost
	}

	start := time.Now()
	metrics := s.notifier.ledgerMetrics()

	if req.IdempotencyKey != "" {
		prior, err := s.duplicateResult(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			metrics.ObserveSpend(req.Type, SpendResultDuplicate, 0, time.Since(start))
			return prior, nil
		}
	}

	entry := &models.CreditTransaction{
		UserID:         req.UserID,
		Amount:         -req.Amount,
		RealCost:       req.RealCost,
		Type:           req.Type,
		Provider:       req.Provider,
		Description:    req.Description,
		ProjectID:      req.ProjectID,
		Metadata:       req.Metadata,
		IdempotencyKey: optionalKey(req.IdempotencyKey),
	}

	var result *SpendResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureBalance(tx, req.UserID); err != nil {
			return err
		}

		if req.Amount > 0 {
			res := tx.Model(&models.CreditBalance{}).
				Where("user_id = ? AND balance >= ?", req.UserID, req.Amount).
				Updates(map[string]interface{}{
					"balance":     gorm.Expr("balance - ?", req.Amount),
					"total_spent": gorm.Expr("total_spent + ?", req.Amount),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				current, err := readBalance(tx, req.UserID)
				if err != nil {
					return err
				}
				result = &SpendResult{Success: false, Balance: current.Balance, Error: ErrInsufficientCredits.Error()}
				return errRollback
			}
		}

		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		current, err := readBalance(tx, req.UserID)
		if err != nil {
			return err
		}
		result = &SpendResult{Success: true, Balance: current.Balance, TransactionID: entry.ID}
		return nil
	})

	switch {
	case errors.Is(err, errRollback):
		metrics.ObserveSpend(req.Type, SpendResultInsufficient, req.Amount, time.Since(start))
		logger.Info().
			Uint("user_id", req.UserID).
			Int64("amount", req.Amount).
			Int64("balance", result.Balance).
			Str("type", req.Type).
			Msg("spend refused: insufficient credits")
		return result, nil
	case err != nil && req.IdempotencyKey != "" && errors.Is(err, gorm.ErrDuplicatedKey):
		// lost the race against a concurrent request with the same key
		prior, lookupErr := s.duplicateResult(ctx, req.UserID, req.IdempotencyKey)
		if lookupErr == nil && prior != nil {
			metrics.ObserveSpend(req.Type, SpendResultDuplicate, 0, time.Since(start))
			return prior, nil
		}
		metrics.ObserveSpend(req.Type, SpendResultError, req.Amount, time.Since(start))
		return nil, fmt.Errorf("spend credits: %w", err)
	case err != nil:
		metrics.ObserveSpend(req.Type, SpendResultError, req.Amount, time.Since(start))
		return nil, fmt.Errorf("spend credits: %w", err)
	}

	metrics.ObserveSpend(req.Type, SpendResultOK, req.Amount, time.Since(start))
	metrics.ObserveRealCost(req.Type, req.Provider, req.RealCost)
	logger.Info().
		Uint("user_id", req.UserID).
		Int64("amount", -req.Amount).
		Str("type", req.Type).
		Str("provider", providerLabel(req.Provider)).
		Str("real_cost", formatRealCost(req.RealCost)).
		Int64("balance", result.Balance).
		Msg("credits spent")

	balance := result.Balance
	s.notifier.committed(ctx, LedgerEvent{
		Kind:          LedgerEventSpend,
		UserID:        req.UserID,
		TransactionID: entry.ID,
		Amount:        entry.Amount,
		Balance:       &balance,
		Type:          req.Type,
		Provider:      req.Provider,
		ProjectID:     req.ProjectID,
		RealCost:      realCostPtr(req.RealCost),
	})
	return result, nil
}

// AddCredits credits the user: grants, purchases, signup bonuses and refunds.
// Refunds count toward total_earned; total_spent never decreases.
func (s *CreditService) AddCredits(ctx context.Context, req GrantRequest) (*SpendResult, error) {
	if req.Type == "" {
		req.Type = models.TxTypeGrant
	}
	if err := validateEntry(req.UserID, req.Type); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if req.IdempotencyKey != "" {
		prior, err := s.duplicateResult(ctx, req.UserID, req.IdempotencyKey)
		if err != nil || prior != nil {
			return prior, err
		}
	}

	entry := &models.CreditTransaction{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Type:           req.Type,
		Description:    req.Description,
		ProjectID:      req.ProjectID,
		Metadata:       req.Metadata,
		IdempotencyKey: optionalKey(req.IdempotencyKey),
	}

	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureBalance(tx, req.UserID); err != nil {
			return err
		}
		if err := tx.Model(&models.CreditBalance{}).
			Where("user_id = ?", req.UserID).
			Updates(map[string]interface{}{
				"balance":      gorm.Expr("balance + ?", req.Amount),
				"total_earned": gorm.Expr("total_earned + ?", req.Amount),
			}).Error; err != nil {
			return err
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		current, err := readBalance(tx, req.UserID)
		if err != nil {
			return err
		}
		balance = current.Balance
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			if prior, lookupErr := s.duplicateResult(ctx, req.UserID, req.IdempotencyKey); lookupErr == nil && prior != nil {
				return prior, nil
			}
		}
		return nil, fmt.Errorf("add credits: %w", err)
	}

	s.notifier.ledgerMetrics().ObserveGrant(req.Type, req.Amount)
	logger.Info().
		Uint("user_id", req.UserID).
		Int64("amount", req.Amount).
		Str("type", req.Type).
		Int64("balance", balance).
		Msg("credits added")

	s.notifier.committed(ctx, LedgerEvent{
		Kind:          LedgerEventGrant,
		UserID:        req.UserID,
		TransactionID: entry.ID,
		Amount:        entry.Amount,
		Balance:       &balance,
		Type:          req.Type,
		ProjectID:     req.ProjectID,
	})
	return &SpendResult{Success: true, Balance: balance, TransactionID: entry.ID}, nil
}

// GetBalance returns the user's balance, or a zero balance when the user has
// never been credited. It never writes.
func (s *CreditService) GetBalance(ctx context.Context, userID uint) (*models.CreditBalance, error) {
	if userID == 0 {
		return nil, ErrInvalidUser
	}
	var balance models.CreditBalance
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&balance)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return &models.CreditBalance{UserID: userID}, nil
	}
	return &balance, nil
}

// InvalidateUser drops the user's cached cost summaries.
func (s *CreditService) InvalidateUser(ctx context.Context, userID uint) {
	s.notifier.invalidate(ctx, userID, nil)
}

// PrepaidClaimKey is the idempotency key of the row that consumes a prepaid
// charge. One charge backs at most one regeneration.
func PrepaidClaimKey(chargeID uint) string {
	return fmt.Sprintf("regen:%d", chargeID)
}

// VerifyPrepaid checks that chargeID is a prompt spend by userID on
// projectID that was neither refunded nor already claimed.
func (s *CreditService) VerifyPrepaid(ctx context.Context, userID, projectID, chargeID uint) (*models.CreditTransaction, error) {
	if userID == 0 {
		return nil, ErrInvalidUser
	}
	db := s.db.WithContext(ctx)

	var charge models.CreditTransaction
	res := db.Where("id = ? AND user_id = ? AND project_id = ? AND type = ? AND amount < 0",
		chargeID, userID, projectID, models.TxTypePrompt).Limit(1).Find(&charge)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidPrepaid
	}

	refund, err := findByIdempotencyKey(db, userID, fmt.Sprintf("refund:%d", chargeID))
	if err != nil {
		return nil, err
	}
	if refund != nil {
		return nil, ErrInvalidPrepaid
	}
	claim, err := findByIdempotencyKey(db, userID, PrepaidClaimKey(chargeID))
	if err != nil {
		return nil, err
	}
	if claim != nil {
		return nil, ErrPrepaidConsumed
	}
	return &charge, nil
}

// ListTransactions pages through a user's ledger in creation order.
func (s *CreditService) ListTransactions(ctx context.Context, req *TransactionListRequest) (*TransactionListResponse, error) {
	if req.UserID == 0 {
		return nil, ErrInvalidUser
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultTransactionPageSize
	}
	if req.PageSize > s.pageMax {
		req.PageSize = s.pageMax
	}

	query := s.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("user_id = ?", req.UserID)
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	if req.Provider != "" {
		query = query.Where("provider = ?", req.Provider)
	}
	if req.ProjectID != nil {
		query = query.Where("project_id = ?", *req.ProjectID)
	}
	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if start != nil {
		query = query.Where("created_at >= ?", *start)
	}
	if end != nil {
		query = query.Where("created_at < ?", *end)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	order := "created_at DESC, id DESC"
	if strings.EqualFold(req.Order, "asc") {
		order = "created_at ASC, id ASC"
	}

	var items []models.CreditTransaction
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order(order).Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &TransactionListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// duplicateResult answers a replayed idempotency key with the original
// transaction and the current balance. It returns nil when the key is new.
func (s *CreditService) duplicateResult(ctx context.Context, userID uint, key string) (*SpendResult, error) {
	prior, err := findByIdempotencyKey(s.db.WithContext(ctx), userID, key)
	if err != nil || prior == nil {
		return nil, err
	}
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	logger.Info().Uint("user_id", userID).Str("idempotency_key", key).Uint("transaction_id", prior.ID).Msg("duplicate ledger request ignored")
	return &SpendResult{Success: true, Balance: balance.Balance, TransactionID: prior.ID, Duplicate: true}, nil
}

func findByIdempotencyKey(db *gorm.DB, userID uint, key string) (*models.CreditTransaction, error) {
	var prior models.CreditTransaction
	res := db.Where("user_id = ? AND idempotency_key = ?", userID, key).Limit(1).Find(&prior)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &prior, nil
}

// ensureBalance creates the user's zero balance row if it does not exist.
// Concurrent first spends race on the unique user_id index; the loser's
// insert is a no-op.
func ensureBalance(tx *gorm.DB, userID uint) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.CreditBalance{UserID: userID}).Error
}

func readBalance(tx *gorm.DB, userID uint) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	res := tx.Where("user_id = ?", userID).Limit(1).Find(&balance)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &balance, nil
}

func validateEntry(userID uint, txType string) error {
	if userID == 0 {
		return ErrInvalidUser
	}
	if strings.TrimSpace(txType) == "" {
		return ErrMissingType
	}
	return nil
}

func optionalKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

func realCostPtr(cost decimal.NullDecimal) *string {
	if !cost.Valid {
		return nil
	}
	s := cost.Decimal.String()
	return &s
}

func formatRealCost(cost decimal.NullDecimal) string {
	if !cost.Valid {
		return "null"
	}
	return cost.Decimal.String()
}

// parseDateRange turns inclusive YYYY-MM-DD bounds into [start, end) times.
func parseDateRange(startDate, endDate string) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if startDate != "" {
		t, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: start_date %q", ErrInvalidDateRange, startDate)
		}
		start = &t
	}
	if endDate != "" {
		t, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: end_date %q", ErrInvalidDateRange, endDate)
		}
		t = t.AddDate(0, 0, 1)
		end = &t
	}
	return start, end, nil
}
