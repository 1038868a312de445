package services

import (
	"context"
	"sort"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BalanceDrift is a balance row that disagrees with the sums of its
// transactions.
type BalanceDrift struct {
	UserID       uint  `json:"user_id"`
	Balance      int64 `json:"balance"`
	LedgerSum    int64 `json:"ledger_sum"`
	TotalSpent   int64 `json:"total_spent"`
	LedgerSpent  int64 `json:"ledger_spent"`
	TotalEarned  int64 `json:"total_earned"`
	LedgerEarned int64 `json:"ledger_earned"`
}

type ledgerSums struct {
	UserID       uint
	LedgerSum    int64
	LedgerSpent  int64
	LedgerEarned int64
}

func ledgerSumsQuery(db *gorm.DB) *gorm.DB {
	return db.Model(&models.CreditTransaction{}).
		Select("user_id, " +
			"COALESCE(SUM(amount), 0) AS ledger_sum, " +
			"COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS ledger_spent, " +
			"COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS ledger_earned").
		Group("user_id")
}

// Reconcile recomputes every balance from the transaction log. The scan is
// lock-free, so a report can include a user whose spend landed mid-scan.
// With fix set each reported user is re-checked under a row lock and only
// rows that still disagree are overwritten; the returned slice then holds
// just those. Transactions are never touched.
func (s *CreditService) Reconcile(ctx context.Context, fix bool) ([]BalanceDrift, error) {
	var sums []ledgerSums
	err := ledgerSumsQuery(s.db.WithContext(ctx)).Scan(&sums).Error
	if err != nil {
		return nil, err
	}

	var balances []models.CreditBalance
	if err := s.db.WithContext(ctx).Find(&balances).Error; err != nil {
		return nil, err
	}

	byUser := make(map[uint]*BalanceDrift, len(balances)+len(sums))
	for _, b := range balances {
		byUser[b.UserID] = &BalanceDrift{
			UserID:      b.UserID,
			Balance:     b.Balance,
			TotalSpent:  b.TotalSpent,
			TotalEarned: b.TotalEarned,
		}
	}
	for _, sum := range sums {
		d, ok := byUser[sum.UserID]
		if !ok {
			d = &BalanceDrift{UserID: sum.UserID}
			byUser[sum.UserID] = d
		}
		d.LedgerSum = sum.LedgerSum
		d.LedgerSpent = sum.LedgerSpent
		d.LedgerEarned = sum.LedgerEarned
	}

	var drifts []BalanceDrift
	for _, d := range byUser {
		if d.Balance != d.LedgerSum || d.TotalSpent != d.LedgerSpent || d.TotalEarned != d.LedgerEarned {
			drifts = append(drifts, *d)
		}
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].UserID < drifts[j].UserID })

	if !fix || len(drifts) == 0 {
		return drifts, nil
	}

	var fixed []BalanceDrift
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range drifts {
			if err := ensureBalance(tx, d.UserID); err != nil {
				return err
			}
			// spends and grants update this row first, so holding it
			// waits out any write still in flight for the user
			var current models.CreditBalance
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ?", d.UserID).Take(&current).Error; err != nil {
				return err
			}
			var sum ledgerSums
			if err := ledgerSumsQuery(tx).Where("user_id = ?", d.UserID).Scan(&sum).Error; err != nil {
				return err
			}
			if current.Balance == sum.LedgerSum && current.TotalSpent == sum.LedgerSpent && current.TotalEarned == sum.LedgerEarned {
				continue
			}
			err := tx.Model(&models.CreditBalance{}).
				Where("user_id = ?", d.UserID).
				Updates(map[string]interface{}{
					"balance":      sum.LedgerSum,
					"total_spent":  sum.LedgerSpent,
					"total_earned": sum.LedgerEarned,
				}).Error
			if err != nil {
				return err
			}
			fixed = append(fixed, BalanceDrift{
				UserID:       d.UserID,
				Balance:      current.Balance,
				LedgerSum:    sum.LedgerSum,
				TotalSpent:   current.TotalSpent,
				LedgerSpent:  sum.LedgerSpent,
				TotalEarned:  current.TotalEarned,
				LedgerEarned: sum.LedgerEarned,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range fixed {
		logger.Warn().
			Uint("user_id", d.UserID).
			Int64("balance", d.Balance).
			Int64("ledger_sum", d.LedgerSum).
			Msg("Balance reset to ledger sum")
		s.notifier.invalidate(ctx, d.UserID, nil)
	}
	return fixed, nil
}
