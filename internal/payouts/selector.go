package payouts

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashloop/cashloop-backend/pkg/db/models"
)

// Selection is the outcome of the greedy cover over a user's selectable
// ledger transactions.
type Selection struct {
	TransactionIDs []uuid.UUID
	Sum            decimal.Decimal
}

// Covers reports whether the selection reached the requested amount.
func (s Selection) Covers(requested decimal.Decimal) bool {
	return s.Sum.GreaterThanOrEqual(requested)
}

// selectCover walks candidates in their given order and greedily accumulates
// transactions without ever exceeding the requested amount. It stops once the
// target is reached or the candidates are exhausted, so the result may
// under-cover the target even when another combination would reach it exactly.
// Candidates must already be filtered to confirmed, unencumbered rows and
// ordered by transaction date then id.
func selectCover(candidates []models.Transaction, requested decimal.Decimal) Selection {
	sel := Selection{Sum: decimal.Zero}
	for _, tx := range candidates {
		if sel.Sum.GreaterThanOrEqual(requested) {
			break
		}
		if sel.Sum.Add(tx.CashbackAmount).GreaterThan(requested) {
			continue
		}
		sel.TransactionIDs = append(sel.TransactionIDs, tx.ID)
		sel.Sum = sel.Sum.Add(tx.CashbackAmount)
	}
	return sel
}
