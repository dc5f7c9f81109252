package payouts

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashloop/cashloop-backend/internal/balance"
	"github.com/cashloop/cashloop-backend/pkg/errors"
)

// ReconciliationReport compares a user's aggregate balance against the sum of
// their selectable ledger transactions. Outside an in-flight payout the two
// must agree within one cent.
type ReconciliationReport struct {
	UserID     uuid.UUID       `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Delta      decimal.Decimal `json:"delta"`
	Consistent bool            `json:"consistent"`
}

// Reconcile produces a point-in-time consistency report for support
// escalation. It never mutates anything.
func (s *service) Reconcile(ctx context.Context, userID uuid.UUID) (*ReconciliationReport, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}

	row, err := s.balances.Get(ctx, userID)
	if stderrors.Is(err, balance.ErrNotFound) {
		row = nil
	} else if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "reading balance")
	}

	ledgerSum, err := s.ledger.SumUnpaidConfirmed(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "summing ledger")
	}

	bal := decimal.Zero
	if row != nil {
		bal = row.CashbackBalance
	}
	delta := bal.Sub(ledgerSum)

	return &ReconciliationReport{
		UserID:     userID,
		Balance:    bal,
		LedgerSum:  ledgerSum,
		Delta:      delta,
		Consistent: delta.Abs().LessThanOrEqual(reconcileEpsilon),
	}, nil
}
