package payouts

import (
	"github.com/shopspring/decimal"

	"github.com/cashloop/cashloop-backend/pkg/errors"
)

// reconcileEpsilon absorbs rounding drift between the aggregate balance and
// the summed ledger rows. One cent.
var reconcileEpsilon = decimal.NewFromFloat(0.01)

// reconcile re-checks the selection against the balance read inside the
// atomic commit scope. The selector's earlier read may have drifted; only the
// fresh value counts.
//
// On success the accepted payout amount equals the selected sum: the system
// pays out exactly what the ledger can cover, which may be less than the
// caller requested.
func reconcile(selectedSum, freshBalance, minAmount decimal.Decimal) (decimal.Decimal, error) {
	if selectedSum.Sub(freshBalance).GreaterThan(reconcileEpsilon) {
		return decimal.Zero, errors.New(errors.CodeBalanceMismatch,
			"aggregate balance is lower than the selected ledger sum").
			WithDetails(map[string]string{
				"selected_sum": selectedSum.StringFixed(2),
				"balance":      freshBalance.StringFixed(2),
			})
	}

	if selectedSum.IsZero() && freshBalance.GreaterThan(reconcileEpsilon) {
		return decimal.Zero, errors.New(errors.CodeLedgerInconsistency,
			"balance is positive but no ledger transaction is selectable").
			WithDetails(map[string]string{
				"balance": freshBalance.StringFixed(2),
			})
	}

	if selectedSum.IsZero() {
		return decimal.Zero, errors.New(errors.CodeInsufficientCoverage,
			"no ledger transaction can cover the requested amount").
			WithDetails(map[string]string{
				"achievable": "0.00",
			})
	}

	if selectedSum.LessThan(minAmount) {
		return decimal.Zero, errors.New(errors.CodeBelowMinimum,
			"achievable amount is below the payout minimum").
			WithDetails(map[string]string{
				"achievable": selectedSum.StringFixed(2),
				"minimum":    minAmount.StringFixed(2),
			})
	}

	return selectedSum, nil
}
