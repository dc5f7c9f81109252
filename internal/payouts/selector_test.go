package payouts

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashloop/cashloop-backend/pkg/db/models"
)

func candidate(amount string, date time.Time) models.Transaction {
	return models.Transaction{
		ID:              uuid.New(),
		CashbackAmount:  decimal.RequireFromString(amount),
		TransactionDate: date,
	}
}

func TestSelectCover(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		amounts   []string
		requested string
		wantIdx   []int
		wantSum   string
	}{
		{
			name:      "exact single transaction",
			amounts:   []string{"300.00"},
			requested: "300.00",
			wantIdx:   []int{0},
			wantSum:   "300",
		},
		{
			name:      "skips overshooting transaction",
			amounts:   []string{"120.00", "120.00", "260.00"},
			requested: "250.00",
			wantIdx:   []int{0, 1},
			wantSum:   "240",
		},
		{
			name:      "stops once target reached",
			amounts:   []string{"100.00", "150.00", "50.00"},
			requested: "250.00",
			wantIdx:   []int{0, 1},
			wantSum:   "250",
		},
		{
			name:      "takes later smaller transaction after skip",
			amounts:   []string{"200.00", "90.00", "40.00"},
			requested: "250.00",
			wantIdx:   []int{0, 2},
			wantSum:   "240",
		},
		{
			name:      "nothing fits",
			amounts:   []string{"400.00"},
			requested: "250.00",
			wantIdx:   nil,
			wantSum:   "0",
		},
		{
			name:      "empty ledger",
			amounts:   nil,
			requested: "250.00",
			wantIdx:   nil,
			wantSum:   "0",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var candidates []models.Transaction
			for i, amount := range tc.amounts {
				candidates = append(candidates, candidate(amount, base.Add(time.Duration(i)*time.Hour)))
			}

			sel := selectCover(candidates, decimal.RequireFromString(tc.requested))

			if !sel.Sum.Equal(decimal.RequireFromString(tc.wantSum)) {
				t.Fatalf("selected sum = %s, want %s", sel.Sum, tc.wantSum)
			}
			if len(sel.TransactionIDs) != len(tc.wantIdx) {
				t.Fatalf("selected %d transactions, want %d", len(sel.TransactionIDs), len(tc.wantIdx))
			}
			for i, idx := range tc.wantIdx {
				if sel.TransactionIDs[i] != candidates[idx].ID {
					t.Fatalf("selection[%d] = %s, want candidate %d", i, sel.TransactionIDs[i], idx)
				}
			}
		})
	}
}

func TestSelectCoverNeverExceedsTarget(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	candidates := []models.Transaction{
		candidate("70.25", base),
		candidate("70.25", base.Add(time.Hour)),
		candidate("70.25", base.Add(2*time.Hour)),
		candidate("70.25", base.Add(3*time.Hour)),
	}

	requested := decimal.RequireFromString("200.00")
	sel := selectCover(candidates, requested)

	if sel.Sum.GreaterThan(requested) {
		t.Fatalf("selection %s exceeds requested %s", sel.Sum, requested)
	}
	if !sel.Sum.Equal(decimal.RequireFromString("140.50")) {
		t.Fatalf("selected sum = %s, want 140.50", sel.Sum)
	}
}
