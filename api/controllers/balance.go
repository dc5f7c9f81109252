package controllers

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cashloop/cashloop-backend/api/responses"
	"github.com/cashloop/cashloop-backend/internal/balance"
	"github.com/cashloop/cashloop-backend/pkg/enums"
	pkgerrors "github.com/cashloop/cashloop-backend/pkg/errors"
	"github.com/cashloop/cashloop-backend/pkg/logger"
)

// BalanceGet returns the caller's cashback aggregate. A user with no balance
// row reads as a zero balance.
func BalanceGet(svc balance.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "balance service unavailable"))
			return
		}

		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := svc.GetForUser(r.Context(), uid)
		if stderrors.Is(err, balance.ErrNotFound) {
			responses.WriteSuccess(w, balanceResponse{UserID: uid, CashbackBalance: "0.00"})
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading balance"))
			return
		}

		responses.WriteSuccess(w, balanceResponse{
			UserID:              row.UserID,
			CashbackBalance:     row.CashbackBalance.StringFixed(2),
			PayoutMethod:        row.PayoutMethod,
			PayoutDetails:       row.PayoutDetails,
			LastPayoutRequestAt: row.LastPayoutRequestAt,
			UpdatedAt:           row.UpdatedAt,
		})
	}
}

type balanceResponse struct {
	UserID              uuid.UUID          `json:"user_id"`
	CashbackBalance     string             `json:"cashback_balance"`
	PayoutMethod        enums.PayoutMethod `json:"payout_method,omitempty"`
	PayoutDetails       string             `json:"payout_details,omitempty"`
	LastPayoutRequestAt *time.Time         `json:"last_payout_request_at,omitempty"`
	UpdatedAt           time.Time          `json:"updated_at"`
}
