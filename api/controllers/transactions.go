package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cashloop/cashloop-backend/api/responses"
	"github.com/cashloop/cashloop-backend/internal/ledger"
	"github.com/cashloop/cashloop-backend/pkg/db/models"
	"github.com/cashloop/cashloop-backend/pkg/enums"
	pkgerrors "github.com/cashloop/cashloop-backend/pkg/errors"
	"github.com/cashloop/cashloop-backend/pkg/logger"
)

// TransactionList returns the caller's cashback ledger, optionally filtered by
// status.
func TransactionList(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status *enums.TransactionStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseTransactionStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction status"))
				return
			}
			status = &parsed
		}

		params, err := paginationParamsFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, next, err := svc.ListForUser(r.Context(), uid, status, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing transactions"))
			return
		}

		responses.WriteSuccess(w, transactionListResponse{
			Transactions: transactionResponsesFromModels(rows),
			NextCursor:   next,
		})
	}
}

type transactionListResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

type transactionResponse struct {
	ID              uuid.UUID               `json:"id"`
	UserID          uuid.UUID               `json:"user_id"`
	CashbackAmount  string                  `json:"cashback_amount"`
	Status          enums.TransactionStatus `json:"status"`
	PayoutID        *uuid.UUID              `json:"payout_id,omitempty"`
	TransactionDate time.Time               `json:"transaction_date"`
	CreatedAt       time.Time               `json:"created_at"`
}

func transactionResponsesFromModels(rows []models.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, transactionResponse{
			ID:              row.ID,
			UserID:          row.UserID,
			CashbackAmount:  row.CashbackAmount.StringFixed(2),
			Status:          row.Status,
			PayoutID:        row.PayoutID,
			TransactionDate: row.TransactionDate,
			CreatedAt:       row.CreatedAt,
		})
	}
	return out
}
