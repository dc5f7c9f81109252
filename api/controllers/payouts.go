package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashloop/cashloop-backend/api/middleware"
	"github.com/cashloop/cashloop-backend/api/responses"
	"github.com/cashloop/cashloop-backend/api/validators"
	"github.com/cashloop/cashloop-backend/internal/payouts"
	"github.com/cashloop/cashloop-backend/pkg/db/models"
	"github.com/cashloop/cashloop-backend/pkg/enums"
	pkgerrors "github.com/cashloop/cashloop-backend/pkg/errors"
	"github.com/cashloop/cashloop-backend/pkg/logger"
	"github.com/cashloop/cashloop-backend/pkg/outbox"
	"github.com/cashloop/cashloop-backend/pkg/pagination"
)

type payoutCreateRequest struct {
	Amount  string `json:"amount" validate:"required"`
	Method  string `json:"method" validate:"required"`
	Details string `json:"details" validate:"required"`
}

func (r payoutCreateRequest) toInput(userID uuid.UUID, actor *outbox.ActorRef) (payouts.RequestPayoutInput, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
	if err != nil {
		return payouts.RequestPayoutInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}

	method, err := enums.ParsePayoutMethod(strings.TrimSpace(r.Method))
	if err != nil {
		return payouts.RequestPayoutInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout method")
	}

	return payouts.RequestPayoutInput{
		UserID:  userID,
		Amount:  amount,
		Method:  method,
		Details: strings.TrimSpace(r.Details),
		Actor:   actor,
	}, nil
}

// PayoutCreate handles a user's request to withdraw accumulated cashback.
func PayoutCreate(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload payoutCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput(uid, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RequestPayout(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, payoutCreateResponse{
			PayoutRequestID: result.PayoutRequestID,
			FinalAmount:     result.FinalAmount.StringFixed(2),
		})
	}
}

type payoutCreateResponse struct {
	PayoutRequestID uuid.UUID `json:"payout_request_id"`
	FinalAmount     string    `json:"final_amount"`
}

// PayoutList returns the caller's payout history, newest first.
func PayoutList(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := paginationParamsFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, next, err := svc.ListForUser(r.Context(), uid, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, payoutListResponse{
			Payouts:    payoutResponsesFromModels(rows),
			NextCursor: next,
		})
	}
}

// PayoutGet returns one of the caller's payout requests with its covered
// transactions.
func PayoutGet(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payoutID, err := uuid.Parse(chi.URLParam(r, "payoutId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout id"))
			return
		}

		row, err := svc.GetForUser(r.Context(), uid, payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, payoutResponseFromModel(row))
	}
}

type payoutListResponse struct {
	Payouts    []payoutResponse `json:"payouts"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type payoutItemResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Position      int       `json:"position"`
}

type payoutResponse struct {
	ID             uuid.UUID            `json:"id"`
	UserID         uuid.UUID            `json:"user_id"`
	Amount         string               `json:"amount"`
	Status         enums.PayoutStatus   `json:"status"`
	PaymentMethod  enums.PayoutMethod   `json:"payment_method"`
	PaymentDetails string               `json:"payment_details"`
	AdminNotes     *string              `json:"admin_notes,omitempty"`
	FailureReason  *string              `json:"failure_reason,omitempty"`
	RequestedAt    time.Time            `json:"requested_at"`
	ProcessedAt    *time.Time           `json:"processed_at,omitempty"`
	Items          []payoutItemResponse `json:"items,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func payoutResponseFromModel(m *models.PayoutRequest) payoutResponse {
	resp := payoutResponse{
		ID:             m.ID,
		UserID:         m.UserID,
		Amount:         m.Amount.StringFixed(2),
		Status:         m.Status,
		PaymentMethod:  m.PaymentMethod,
		PaymentDetails: m.PaymentDetails,
		AdminNotes:     m.AdminNotes,
		FailureReason:  m.FailureReason,
		RequestedAt:    m.RequestedAt,
		ProcessedAt:    m.ProcessedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	for _, item := range m.Items {
		resp.Items = append(resp.Items, payoutItemResponse{
			TransactionID: item.TransactionID,
			Position:      item.Position,
		})
	}
	return resp
}

func payoutResponsesFromModels(rows []models.PayoutRequest) []payoutResponse {
	out := make([]payoutResponse, 0, len(rows))
	for i := range rows {
		out = append(out, payoutResponseFromModel(&rows[i]))
	}
	return out
}

func requestUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	uid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return uid, nil
}

func actorFromRequest(r *http.Request) *outbox.ActorRef {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return nil
	}
	uid, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &outbox.ActorRef{
		UserID: uid,
		Role:   middleware.RoleFromContext(r.Context()),
	}
}

func paginationParamsFromQuery(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", 0, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}
