package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashloop/cashloop-backend/pkg/db/models"
	"github.com/cashloop/cashloop-backend/pkg/enums"
	"github.com/cashloop/cashloop-backend/pkg/pagination"
)

// Service exposes read operations over the transaction ledger.
type Service interface {
	ListForUser(ctx context.Context, userID uuid.UUID, status *enums.TransactionStatus, params pagination.Params) ([]models.Transaction, string, error)
	AvailableSum(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, status *enums.TransactionStatus, params pagination.Params) ([]models.Transaction, string, error) {
	if userID == uuid.Nil {
		return nil, "", fmt.Errorf("user id is required")
	}
	if status != nil && !status.IsValid() {
		return nil, "", fmt.Errorf("invalid transaction status %q", *status)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByUser(ctx, userID, status, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

// AvailableSum returns the total of confirmed, unencumbered transactions.
func (s *service) AvailableSum(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if userID == uuid.Nil {
		return decimal.Zero, fmt.Errorf("user id is required")
	}
	return s.repo.SumUnpaidConfirmed(ctx, userID)
}
