package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/cashloop/cashloop-backend/pkg/db/models"
	"github.com/cashloop/cashloop-backend/pkg/enums"
	"github.com/cashloop/cashloop-backend/pkg/pagination"
)

// Repository manages persistence for ledger transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	QueryUnpaidConfirmed(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
	SumUnpaidConfirmed(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	EncumberForPayout(ctx context.Context, ids []uuid.UUID, payoutID uuid.UUID) (int64, error)
	ReleaseForPayout(ctx context.Context, payoutID uuid.UUID) (int64, error)
	MarkPaidForPayout(ctx context.Context, payoutID uuid.UUID) (int64, error)
	ListByPayout(ctx context.Context, payoutID uuid.UUID) ([]models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status *enums.TransactionStatus, cursor *pagination.Cursor, limit int) ([]models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// QueryUnpaidConfirmed returns the user's confirmed, unencumbered transactions
// in selection order: transaction_date ascending, ties broken by id.
func (r *repository) QueryUnpaidConfirmed(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND payout_id IS NULL", userID, enums.TransactionStatusConfirmed).
		Order("transaction_date ASC").
		Order("id ASC").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// SumUnpaidConfirmed returns the total cashback the ledger can still cover for
// the user.
func (r *repository) SumUnpaidConfirmed(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM(cashback_amount), 0) AS total").
		Where("user_id = ? AND status = ? AND payout_id IS NULL", userID, enums.TransactionStatusConfirmed).
		Scan(&out).Error
	if err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

// EncumberForPayout conditionally links the given transactions to a payout.
// Only rows still confirmed and unencumbered are touched; the caller compares
// the affected count against len(ids) to detect concurrent claims.
func (r *repository) EncumberForPayout(ctx context.Context, ids []uuid.UUID, payoutID uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id IN ? AND status = ? AND payout_id IS NULL", ids, enums.TransactionStatusConfirmed).
		Updates(map[string]any{
			"status":    enums.TransactionStatusAwaitingPayout,
			"payout_id": payoutID,
		})
	return res.RowsAffected, res.Error
}

// ReleaseForPayout reverses an encumbrance, returning the linked transactions
// to the selectable pool.
func (r *repository) ReleaseForPayout(ctx context.Context, payoutID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("payout_id = ? AND status = ?", payoutID, enums.TransactionStatusAwaitingPayout).
		Updates(map[string]any{
			"status":    enums.TransactionStatusConfirmed,
			"payout_id": nil,
		})
	return res.RowsAffected, res.Error
}

// MarkPaidForPayout settles the linked transactions once the payout is paid.
func (r *repository) MarkPaidForPayout(ctx context.Context, payoutID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("payout_id = ? AND status = ?", payoutID, enums.TransactionStatusAwaitingPayout).
		Update("status", enums.TransactionStatusPaid)
	return res.RowsAffected, res.Error
}

func (r *repository) ListByPayout(ctx context.Context, payoutID uuid.UUID) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("payout_id = ?", payoutID).
		Order("transaction_date ASC").
		Order("id ASC").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// ListByUser returns the user's transactions newest-first with keyset
// pagination.
func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, status *enums.TransactionStatus, cursor *pagination.Cursor, limit int) ([]models.Transaction, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var txs []models.Transaction
	err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}
