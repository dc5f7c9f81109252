package balance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/cashloop/cashloop-backend/pkg/db/models"
	"github.com/cashloop/cashloop-backend/pkg/enums"
)

// ErrNotFound is returned when no balance row exists for a user.
var ErrNotFound = errors.New("user balance not found")

// Repository manages persistence for per-user cashback aggregates. All
// mutations are compare-and-swap on the previously read balance so concurrent
// writers never lose updates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	Create(ctx context.Context, row *models.UserBalance) error
	DebitForPayout(ctx context.Context, userID uuid.UUID, expected, next decimal.Decimal, method enums.PayoutMethod, details string, at time.Time) (int64, error)
	Credit(ctx context.Context, userID uuid.UUID, expected, next decimal.Decimal) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a balance repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	var row models.UserBalance
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) Create(ctx context.Context, row *models.UserBalance) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// DebitForPayout writes the decremented balance conditionally on the value the
// caller read inside the same atomic scope. Zero affected rows means a
// concurrent writer got there first.
func (r *repository) DebitForPayout(ctx context.Context, userID uuid.UUID, expected, next decimal.Decimal, method enums.PayoutMethod, details string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UserBalance{}).
		Where("user_id = ? AND cashback_balance = ?", userID, expected).
		Updates(map[string]any{
			"cashback_balance":       next,
			"payout_method":          method,
			"payout_details":         details,
			"last_payout_request_at": at,
		})
	return res.RowsAffected, res.Error
}

// Credit writes the incremented balance under the same compare-and-swap
// discipline, used by the rejection compensation path.
func (r *repository) Credit(ctx context.Context, userID uuid.UUID, expected, next decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UserBalance{}).
		Where("user_id = ? AND cashback_balance = ?", userID, expected).
		Update("cashback_balance", next)
	return res.RowsAffected, res.Error
}
