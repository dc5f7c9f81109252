package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cashloop/cashloop-backend/pkg/db/models"
	"github.com/cashloop/cashloop-backend/pkg/enums"
	"github.com/cashloop/cashloop-backend/pkg/pagination"
)

// ErrNotFound is returned when no payout request exists for an id.
var ErrNotFound = errors.New("payout request not found")

// StatusUpdate carries the optional fields written alongside a status change.
type StatusUpdate struct {
	ProcessedAt   *time.Time
	AdminNotes    *string
	FailureReason *string
}

// Repository manages persistence for payout requests and their item links.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, row *models.PayoutRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	UpdateStatusConditional(ctx context.Context, id uuid.UUID, expected, next enums.PayoutStatus, update StatusUpdate) (int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PayoutRequest, error)
	ListByStatus(ctx context.Context, status enums.PayoutStatus, cursor *pagination.Cursor, limit int) ([]models.PayoutRequest, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payout repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create persists the payout request with its item links in one insert chain.
func (r *repository) Create(ctx context.Context, row *models.PayoutRequest) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	var row models.PayoutRequest
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateStatusConditional transitions the request only when it still holds the
// expected status. Zero affected rows means a concurrent transition won.
func (r *repository) UpdateStatusConditional(ctx context.Context, id uuid.UUID, expected, next enums.PayoutStatus, update StatusUpdate) (int64, error) {
	values := map[string]any{"status": next}
	if update.ProcessedAt != nil {
		values["processed_at"] = *update.ProcessedAt
	}
	if update.AdminNotes != nil {
		values["admin_notes"] = *update.AdminNotes
	}
	if update.FailureReason != nil {
		values["failure_reason"] = *update.FailureReason
	}

	res := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(values)
	return res.RowsAffected, res.Error
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PayoutRequest, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID)
	if cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var rows []models.PayoutRequest
	err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListByStatus returns the admin queue oldest-first so requests are worked in
// arrival order.
func (r *repository) ListByStatus(ctx context.Context, status enums.PayoutStatus, cursor *pagination.Cursor, limit int) ([]models.PayoutRequest, error) {
	q := r.db.WithContext(ctx).
		Where("status = ?", status)
	if cursor != nil {
		q = q.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var rows []models.PayoutRequest
	err := q.Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
