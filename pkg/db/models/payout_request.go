package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/cashloop/cashloop-backend/pkg/enums"
)

// PayoutRequest is a user's atomic withdrawal of accumulated cashback. The set
// of covered transactions is immutable once the request is created; it is kept
// as ordered join rows so the selection order survives round trips.
type PayoutRequest struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID         uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	Amount         decimal.Decimal      `gorm:"column:amount;type:numeric(12,2);not null"`
	Status         enums.PayoutStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentMethod  enums.PayoutMethod   `gorm:"column:payment_method;type:text;not null"`
	PaymentDetails string               `gorm:"column:payment_details;not null"`
	AdminNotes     *string              `gorm:"column:admin_notes"`
	FailureReason  *string              `gorm:"column:failure_reason"`
	RequestedAt    time.Time            `gorm:"column:requested_at;not null"`
	ProcessedAt    *time.Time           `gorm:"column:processed_at"`
	Items          []PayoutRequestItem  `gorm:"foreignKey:PayoutID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id when the caller did not provide one.
func (p *PayoutRequest) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PayoutRequestItem links a payout request to one covered transaction,
// preserving the selection order via Position.
type PayoutRequestItem struct {
	PayoutID      uuid.UUID `gorm:"column:payout_id;type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"column:transaction_id;type:uuid;primaryKey"`
	Position      int       `gorm:"column:position;not null"`
}

// TableName keeps the join table name explicit.
func (PayoutRequestItem) TableName() string {
	return "payout_request_items"
}
