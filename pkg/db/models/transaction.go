package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/cashloop/cashloop-backend/pkg/enums"
)

// Transaction is a single cashback-earning event in the ledger. The upstream
// confirmation pipeline creates and confirms rows; this service only moves
// confirmed rows to awaiting_payout (and back on rejection).
type Transaction struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID          uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	CashbackAmount  decimal.Decimal         `gorm:"column:cashback_amount;type:numeric(12,2);not null"`
	Status          enums.TransactionStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	PayoutID        *uuid.UUID              `gorm:"column:payout_id;type:uuid;index"`
	TransactionDate time.Time               `gorm:"column:transaction_date;not null;index"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id when the caller did not provide one.
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
