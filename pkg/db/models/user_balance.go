package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashloop/cashloop-backend/pkg/enums"
)

// UserBalance is the per-user cashback aggregate. Outside an in-flight payout
// it must equal the sum of confirmed, unencumbered ledger transactions.
type UserBalance struct {
	UserID               uuid.UUID          `gorm:"column:user_id;type:uuid;primaryKey"`
	CashbackBalance      decimal.Decimal    `gorm:"column:cashback_balance;type:numeric(12,2);not null"`
	PayoutMethod         enums.PayoutMethod `gorm:"column:payout_method;type:text"`
	PayoutDetails        string             `gorm:"column:payout_details"`
	LastPayoutRequestAt  *time.Time         `gorm:"column:last_payout_request_at"`
	CreatedAt            time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
