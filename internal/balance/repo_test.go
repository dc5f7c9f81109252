package balance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cashloop/cashloop-backend/pkg/db/models"
	"github.com/cashloop/cashloop-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:balance_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.UserBalance{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestGetMissingRow(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	if _, err := repo.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDebitForPayoutCompareAndSwap(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := uuid.New()

	if err := repo.Create(ctx, &models.UserBalance{
		UserID:          userID,
		CashbackBalance: decimal.RequireFromString("300.00"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now()
	expected := decimal.RequireFromString("300.00")
	next := decimal.RequireFromString("60.00")

	rows, err := repo.DebitForPayout(ctx, userID, expected, next, enums.PayoutMethodPaypal, "payee@example.com", now)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if rows != 1 {
		t.Fatalf("rows = %d, want 1", rows)
	}

	got, err := repo.Get(ctx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CashbackBalance.Equal(next) {
		t.Fatalf("balance = %s, want %s", got.CashbackBalance, next)
	}
	if got.PayoutMethod != enums.PayoutMethodPaypal || got.PayoutDetails != "payee@example.com" {
		t.Fatalf("payout metadata not written: %+v", got)
	}
	if got.LastPayoutRequestAt == nil {
		t.Fatal("last_payout_request_at not written")
	}

	// A writer holding the old value must lose.
	rows, err = repo.DebitForPayout(ctx, userID, expected, decimal.Zero, enums.PayoutMethodPaypal, "payee@example.com", now)
	if err != nil {
		t.Fatalf("stale debit: %v", err)
	}
	if rows != 0 {
		t.Fatalf("stale debit affected %d rows, want 0", rows)
	}
}

func TestCreditCompareAndSwap(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := uuid.New()

	if err := repo.Create(ctx, &models.UserBalance{
		UserID:          userID,
		CashbackBalance: decimal.RequireFromString("60.00"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	rows, err := repo.Credit(ctx, userID,
		decimal.RequireFromString("60.00"),
		decimal.RequireFromString("300.00"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if rows != 1 {
		t.Fatalf("rows = %d, want 1", rows)
	}

	got, err := repo.Get(ctx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CashbackBalance.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("balance = %s, want 300.00", got.CashbackBalance)
	}

	rows, err = repo.Credit(ctx, userID,
		decimal.RequireFromString("60.00"),
		decimal.RequireFromString("999.00"))
	if err != nil {
		t.Fatalf("stale credit: %v", err)
	}
	if rows != 0 {
		t.Fatalf("stale credit affected %d rows, want 0", rows)
	}
}
