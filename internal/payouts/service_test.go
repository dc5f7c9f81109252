package payouts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cashloop/cashloop-backend/internal/balance"
	"github.com/cashloop/cashloop-backend/internal/ledger"
	"github.com/cashloop/cashloop-backend/pkg/db"
	"github.com/cashloop/cashloop-backend/pkg/db/models"
	"github.com/cashloop/cashloop-backend/pkg/enums"
	pkgerrors "github.com/cashloop/cashloop-backend/pkg/errors"
	"github.com/cashloop/cashloop-backend/pkg/metrics"
	"github.com/cashloop/cashloop-backend/pkg/outbox"
	"github.com/cashloop/cashloop-backend/pkg/pagination"
)

func paginationParams(limit int, cursor string) pagination.Params {
	return pagination.Params{Limit: limit, Cursor: cursor}
}

type testEnv struct {
	db       *gorm.DB
	svc      Service
	ledger   ledger.Repository
	balances balance.Repository
	payouts  Repository
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payouts_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.Transaction{},
		&models.PayoutRequest{},
		&models.PayoutRequestItem{},
		&models.UserBalance{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newTestEnv(t *testing.T, minAmount string) *testEnv {
	t.Helper()
	return newTestEnvWithLedger(t, minAmount, nil)
}

func newTestEnvWithLedger(t *testing.T, minAmount string, ledgerRepo ledger.Repository) *testEnv {
	t.Helper()
	conn := newTestDB(t)

	if ledgerRepo == nil {
		ledgerRepo = ledger.NewRepository(conn)
	}
	balanceRepo := balance.NewRepository(conn)
	payoutRepo := NewRepository(conn)
	events := outbox.NewService(outbox.NewRepository(conn), nil)

	svc, err := NewService(
		db.FromGorm(conn),
		payoutRepo,
		ledgerRepo,
		balanceRepo,
		events,
		nil,
		nil,
		Options{
			MinAmount:   decimal.RequireFromString(minAmount),
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			BackoffMax:  5 * time.Millisecond,
		},
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	return &testEnv{
		db:       conn,
		svc:      svc,
		ledger:   ledgerRepo,
		balances: balanceRepo,
		payouts:  payoutRepo,
	}
}

func (e *testEnv) seedBalance(t *testing.T, userID uuid.UUID, amount string) {
	t.Helper()
	err := e.db.Create(&models.UserBalance{
		UserID:          userID,
		CashbackBalance: decimal.RequireFromString(amount),
	}).Error
	if err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func (e *testEnv) seedTransaction(t *testing.T, userID uuid.UUID, amount string, date time.Time) uuid.UUID {
	t.Helper()
	tx := models.Transaction{
		UserID:          userID,
		CashbackAmount:  decimal.RequireFromString(amount),
		Status:          enums.TransactionStatusConfirmed,
		TransactionDate: date,
	}
	if err := e.db.Create(&tx).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return tx.ID
}

func (e *testEnv) loadBalance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	row, err := e.balances.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	return row.CashbackBalance
}

func (e *testEnv) assertInvariant(t *testing.T, userID uuid.UUID) {
	t.Helper()
	sum, err := e.ledger.SumUnpaidConfirmed(context.Background(), userID)
	if err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	bal := e.loadBalance(t, userID)
	if bal.Sub(sum).Abs().GreaterThan(decimal.RequireFromString("0.01")) {
		t.Fatalf("balance %s diverged from ledger sum %s", bal, sum)
	}
}

func requestInput(userID uuid.UUID, amount string) RequestPayoutInput {
	return RequestPayoutInput{
		UserID:  userID,
		Amount:  decimal.RequireFromString(amount),
		Method:  enums.PayoutMethodBankTransfer,
		Details: "IBAN DE02120300000000202051",
	}
}

func TestRequestPayoutFullBalance(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "300.00")
	txID := env.seedTransaction(t, userID, "300.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	result, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00"))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	if !result.FinalAmount.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("final amount = %s, want 300.00", result.FinalAmount)
	}

	if got := env.loadBalance(t, userID); !got.IsZero() {
		t.Fatalf("balance = %s, want 0", got)
	}

	var tx models.Transaction
	if err := env.db.First(&tx, "id = ?", txID).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if tx.Status != enums.TransactionStatusAwaitingPayout {
		t.Fatalf("transaction status = %s, want awaiting_payout", tx.Status)
	}
	if tx.PayoutID == nil || *tx.PayoutID != result.PayoutRequestID {
		t.Fatalf("transaction not linked to payout %s", result.PayoutRequestID)
	}

	row, err := env.payouts.FindByID(ctx, result.PayoutRequestID)
	if err != nil {
		t.Fatalf("load payout: %v", err)
	}
	if row.Status != enums.PayoutStatusPending {
		t.Fatalf("payout status = %s, want pending", row.Status)
	}
	if len(row.Items) != 1 || row.Items[0].TransactionID != txID {
		t.Fatalf("unexpected payout items: %+v", row.Items)
	}

	var eventCount int64
	if err := env.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventPayoutRequested, result.PayoutRequestID).
		Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected 1 payout_requested event, got %d", eventCount)
	}

	env.assertInvariant(t, userID)
}

func TestRequestPayoutReducesToAchievableSum(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "500.00")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env.seedTransaction(t, userID, "120.00", base)
	env.seedTransaction(t, userID, "120.00", base.Add(time.Hour))
	bigTx := env.seedTransaction(t, userID, "260.00", base.Add(2*time.Hour))

	result, err := env.svc.RequestPayout(ctx, requestInput(userID, "250.00"))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	if !result.FinalAmount.Equal(decimal.RequireFromString("240.00")) {
		t.Fatalf("final amount = %s, want 240.00", result.FinalAmount)
	}

	if got := env.loadBalance(t, userID); !got.Equal(decimal.RequireFromString("260.00")) {
		t.Fatalf("balance = %s, want 260.00", got)
	}

	var untouched models.Transaction
	if err := env.db.First(&untouched, "id = ?", bigTx).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if untouched.Status != enums.TransactionStatusConfirmed || untouched.PayoutID != nil {
		t.Fatalf("overshooting transaction should stay selectable: %+v", untouched)
	}

	linked, err := env.ledger.ListByPayout(ctx, result.PayoutRequestID)
	if err != nil {
		t.Fatalf("list linked: %v", err)
	}
	sum := decimal.Zero
	for _, tx := range linked {
		sum = sum.Add(tx.CashbackAmount)
	}
	if !sum.Equal(result.FinalAmount) {
		t.Fatalf("linked sum %s != final amount %s", sum, result.FinalAmount)
	}

	env.assertInvariant(t, userID)
}

func TestRequestPayoutBelowMinimumBeforeStoreAccess(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "250.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "200.00")
	env.seedTransaction(t, userID, "200.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	_, err := env.svc.RequestPayout(ctx, requestInput(userID, "200.00"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeBelowMinimum) {
		t.Fatalf("expected BelowMinimum, got %v", err)
	}

	var payoutCount int64
	if err := env.db.Model(&models.PayoutRequest{}).Count(&payoutCount).Error; err != nil {
		t.Fatalf("count payouts: %v", err)
	}
	if payoutCount != 0 {
		t.Fatalf("expected no payout rows, got %d", payoutCount)
	}
	if got := env.loadBalance(t, userID); !got.Equal(decimal.RequireFromString("200.00")) {
		t.Fatalf("balance should be untouched, got %s", got)
	}
}

func TestRequestPayoutValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()

	tests := []struct {
		name  string
		input RequestPayoutInput
	}{
		{
			name:  "missing user",
			input: RequestPayoutInput{Amount: decimal.RequireFromString("50.00"), Method: enums.PayoutMethodPaypal, Details: "x"},
		},
		{
			name: "invalid method",
			input: RequestPayoutInput{
				UserID: uuid.New(), Amount: decimal.RequireFromString("50.00"),
				Method: enums.PayoutMethod("wire_pigeon"), Details: "x",
			},
		},
		{
			name: "missing details",
			input: RequestPayoutInput{
				UserID: uuid.New(), Amount: decimal.RequireFromString("50.00"),
				Method: enums.PayoutMethodPaypal,
			},
		},
		{
			name: "non-positive amount",
			input: RequestPayoutInput{
				UserID: uuid.New(), Amount: decimal.Zero,
				Method: enums.PayoutMethodPaypal, Details: "x",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.RequestPayout(ctx, tc.input)
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRequestPayoutInsufficientCoverage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "5.00")
	env.seedTransaction(t, userID, "5.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	_, err := env.svc.RequestPayout(ctx, requestInput(userID, "100.00"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientCoverage) {
		t.Fatalf("expected InsufficientLedgerCoverage, got %v", err)
	}
}

func TestRequestPayoutBalanceMismatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "100.00")
	env.seedTransaction(t, userID, "300.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	_, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeBalanceMismatch) {
		t.Fatalf("expected BalanceMismatch, got %v", err)
	}

	if got := env.loadBalance(t, userID); !got.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("balance should be untouched, got %s", got)
	}
}

func TestRequestPayoutLedgerInconsistency(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "300.00")

	_, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeLedgerInconsistency) {
		t.Fatalf("expected LedgerInconsistency, got %v", err)
	}
}

// staleLedger always reports the candidate set captured before a competing
// request encumbered it, mimicking a reader that raced the winning commit.
type staleLedger struct {
	ledger.Repository
	stale []models.Transaction
}

func (s *staleLedger) QueryUnpaidConfirmed(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	out := make([]models.Transaction, len(s.stale))
	copy(out, s.stale)
	return out, nil
}

func (s *staleLedger) WithTx(tx *gorm.DB) ledger.Repository {
	return &staleLedger{Repository: s.Repository.WithTx(tx), stale: s.stale}
}

// staleBalance serves the balance snapshot a racing reader would have seen
// before the winning commit, while keeping real conditional writes.
type staleBalance struct {
	balance.Repository
	row models.UserBalance
}

func (s *staleBalance) Get(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	row := s.row
	return &row, nil
}

func (s *staleBalance) WithTx(tx *gorm.DB) balance.Repository {
	return &staleBalance{Repository: s.Repository.WithTx(tx), row: s.row}
}

func TestRequestPayoutConcurrentClaimYieldsConflict(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "300.00")
	env.seedTransaction(t, userID, "300.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	stale, err := env.ledger.QueryUnpaidConfirmed(ctx, userID)
	if err != nil {
		t.Fatalf("capture candidates: %v", err)
	}
	staleBal, err := env.balances.Get(ctx, userID)
	if err != nil {
		t.Fatalf("capture balance: %v", err)
	}

	if _, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00")); err != nil {
		t.Fatalf("first request: %v", err)
	}

	loser := newTestEnvOnDB(t, env,
		&staleLedger{Repository: ledger.NewRepository(env.db), stale: stale},
		&staleBalance{Repository: balance.NewRepository(env.db), row: *staleBal},
	)
	_, err = loser.RequestPayout(ctx, requestInput(userID, "300.00"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}

	var payoutCount int64
	if err := env.db.Model(&models.PayoutRequest{}).Count(&payoutCount).Error; err != nil {
		t.Fatalf("count payouts: %v", err)
	}
	if payoutCount != 1 {
		t.Fatalf("expected exactly one committed payout, got %d", payoutCount)
	}

	env.assertInvariant(t, userID)
}

// newTestEnvOnDB builds a second service over the same database, so two
// "callers" can compete for the same rows.
func newTestEnvOnDB(t *testing.T, env *testEnv, ledgerRepo ledger.Repository, balanceRepo balance.Repository) Service {
	t.Helper()
	svc, err := NewService(
		db.FromGorm(env.db),
		NewRepository(env.db),
		ledgerRepo,
		balanceRepo,
		nil,
		nil,
		nil,
		Options{
			MinAmount:   decimal.RequireFromString("10.00"),
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			BackoffMax:  5 * time.Millisecond,
		},
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRequestPayoutSecondSubmitAfterDrain(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "300.00")
	env.seedTransaction(t, userID, "300.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	if _, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00")); err != nil {
		t.Fatalf("first request: %v", err)
	}

	_, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientCoverage) {
		t.Fatalf("expected InsufficientLedgerCoverage after drain, got %v", err)
	}
}

func TestRejectPayoutRestoresState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "300.00")
	txID := env.seedTransaction(t, userID, "300.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	result, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00"))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}

	rejected, err := env.svc.RejectPayout(ctx, result.PayoutRequestID, "payment details invalid", nil)
	if err != nil {
		t.Fatalf("reject payout: %v", err)
	}
	if rejected.Status != enums.PayoutStatusRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}
	if rejected.FailureReason == nil || *rejected.FailureReason != "payment details invalid" {
		t.Fatalf("failure reason not recorded: %+v", rejected.FailureReason)
	}
	if rejected.ProcessedAt == nil {
		t.Fatal("processed_at not set")
	}

	if got := env.loadBalance(t, userID); !got.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("balance = %s, want 300.00 restored", got)
	}

	var tx models.Transaction
	if err := env.db.First(&tx, "id = ?", txID).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if tx.Status != enums.TransactionStatusConfirmed || tx.PayoutID != nil {
		t.Fatalf("transaction not released: %+v", tx)
	}

	env.assertInvariant(t, userID)
}

func TestRejectPayoutAllowsReRequestOfReleasedTransactions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "300.00")
	txID := env.seedTransaction(t, userID, "300.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	// Mirror the production lookup index; AutoMigrate does not create it. It
	// must not be unique, or the rejected request's retained join row would
	// block this re-request forever.
	if err := env.db.Exec(
		"CREATE INDEX idx_payout_request_items_transaction ON payout_request_items (transaction_id)",
	).Error; err != nil {
		t.Fatalf("create index: %v", err)
	}

	first, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00"))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := env.svc.RejectPayout(ctx, first.PayoutRequestID, "payment details invalid", nil); err != nil {
		t.Fatalf("reject payout: %v", err)
	}

	second, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00"))
	if err != nil {
		t.Fatalf("second request after rejection: %v", err)
	}

	var tx models.Transaction
	if err := env.db.First(&tx, "id = ?", txID).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if tx.PayoutID == nil || *tx.PayoutID != second.PayoutRequestID {
		t.Fatalf("transaction not claimed by second payout: %+v", tx)
	}

	// The rejected request keeps its join row; the transaction now appears in
	// both covered sets.
	var itemCount int64
	if err := env.db.Model(&models.PayoutRequestItem{}).
		Where("transaction_id = ?", txID).
		Count(&itemCount).Error; err != nil {
		t.Fatalf("count join rows: %v", err)
	}
	if itemCount != 2 {
		t.Fatalf("expected 2 join rows for transaction, got %d", itemCount)
	}

	env.assertInvariant(t, userID)
}

func TestPayoutLifecycleToPaid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "300.00")
	txID := env.seedTransaction(t, userID, "300.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	result, err := env.svc.RequestPayout(ctx, requestInput(userID, "300.00"))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}

	// Skipping processing is not allowed.
	if _, err := env.svc.MarkPaid(ctx, result.PayoutRequestID, nil, nil); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected StateConflict for pending->paid, got %v", err)
	}

	notes := "wired via batch 42"
	processing, err := env.svc.MarkProcessing(ctx, result.PayoutRequestID, &notes, nil)
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if processing.Status != enums.PayoutStatusProcessing {
		t.Fatalf("status = %s, want processing", processing.Status)
	}

	paid, err := env.svc.MarkPaid(ctx, result.PayoutRequestID, nil, nil)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.Status != enums.PayoutStatusPaid || paid.ProcessedAt == nil {
		t.Fatalf("unexpected paid row: %+v", paid)
	}

	var tx models.Transaction
	if err := env.db.First(&tx, "id = ?", txID).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if tx.Status != enums.TransactionStatusPaid {
		t.Fatalf("transaction status = %s, want paid", tx.Status)
	}

	// Terminal states refuse further transitions.
	if _, err := env.svc.RejectPayout(ctx, result.PayoutRequestID, "too late", nil); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected StateConflict for paid->rejected, got %v", err)
	}
}

func TestReconcileReport(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "300.00")
	env.seedTransaction(t, userID, "300.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	report, err := env.svc.Reconcile(ctx, userID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("expected consistent report: %+v", report)
	}

	// Introduce drift directly and re-check.
	if err := env.db.Model(&models.UserBalance{}).
		Where("user_id = ?", userID).
		Update("cashback_balance", decimal.RequireFromString("50.00")).Error; err != nil {
		t.Fatalf("force drift: %v", err)
	}

	report, err = env.svc.Reconcile(ctx, userID)
	if err != nil {
		t.Fatalf("reconcile after drift: %v", err)
	}
	if report.Consistent {
		t.Fatalf("expected drift to be reported: %+v", report)
	}
	if !report.Delta.Equal(decimal.RequireFromString("-250.00")) {
		t.Fatalf("delta = %s, want -250.00", report.Delta)
	}
}

func TestRequestPayoutOutcomeLabels(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "50.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "20.00")
	env.seedTransaction(t, userID, "20.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	registry := prometheus.NewRegistry()
	svc, err := NewService(
		db.FromGorm(env.db),
		NewRepository(env.db),
		ledger.NewRepository(env.db),
		balance.NewRepository(env.db),
		nil,
		nil,
		metrics.NewPayoutMetrics(registry),
		Options{
			MinAmount:   decimal.RequireFromString("50.00"),
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			BackoffMax:  5 * time.Millisecond,
		},
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	// Cheap rejection, before any store access.
	if _, err := svc.RequestPayout(ctx, requestInput(userID, "30.00")); !pkgerrors.HasCode(err, pkgerrors.CodeBelowMinimum) {
		t.Fatalf("expected BelowMinimum, got %v", err)
	}
	// Coverage failure raised from the selection scan.
	if _, err := svc.RequestPayout(ctx, requestInput(userID, "60.00")); !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientCoverage) {
		t.Fatalf("expected InsufficientLedgerCoverage, got %v", err)
	}

	counts := requestCounts(t, registry)
	if counts["below_minimum"] != 1 {
		t.Fatalf("below_minimum count = %v, want 1", counts["below_minimum"])
	}
	if counts["insufficient_coverage"] != 1 {
		t.Fatalf("insufficient_coverage count = %v, want 1", counts["insufficient_coverage"])
	}
}

func requestCounts(t *testing.T, registry *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "payout_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" {
					counts[label.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	return counts
}

func TestListForUserPaginates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "10.00")
	ctx := context.Background()
	userID := uuid.New()
	env.seedBalance(t, userID, "1000.00")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		env.seedTransaction(t, userID, "100.00", base.Add(time.Duration(i)*time.Hour))
		if _, err := env.svc.RequestPayout(ctx, requestInput(userID, "100.00")); err != nil {
			t.Fatalf("request payout %d: %v", i, err)
		}
	}

	rows, next, err := env.svc.ListForUser(ctx, userID, paginationParams(2, ""))
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(rows) != 2 || next == "" {
		t.Fatalf("expected full first page with cursor, got %d rows, cursor %q", len(rows), next)
	}

	rows2, next2, err := env.svc.ListForUser(ctx, userID, paginationParams(2, next))
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rows2) != 1 || next2 != "" {
		t.Fatalf("expected final page of 1, got %d rows, cursor %q", len(rows2), next2)
	}
}
