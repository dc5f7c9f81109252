package payouts

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/cashloop/cashloop-backend/internal/balance"
	"github.com/cashloop/cashloop-backend/internal/ledger"
	"github.com/cashloop/cashloop-backend/pkg/db"
	"github.com/cashloop/cashloop-backend/pkg/db/models"
	"github.com/cashloop/cashloop-backend/pkg/enums"
	"github.com/cashloop/cashloop-backend/pkg/errors"
	"github.com/cashloop/cashloop-backend/pkg/logger"
	"github.com/cashloop/cashloop-backend/pkg/metrics"
	"github.com/cashloop/cashloop-backend/pkg/outbox"
	"github.com/cashloop/cashloop-backend/pkg/pagination"
)

// errCommitConflict aborts the current attempt so the coordinator re-selects
// and retries. Never surfaced to callers directly.
var errCommitConflict = stderrors.New("payout commit conflict")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Options tunes the commit coordinator's retry behavior.
type Options struct {
	MinAmount   decimal.Decimal
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// RequestPayoutInput carries a user's withdrawal request.
type RequestPayoutInput struct {
	UserID  uuid.UUID
	Amount  decimal.Decimal
	Method  enums.PayoutMethod
	Details string
	Actor   *outbox.ActorRef
}

// RequestPayoutResult reports the committed payout.
type RequestPayoutResult struct {
	PayoutRequestID uuid.UUID
	FinalAmount     decimal.Decimal
}

// Service coordinates payout creation and lifecycle transitions.
type Service interface {
	RequestPayout(ctx context.Context, input RequestPayoutInput) (*RequestPayoutResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.PayoutRequest, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.PayoutRequest, string, error)
	ListQueue(ctx context.Context, status enums.PayoutStatus, params pagination.Params) ([]models.PayoutRequest, string, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, notes *string, actor *outbox.ActorRef) (*models.PayoutRequest, error)
	MarkPaid(ctx context.Context, id uuid.UUID, notes *string, actor *outbox.ActorRef) (*models.PayoutRequest, error)
	RejectPayout(ctx context.Context, id uuid.UUID, reason string, actor *outbox.ActorRef) (*models.PayoutRequest, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (*ReconciliationReport, error)
}

type service struct {
	runner   txRunner
	payouts  Repository
	ledger   ledger.Repository
	balances balance.Repository
	events   eventEmitter
	logg     *logger.Logger
	metrics  *metrics.PayoutMetrics
	opts     Options
}

// NewService wires the payout coordinator with its store dependencies.
func NewService(
	runner txRunner,
	payouts Repository,
	ledgerRepo ledger.Repository,
	balances balance.Repository,
	events eventEmitter,
	logg *logger.Logger,
	payoutMetrics *metrics.PayoutMetrics,
	opts Options,
) (Service, error) {
	if runner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if payouts == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if ledgerRepo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if balances == nil {
		return nil, fmt.Errorf("balance repository required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 50 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Second
	}
	return &service{
		runner:   runner,
		payouts:  payouts,
		ledger:   ledgerRepo,
		balances: balances,
		events:   events,
		logg:     logg,
		metrics:  payoutMetrics,
		opts:     opts,
	}, nil
}

// RequestPayout converts a user's accumulated cashback into a single pending
// payout request. The three linked writes (create request, decrement balance,
// encumber transactions) apply as one unit; a conflicting concurrent write
// aborts the unit and the whole attempt restarts from the selection scan, up
// to the configured retry cap.
func (s *service) RequestPayout(ctx context.Context, input RequestPayoutInput) (*RequestPayoutResult, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if !input.Method.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid payout method %q", input.Method))
	}
	if input.Details == "" {
		return nil, errors.New(errors.CodeValidation, "payout details are required")
	}
	if !input.Amount.IsPositive() {
		return nil, errors.New(errors.CodeValidation, "amount must be positive")
	}
	// Cheap rejection before any store access; the validator re-checks the
	// minimum against the actually achievable sum inside the commit scope.
	if input.Amount.LessThan(s.opts.MinAmount) {
		// Same outcome label as a below-minimum raised inside an attempt, so
		// the request counter does not depend on where the check fired.
		s.metrics.IncRequest("below_minimum")
		return nil, errors.New(errors.CodeBelowMinimum, "requested amount is below the payout minimum").
			WithDetails(map[string]string{
				"requested": input.Amount.StringFixed(2),
				"minimum":   s.opts.MinAmount.StringFixed(2),
			})
	}

	ctx = s.withUserLog(ctx, input.UserID)

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		started := time.Now()
		result, err := s.attemptCommit(ctx, input)
		if err == nil {
			s.metrics.ObserveCommit("success", time.Since(started))
			s.metrics.IncRequest("success")
			if s.logg != nil {
				logCtx := s.logg.WithPayoutID(ctx, result.PayoutRequestID.String())
				s.logg.Info(logCtx, "payout request committed")
			}
			return result, nil
		}

		if !isConflict(err) {
			s.metrics.ObserveCommit("error", time.Since(started))
			s.metrics.IncRequest(outcomeLabel(err))
			if s.logg != nil && isConsistencyFailure(err) {
				s.logg.Error(ctx, "ledger and balance diverged during payout commit", err)
			}
			return nil, err
		}

		s.metrics.ObserveCommit("conflict", time.Since(started))
		s.metrics.IncConflict()
		if attempt == s.opts.MaxAttempts {
			break
		}

		s.metrics.IncRetry()
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "payout commit conflict, retrying")
		}
		if err := s.backoff(ctx, attempt); err != nil {
			return nil, errors.Wrap(errors.CodeDependency, err, "payout commit interrupted")
		}
	}

	s.metrics.IncRequest("conflict")
	return nil, errors.New(errors.CodeConflict, "payout request conflicted with a concurrent update")
}

func (s *service) attemptCommit(ctx context.Context, input RequestPayoutInput) (*RequestPayoutResult, error) {
	// Selection scans outside the atomic scope; everything it read is
	// re-validated against fresh values inside.
	candidates, err := s.ledger.QueryUnpaidConfirmed(ctx, input.UserID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "querying ledger")
	}

	sel := selectCover(candidates, input.Amount)
	if sel.Sum.IsPositive() && sel.Sum.LessThan(s.opts.MinAmount) {
		return nil, errors.New(errors.CodeInsufficientCoverage, "achievable amount is below the payout minimum").
			WithDetails(map[string]string{
				"achievable": sel.Sum.StringFixed(2),
				"minimum":    s.opts.MinAmount.StringFixed(2),
			})
	}

	var result *RequestPayoutResult
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		fresh, err := s.balances.WithTx(tx).Get(ctx, input.UserID)
		if stderrors.Is(err, balance.ErrNotFound) {
			fresh = &models.UserBalance{UserID: input.UserID, CashbackBalance: decimal.Zero}
		} else if err != nil {
			return errors.Wrap(errors.CodeDependency, err, "reading balance")
		}

		finalAmount, err := reconcile(sel.Sum, fresh.CashbackBalance, s.opts.MinAmount)
		if err != nil {
			return err
		}

		now := time.Now()
		request := &models.PayoutRequest{
			UserID:         input.UserID,
			Amount:         finalAmount,
			Status:         enums.PayoutStatusPending,
			PaymentMethod:  input.Method,
			PaymentDetails: input.Details,
			RequestedAt:    now,
		}
		for i, txID := range sel.TransactionIDs {
			request.Items = append(request.Items, models.PayoutRequestItem{
				TransactionID: txID,
				Position:      i,
			})
		}
		if err := s.payouts.WithTx(tx).Create(ctx, request); err != nil {
			if db.IsUniqueViolation(err, "") {
				return errCommitConflict
			}
			return errors.Wrap(errors.CodeDependency, err, "creating payout request")
		}

		affected, err := s.ledger.WithTx(tx).EncumberForPayout(ctx, sel.TransactionIDs, request.ID)
		if err != nil {
			return errors.Wrap(errors.CodeDependency, err, "encumbering transactions")
		}
		if affected != int64(len(sel.TransactionIDs)) {
			return errCommitConflict
		}

		next := fresh.CashbackBalance.Sub(finalAmount)
		rows, err := s.balances.WithTx(tx).DebitForPayout(ctx, input.UserID, fresh.CashbackBalance, next, input.Method, input.Details, now)
		if err != nil {
			return errors.Wrap(errors.CodeDependency, err, "decrementing balance")
		}
		if rows == 0 {
			return errCommitConflict
		}

		if err := s.emit(ctx, tx, enums.EventPayoutRequested, request, input.Actor, map[string]any{
			"user_id":         input.UserID,
			"amount":          finalAmount.StringFixed(2),
			"transaction_ids": sel.TransactionIDs,
		}); err != nil {
			return err
		}

		result = &RequestPayoutResult{
			PayoutRequestID: request.ID,
			FinalAmount:     finalAmount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	if id == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "payout id is required")
	}
	row, err := s.payouts.FindByID(ctx, id)
	if stderrors.Is(err, ErrNotFound) {
		return nil, errors.New(errors.CodeNotFound, "payout request not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "reading payout request")
	}
	return row, nil
}

// GetForUser enforces ownership; a foreign payout id reads as not found.
func (s *service) GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.PayoutRequest, error) {
	row, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.UserID != userID {
		return nil, errors.New(errors.CodeNotFound, "payout request not found")
	}
	return row, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.PayoutRequest, string, error) {
	if userID == uuid.Nil {
		return nil, "", errors.New(errors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", errors.Wrap(errors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.payouts.ListByUser(ctx, userID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, "", errors.Wrap(errors.CodeDependency, err, "listing payout requests")
	}
	rows, next := trimPage(rows, limit)
	return rows, next, nil
}

func (s *service) ListQueue(ctx context.Context, status enums.PayoutStatus, params pagination.Params) ([]models.PayoutRequest, string, error) {
	if !status.IsValid() {
		return nil, "", errors.New(errors.CodeValidation, fmt.Sprintf("invalid payout status %q", status))
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", errors.Wrap(errors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.payouts.ListByStatus(ctx, status, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, "", errors.Wrap(errors.CodeDependency, err, "listing payout queue")
	}
	rows, next := trimPage(rows, limit)
	return rows, next, nil
}

// MarkProcessing moves a pending request into the admin's hands.
func (s *service) MarkProcessing(ctx context.Context, id uuid.UUID, notes *string, actor *outbox.ActorRef) (*models.PayoutRequest, error) {
	return s.transition(ctx, id, enums.PayoutStatusProcessing, enums.EventPayoutProcessing, StatusUpdate{AdminNotes: notes}, actor, nil)
}

// MarkPaid settles a processing request and its linked transactions.
func (s *service) MarkPaid(ctx context.Context, id uuid.UUID, notes *string, actor *outbox.ActorRef) (*models.PayoutRequest, error) {
	now := time.Now()
	return s.transition(ctx, id, enums.PayoutStatusPaid, enums.EventPayoutPaid, StatusUpdate{ProcessedAt: &now, AdminNotes: notes}, actor,
		func(tx *gorm.DB, row *models.PayoutRequest) error {
			affected, err := s.ledger.WithTx(tx).MarkPaidForPayout(ctx, row.ID)
			if err != nil {
				return errors.Wrap(errors.CodeDependency, err, "settling transactions")
			}
			if affected != int64(len(row.Items)) {
				return errCommitConflict
			}
			return nil
		})
}

// RejectPayout reverses a request: the linked transactions return to the
// selectable pool and the balance is credited back, restoring the state the
// request consumed. Uses the same conditional-write discipline as the commit.
func (s *service) RejectPayout(ctx context.Context, id uuid.UUID, reason string, actor *outbox.ActorRef) (*models.PayoutRequest, error) {
	if reason == "" {
		return nil, errors.New(errors.CodeValidation, "rejection reason is required")
	}
	now := time.Now()
	return s.transition(ctx, id, enums.PayoutStatusRejected, enums.EventPayoutRejected, StatusUpdate{ProcessedAt: &now, FailureReason: &reason}, actor,
		func(tx *gorm.DB, row *models.PayoutRequest) error {
			released, err := s.ledger.WithTx(tx).ReleaseForPayout(ctx, row.ID)
			if err != nil {
				return errors.Wrap(errors.CodeDependency, err, "releasing transactions")
			}
			if released != int64(len(row.Items)) {
				return errCommitConflict
			}

			fresh, err := s.balances.WithTx(tx).Get(ctx, row.UserID)
			if err != nil {
				return errors.Wrap(errors.CodeDependency, err, "reading balance")
			}
			next := fresh.CashbackBalance.Add(row.Amount)
			rows, err := s.balances.WithTx(tx).Credit(ctx, row.UserID, fresh.CashbackBalance, next)
			if err != nil {
				return errors.Wrap(errors.CodeDependency, err, "crediting balance")
			}
			if rows == 0 {
				return errCommitConflict
			}
			return nil
		})
}

// transition applies one lifecycle step with bounded retries. The extra hook
// runs inside the same transaction after the conditional status write.
func (s *service) transition(
	ctx context.Context,
	id uuid.UUID,
	target enums.PayoutStatus,
	eventType enums.OutboxEventType,
	update StatusUpdate,
	actor *outbox.ActorRef,
	extra func(tx *gorm.DB, row *models.PayoutRequest) error,
) (*models.PayoutRequest, error) {
	if id == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "payout id is required")
	}

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		var updated *models.PayoutRequest
		err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
			row, err := s.payouts.WithTx(tx).FindByID(ctx, id)
			if stderrors.Is(err, ErrNotFound) {
				return errors.New(errors.CodeNotFound, "payout request not found")
			}
			if err != nil {
				return errors.Wrap(errors.CodeDependency, err, "reading payout request")
			}
			if !row.Status.CanTransitionTo(target) {
				return errors.New(errors.CodeStateConflict,
					fmt.Sprintf("cannot move payout from %s to %s", row.Status, target)).
					WithDetails(map[string]string{"current": row.Status.String(), "target": target.String()})
			}

			rows, err := s.payouts.WithTx(tx).UpdateStatusConditional(ctx, id, row.Status, target, update)
			if err != nil {
				return errors.Wrap(errors.CodeDependency, err, "updating payout status")
			}
			if rows == 0 {
				return errCommitConflict
			}

			if extra != nil {
				if err := extra(tx, row); err != nil {
					return err
				}
			}

			if err := s.emit(ctx, tx, eventType, row, actor, map[string]any{
				"user_id": row.UserID,
				"amount":  row.Amount.StringFixed(2),
				"status":  target,
			}); err != nil {
				return err
			}

			row.Status = target
			if update.ProcessedAt != nil {
				row.ProcessedAt = update.ProcessedAt
			}
			if update.AdminNotes != nil {
				row.AdminNotes = update.AdminNotes
			}
			if update.FailureReason != nil {
				row.FailureReason = update.FailureReason
			}
			updated = row
			return nil
		})
		if err == nil {
			if s.logg != nil {
				logCtx := s.logg.WithPayoutID(ctx, id.String())
				s.logg.Info(s.logg.WithField(logCtx, "status", target.String()), "payout transitioned")
			}
			return updated, nil
		}
		if !isConflict(err) {
			return nil, err
		}
		s.metrics.IncConflict()
		if attempt == s.opts.MaxAttempts {
			break
		}
		s.metrics.IncRetry()
		if err := s.backoff(ctx, attempt); err != nil {
			return nil, errors.Wrap(errors.CodeDependency, err, "payout transition interrupted")
		}
	}

	return nil, errors.New(errors.CodeConflict, "payout transition conflicted with a concurrent update")
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, row *models.PayoutRequest, actor *outbox.ActorRef, data map[string]any) error {
	if s.events == nil {
		return nil
	}
	err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayoutRequest,
		AggregateID:   row.ID,
		Actor:         actor,
		Data:          data,
		Version:       1,
	})
	if err != nil {
		return errors.Wrap(errors.CodeDependency, err, "emitting outbox event")
	}
	return nil
}

func (s *service) backoff(ctx context.Context, attempt int) error {
	delay := s.opts.BackoffBase << (attempt - 1)
	if delay > s.opts.BackoffMax {
		delay = s.opts.BackoffMax
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *service) withUserLog(ctx context.Context, userID uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithUserID(ctx, userID.String())
}

func isConflict(err error) bool {
	return stderrors.Is(err, errCommitConflict)
}

func isConsistencyFailure(err error) bool {
	return errors.HasCode(err, errors.CodeBalanceMismatch) ||
		errors.HasCode(err, errors.CodeLedgerInconsistency)
}

func outcomeLabel(err error) string {
	if typed := errors.As(err); typed != nil {
		switch typed.Code() {
		case errors.CodeBelowMinimum:
			return "below_minimum"
		case errors.CodeInsufficientCoverage:
			return "insufficient_coverage"
		case errors.CodeBalanceMismatch:
			return "balance_mismatch"
		case errors.CodeLedgerInconsistency:
			return "ledger_inconsistency"
		}
	}
	return "error"
}

func trimPage(rows []models.PayoutRequest, limit int) ([]models.PayoutRequest, string) {
	if len(rows) <= limit {
		return rows, ""
	}
	rows = rows[:limit]
	last := rows[len(rows)-1]
	return rows, pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
}
