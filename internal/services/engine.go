package services

import (
	"context"
	"time"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options carries the collaborators of the ledger engine
type Options struct {
	Store       store.Store
	Config      *config.Config
	Logger      *zap.Logger
	Audit       audit.Logger
	Metrics     *Metrics
	Clock       func() time.Time
	ReviewQueue ReviewPublisher
	Freezer     AccountFreezer
}

// Engine is the entry point the API layer and scheduled jobs call into
type Engine struct {
	posting    *PostingEngine
	reversal   *ReversalEngine
	reconciler *Reconciler
	interest   *InterestEngine
	fraud      *FraudScorer
	logger     *zap.Logger
	metrics    *Metrics
}

func NewEngine(opts Options) *Engine {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	auditLogger := opts.Audit
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}

	posting := NewPostingEngine(opts.Store, cfg.Engine, opts.Clock, logger, auditLogger, opts.Metrics)
	e := &Engine{
		posting:    posting,
		reversal:   NewReversalEngine(posting),
		reconciler: NewReconciler(opts.Store, cfg.Reconciliation, cfg.Engine.MaxAttempts, logger, auditLogger, opts.Metrics),
		interest:   NewInterestEngine(opts.Store, posting, cfg.Interest, cfg.Engine.InterestExpenseAccountID, logger, auditLogger, opts.Metrics),
		fraud:      NewFraudScorer(opts.Store, cfg.Fraud, opts.Clock, opts.ReviewQueue, opts.Freezer, logger, auditLogger, opts.Metrics),
		logger:     logger,
		metrics:    opts.Metrics,
	}
	posting.OnCommitted(e.scoreAfterCommit)
	return e
}

// scoreAfterCommit runs fraud scoring for a committed posting. Failures are
// logged and counted, never returned to the caller of the posting.
func (e *Engine) scoreAfterCommit(ctx context.Context, transactionID int64) {
	result, err := e.fraud.Evaluate(context.WithoutCancel(ctx), transactionID)
	if err != nil {
		e.metrics.recordFraudFailure()
		e.logger.Warn("fraud evaluation failed", zap.Int64("transaction_id", transactionID), zap.Error(err))
		return
	}
	if result.Queued {
		e.logger.Info("transaction queued for fraud review",
			zap.Int64("transaction_id", transactionID),
			zap.Int("score", result.Score),
			zap.String("severity", result.Severity),
		)
	}
}

func (e *Engine) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal, description, actorID, idempotencyKey string) (PostingResult, error) {
	return e.posting.Deposit(ctx, accountID, amount, description, actorID, idempotencyKey)
}

func (e *Engine) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal, description, actorID, idempotencyKey string) (PostingResult, error) {
	return e.posting.Withdraw(ctx, accountID, amount, description, actorID, idempotencyKey)
}

func (e *Engine) Transfer(ctx context.Context, fromAccountID, toAccountID int64, amount decimal.Decimal, description, idempotencyKey, actorID string) (PostingResult, error) {
	return e.posting.Transfer(ctx, fromAccountID, toAccountID, amount, description, idempotencyKey, actorID)
}

// ReverseTransaction returns the reversal transaction id in the result
func (e *Engine) ReverseTransaction(ctx context.Context, transactionID int64, reason, actorID string) (PostingResult, error) {
	return e.reversal.Reverse(ctx, transactionID, reason, actorID)
}

// RebuildAccountBalances rebuilds every balance from the journal as of asOf
func (e *Engine) RebuildAccountBalances(ctx context.Context, actorID string, asOf time.Time) (RebuildSummary, error) {
	return e.reconciler.RebuildAll(ctx, actorID, asOf)
}

func (e *Engine) RebuildAccountBalance(ctx context.Context, accountID int64, actorID string, asOf time.Time) (RebuildResult, error) {
	return e.reconciler.RebuildAccount(ctx, accountID, actorID, asOf)
}

func (e *Engine) CalculateDailyInterest(ctx context.Context, date time.Time) (int, error) {
	return e.interest.AccrueDaily(ctx, date)
}

func (e *Engine) PostMonthlyInterest(ctx context.Context, periodDate time.Time) (InterestPostingSummary, error) {
	return e.interest.PostMonthly(ctx, periodDate)
}

func (e *Engine) VerifyDoubleEntry(ctx context.Context) (DoubleEntryReport, error) {
	return e.reconciler.VerifyDoubleEntry(ctx)
}

func (e *Engine) VerifyBalanceIntegrity(ctx context.Context) (IntegrityReport, error) {
	return e.reconciler.VerifyBalanceIntegrity(ctx)
}

func (e *Engine) EvaluateTransactionForFraud(ctx context.Context, transactionID int64) (FraudResult, error) {
	return e.fraud.Evaluate(ctx, transactionID)
}

func (e *Engine) DecideFraudItem(ctx context.Context, itemID int64, decision, notes, actorID string) (models.FraudQueueItem, error) {
	return e.fraud.Decide(ctx, itemID, decision, notes, actorID)
}
