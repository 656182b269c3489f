package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"go.uber.org/zap"
)

// Fraud rules, evaluated in this order
const (
	RuleAmountThreshold = "AMOUNT_THRESHOLD"
	RuleVelocity        = "VELOCITY"
	RuleRoundTrip       = "ROUND_TRIP"
	RuleBalanceDrain    = "BALANCE_DRAIN"
)

// Reviewer decisions
const (
	DecisionApprove  = "APPROVE"
	DecisionBlock    = "BLOCK"
	DecisionEscalate = "ESCALATE"
)

const maxFraudScore = 100

// RuleHit is one rule that matched a transaction
type RuleHit struct {
	Rule     string `json:"rule"`
	Score    int    `json:"score"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// FraudResult is the outcome of evaluating one transaction
type FraudResult struct {
	TransactionID  int64     `json:"transactionId"`
	Score          int       `json:"score"`
	Severity       string    `json:"severity"`
	TriggeredRules []RuleHit `json:"triggeredRules"`
	Queued         bool      `json:"queued"`
	QueueItemID    int64     `json:"queueItemId,omitempty"`
}

// AccountFreezer suspends an account after a BLOCK decision
type AccountFreezer interface {
	FreezeAccount(ctx context.Context, accountID int64, reason string) error
}

// ReviewPublisher notifies reviewers about newly queued items
type ReviewPublisher interface {
	Publish(ctx context.Context, item models.FraudQueueItem) error
}

// FraudScorer evaluates posted transactions against deterministic rules
type FraudScorer struct {
	store     store.Store
	cfg       config.FraudConfig
	now       func() time.Time
	publisher ReviewPublisher
	freezer   AccountFreezer
	logger    *zap.Logger
	audit     audit.Logger
	metrics   *Metrics
}

func NewFraudScorer(s store.Store, cfg config.FraudConfig, now func() time.Time, publisher ReviewPublisher, freezer AccountFreezer, logger *zap.Logger, auditLogger audit.Logger, metrics *Metrics) *FraudScorer {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &FraudScorer{
		store:     s,
		cfg:       cfg,
		now:       now,
		publisher: publisher,
		freezer:   freezer,
		logger:    logger.Named("fraud"),
		audit:     auditLogger,
		metrics:   metrics,
	}
}

// Evaluate scores a completed transaction and queues it for review when the
// score reaches the configured threshold. A transaction is queued at most once.
func (f *FraudScorer) Evaluate(ctx context.Context, transactionID int64) (FraudResult, error) {
	tx, err := f.store.Begin(ctx, store.TxOptions{})
	if err != nil {
		return FraudResult{}, dependencyError("begin unit of work", err)
	}
	defer tx.Rollback()

	tr, err := tx.GetTransaction(ctx, transactionID)
	if err != nil {
		return FraudResult{}, notFoundOr(err, "transaction", transactionID, "load transaction")
	}
	if tr.Status != models.TransactionStatusCompleted && tr.Status != models.TransactionStatusReversed {
		return FraudResult{}, newError(KindValidation, "transaction %d is %s and cannot be scored", transactionID, tr.Status)
	}

	hits, err := f.runRules(ctx, tx, tr)
	if err != nil {
		return FraudResult{}, err
	}

	result := FraudResult{
		TransactionID:  transactionID,
		Severity:       models.SeverityLow,
		TriggeredRules: hits,
	}
	for _, h := range hits {
		result.Score += h.Score
		if models.SeverityRank(h.Severity) > models.SeverityRank(result.Severity) {
			result.Severity = h.Severity
		}
	}
	if result.Score > maxFraudScore {
		result.Score = maxFraudScore
	}

	var queued *models.FraudQueueItem
	if len(hits) > 0 && result.Score >= f.cfg.QueueThreshold {
		item, err := f.enqueue(ctx, tx, tr, result)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			result.Queued = true
		case err != nil:
			return FraudResult{}, err
		default:
			result.Queued = true
			result.QueueItemID = item.ID
			queued = &item
		}
	}

	if err := tx.Commit(); err != nil {
		return FraudResult{}, dependencyError("commit", err)
	}

	f.metrics.recordFraud(result.Severity, result.Queued)
	if queued != nil {
		f.audit.LogOperation(audit.EventFraudQueued, transactionID, "system", map[string]any{
			"score":    result.Score,
			"severity": result.Severity,
			"rules":    queued.RuleTriggered,
		})
		if f.publisher != nil {
			if err := f.publisher.Publish(ctx, *queued); err != nil {
				f.logger.Warn("review notification failed", zap.Int64("fraud_item_id", queued.ID), zap.Error(err))
			}
		}
	}
	return result, nil
}

func (f *FraudScorer) runRules(ctx context.Context, tx store.Tx, tr models.Transaction) ([]RuleHit, error) {
	hits := []RuleHit{}

	for i := len(f.cfg.Tiers) - 1; i >= 0; i-- {
		tier := f.cfg.Tiers[i]
		if tr.Amount.GreaterThanOrEqual(tier.Threshold) {
			hits = append(hits, RuleHit{
				Rule:     RuleAmountThreshold,
				Score:    tier.Score,
				Severity: tier.Severity,
				Detail:   fmt.Sprintf("amount %s at or above %s", tr.Amount.StringFixed(4), tier.Threshold.String()),
			})
			break
		}
	}

	if tr.SourceAccountID != nil && f.cfg.VelocityCount > 0 {
		count, err := tx.CountOutgoingSince(ctx, *tr.SourceAccountID, tr.CreatedAt.Add(-f.cfg.VelocityWindow))
		if err != nil {
			return nil, dependencyError("count recent transactions", err)
		}
		if count >= f.cfg.VelocityCount {
			hits = append(hits, RuleHit{
				Rule:     RuleVelocity,
				Score:    f.cfg.VelocityScore,
				Severity: models.SeverityHigh,
				Detail:   fmt.Sprintf("%d outgoing transactions within %s", count, f.cfg.VelocityWindow),
			})
		}
	}

	if tr.Type == models.TransactionTransfer && tr.SourceAccountID != nil && tr.DestinationAccountID != nil {
		back, err := tx.FindTransfer(ctx, *tr.DestinationAccountID, *tr.SourceAccountID, tr.Amount, tr.CreatedAt.Add(-f.cfg.RoundTripWindow))
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, dependencyError("find opposite transfer", err)
		default:
			hits = append(hits, RuleHit{
				Rule:     RuleRoundTrip,
				Score:    f.cfg.RoundTripScore,
				Severity: models.SeverityHigh,
				Detail:   fmt.Sprintf("opposite transfer %d of the same amount within %s", back.ID, f.cfg.RoundTripWindow),
			})
		}
	}

	if tr.SourceAccountID != nil && f.cfg.DrainRatio.IsPositive() {
		entries, err := tx.EntriesForTransaction(ctx, tr.ID)
		if err != nil {
			return nil, dependencyError("load ledger entries", err)
		}
		for _, e := range entries {
			if e.AccountID != *tr.SourceAccountID || e.EntryType != models.EntryDebit {
				continue
			}
			before := e.BalanceAfter.Add(e.Amount)
			if before.IsPositive() && e.Amount.GreaterThanOrEqual(before.Mul(f.cfg.DrainRatio)) {
				hits = append(hits, RuleHit{
					Rule:     RuleBalanceDrain,
					Score:    f.cfg.DrainScore,
					Severity: models.SeverityMedium,
					Detail:   fmt.Sprintf("debit of %s from a balance of %s", e.Amount.StringFixed(4), before.StringFixed(4)),
				})
			}
			break
		}
	}

	return hits, nil
}

func (f *FraudScorer) enqueue(ctx context.Context, tx store.Tx, tr models.Transaction, result FraudResult) (models.FraudQueueItem, error) {
	var customerID *int64
	for _, id := range []*int64{tr.SourceAccountID, tr.DestinationAccountID} {
		if id == nil {
			continue
		}
		account, err := tx.GetAccount(ctx, *id)
		if err != nil {
			return models.FraudQueueItem{}, notFoundOr(err, "account", *id, "load account")
		}
		if account.CustomerID != nil {
			customerID = account.CustomerID
			break
		}
	}

	rules := make([]string, 0, len(result.TriggeredRules))
	details := make([]map[string]any, 0, len(result.TriggeredRules))
	for _, h := range result.TriggeredRules {
		rules = append(rules, h.Rule)
		details = append(details, map[string]any{
			"rule":     h.Rule,
			"score":    h.Score,
			"severity": h.Severity,
			"detail":   h.Detail,
		})
	}

	item := models.FraudQueueItem{
		TransactionID: tr.ID,
		CustomerID:    customerID,
		RuleTriggered: strings.Join(rules, ","),
		Severity:      result.Severity,
		FraudScore:    result.Score,
		Status:        models.FraudStatusPending,
		Details:       models.Metadata{"rules": details, "amount": tr.Amount.StringFixed(4)},
	}
	if err := tx.InsertFraudItem(ctx, &item); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return models.FraudQueueItem{}, err
		}
		return models.FraudQueueItem{}, dependencyError("insert fraud item", err)
	}
	return item, nil
}

// Decide records a reviewer decision. BLOCK asks the AccountFreezer, when
// configured, to freeze the account that funded the transaction.
func (f *FraudScorer) Decide(ctx context.Context, itemID int64, decision, notes, actor string) (models.FraudQueueItem, error) {
	var status string
	switch strings.ToUpper(strings.TrimSpace(decision)) {
	case DecisionApprove:
		status = models.FraudStatusApproved
	case DecisionBlock:
		status = models.FraudStatusBlocked
	case DecisionEscalate:
		status = models.FraudStatusEscalated
	default:
		return models.FraudQueueItem{}, newError(KindValidation, "unknown decision %q", decision)
	}
	if strings.TrimSpace(actor) == "" {
		return models.FraudQueueItem{}, newError(KindValidation, "reviewer is required")
	}
	if len(actor) > MaxActorLength {
		return models.FraudQueueItem{}, newError(KindValidation, "reviewer must be at most %d characters", MaxActorLength)
	}

	tx, err := f.store.Begin(ctx, store.TxOptions{})
	if err != nil {
		return models.FraudQueueItem{}, dependencyError("begin unit of work", err)
	}
	defer tx.Rollback()

	item, err := tx.LockFraudItem(ctx, itemID)
	if err != nil {
		return models.FraudQueueItem{}, notFoundOr(err, "fraud item", itemID, "load fraud item")
	}
	if item.Status == models.FraudStatusApproved || item.Status == models.FraudStatusBlocked {
		return models.FraudQueueItem{}, newError(KindValidation, "fraud item %d was already decided as %s", itemID, item.Status)
	}

	var freezeAccount int64
	if status == models.FraudStatusBlocked {
		tr, err := tx.GetTransaction(ctx, item.TransactionID)
		if err != nil {
			return models.FraudQueueItem{}, notFoundOr(err, "transaction", item.TransactionID, "load transaction")
		}
		freezeAccount = derefID(tr.SourceAccountID)
		if freezeAccount == 0 {
			freezeAccount = derefID(tr.DestinationAccountID)
		}
	}

	now := f.now()
	item.Status = status
	item.ReviewNotes = notes
	item.DecidedBy = &actor
	item.DecidedAt = &now
	if err := tx.UpdateFraudDecision(ctx, item); err != nil {
		return models.FraudQueueItem{}, dependencyError("update fraud item", err)
	}
	if err := tx.Commit(); err != nil {
		return models.FraudQueueItem{}, dependencyError("commit", err)
	}

	f.audit.LogOperation(audit.EventFraudDecision, item.TransactionID, actor, map[string]any{
		"fraud_item_id": itemID,
		"status":        status,
	})

	if freezeAccount != 0 && f.freezer != nil {
		reason := fmt.Sprintf("fraud item %d blocked", itemID)
		if err := f.freezer.FreezeAccount(ctx, freezeAccount, reason); err != nil {
			return item, &Error{Kind: KindDependency, Message: fmt.Sprintf("decision recorded but account %d was not frozen", freezeAccount), Err: err}
		}
	}
	return item, nil
}
