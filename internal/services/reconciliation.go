package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RebuildResult reports one account rebuilt from the journal
type RebuildResult struct {
	AccountID  int64           `json:"accountId"`
	OldBalance decimal.Decimal `json:"oldBalance"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

// Drifted reports whether the materialized balance disagreed with the journal
func (r RebuildResult) Drifted() bool {
	return !r.OldBalance.Equal(r.NewBalance)
}

// RebuildSummary is the outcome of a full rebuild
type RebuildSummary struct {
	AccountsRefreshed int     `json:"accountsRefreshed"`
	DriftedAccounts   []int64 `json:"driftedAccounts"`
	Status            string  `json:"status"`
	Message           string  `json:"message"`
}

// Discrepancy is one account whose materialized balance drifted from the journal
type Discrepancy struct {
	AccountID    int64           `json:"accountId"`
	Materialized decimal.Decimal `json:"materialized"`
	Computed     decimal.Decimal `json:"computed"`
	Difference   decimal.Decimal `json:"difference"`
}

// IntegrityReport is the outcome of VerifyBalanceIntegrity
type IntegrityReport struct {
	Valid         bool          `json:"valid"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// Err returns an INTEGRITY_VIOLATION failure when the report found drift
func (r IntegrityReport) Err() error {
	if r.Valid {
		return nil
	}
	return newError(KindIntegrityViolation, "%d account balances drifted from the journal", len(r.Discrepancies))
}

// DoubleEntryReport is the outcome of VerifyDoubleEntry
type DoubleEntryReport struct {
	Valid                  bool            `json:"valid"`
	TotalCredits           decimal.Decimal `json:"totalCredits"`
	TotalDebits            decimal.Decimal `json:"totalDebits"`
	Discrepancy            decimal.Decimal `json:"discrepancy"`
	UnbalancedTransactions []int64         `json:"unbalancedTransactions"`
}

// Err returns an INTEGRITY_VIOLATION failure when debits and credits disagree
func (r DoubleEntryReport) Err() error {
	if r.Valid {
		return nil
	}
	return newError(KindIntegrityViolation, "journal out of balance by %s across %d transactions",
		r.Discrepancy.StringFixed(4), len(r.UnbalancedTransactions))
}

// Reconciler recomputes materialized balances from the journal and reports drift
type Reconciler struct {
	store   store.Store
	cfg     config.ReconciliationConfig
	retries int
	logger  *zap.Logger
	audit   audit.Logger
	metrics *Metrics
}

func NewReconciler(s store.Store, cfg config.ReconciliationConfig, maxAttempts int, logger *zap.Logger, auditLogger audit.Logger, metrics *Metrics) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Reconciler{
		store:   s,
		cfg:     cfg,
		retries: maxAttempts,
		logger:  logger.Named("reconciliation"),
		audit:   auditLogger,
		metrics: metrics,
	}
}

// RebuildOne sets the balance of accountID to sum(CREDIT) - sum(DEBIT) over every
// journal row. asOf only stamps last_calculated_at.
func (r *Reconciler) RebuildOne(ctx context.Context, accountID int64, asOf time.Time) (RebuildResult, error) {
	var (
		result RebuildResult
		err    error
	)
	for attempt := 1; attempt <= r.retries; attempt++ {
		result, err = r.rebuildOnce(ctx, accountID, asOf)
		if err == nil || !retryable(err) {
			return result, err
		}
	}
	return result, &Error{Kind: KindConcurrency, Message: fmt.Sprintf("balance of account %d could not be rebuilt", accountID), Err: err}
}

// RebuildAccount rebuilds a single balance on request of actor and audits it
func (r *Reconciler) RebuildAccount(ctx context.Context, accountID int64, actor string, asOf time.Time) (RebuildResult, error) {
	result, err := r.RebuildOne(ctx, accountID, asOf)
	if err != nil {
		r.audit.LogError("rebuild_balance", 0, actor, err)
		return result, err
	}
	r.audit.LogOperation(audit.EventRebuild, 0, actor, map[string]any{
		"account_id":  accountID,
		"old_balance": result.OldBalance.StringFixed(4),
		"new_balance": result.NewBalance.StringFixed(4),
		"drifted":     result.Drifted(),
		"as_of":       asOf,
	})
	return result, nil
}

func (r *Reconciler) rebuildOnce(ctx context.Context, accountID int64, asOf time.Time) (RebuildResult, error) {
	tx, err := r.store.Begin(ctx, store.TxOptions{})
	if err != nil {
		return RebuildResult{}, dependencyError("begin unit of work", err)
	}
	defer tx.Rollback()

	balance, err := tx.LockBalance(ctx, accountID)
	if err != nil {
		return RebuildResult{}, notFoundOr(err, "balance for account", accountID, "lock balance")
	}

	credits, debits, err := tx.SumEntries(ctx, accountID)
	if err != nil {
		return RebuildResult{}, dependencyError("sum ledger entries", err)
	}

	result := RebuildResult{
		AccountID:  accountID,
		OldBalance: balance.AvailableBalance,
		NewBalance: credits.Sub(debits),
	}

	balance.AvailableBalance = result.NewBalance
	balance.LastCalculatedAt = asOf
	if err := tx.UpdateBalance(ctx, balance, balance.Version); err != nil {
		return RebuildResult{}, dependencyError("update balance", err)
	}
	if err := tx.Commit(); err != nil {
		return RebuildResult{}, dependencyError("commit", err)
	}
	return result, nil
}

// RebuildAll rebuilds every account, each in its own unit of work, so postings
// are never blocked for the length of the scan.
func (r *Reconciler) RebuildAll(ctx context.Context, actor string, asOf time.Time) (RebuildSummary, error) {
	ids, err := r.accountIDs(ctx)
	if err != nil {
		return RebuildSummary{Status: "FAILED", Message: err.Error()}, err
	}

	var (
		mu      sync.Mutex
		drifted []int64
		count   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, id := range ids {
		g.Go(func() error {
			result, err := r.RebuildOne(gctx, id, asOf)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			count++
			if result.Drifted() {
				drifted = append(drifted, id)
				r.logger.Warn("balance drift corrected",
					zap.Int64("account_id", id),
					zap.String("old_balance", result.OldBalance.String()),
					zap.String("new_balance", result.NewBalance.String()),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		summary := RebuildSummary{
			AccountsRefreshed: count,
			DriftedAccounts:   sortedIDs(drifted),
			Status:            "FAILED",
			Message:           fmt.Sprintf("rebuild stopped after %d accounts: %v", count, err),
		}
		r.audit.LogError("rebuild_balances", 0, actor, err)
		return summary, err
	}

	summary := RebuildSummary{
		AccountsRefreshed: count,
		DriftedAccounts:   sortedIDs(drifted),
		Status:            "SUCCESS",
		Message:           fmt.Sprintf("%d account balances rebuilt, %d drifted", count, len(drifted)),
	}
	r.audit.LogOperation(audit.EventRebuild, 0, actor, map[string]any{
		"accounts_refreshed": count,
		"drifted_accounts":   summary.DriftedAccounts,
		"as_of":              asOf,
	})
	r.logger.Info("balances rebuilt", zap.Int("accounts", count), zap.Int("drifted", len(drifted)))
	return summary, nil
}

func (r *Reconciler) accountIDs(ctx context.Context) ([]int64, error) {
	tx, err := r.store.Begin(ctx, store.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, dependencyError("begin snapshot", err)
	}
	defer tx.Rollback()

	ids, err := tx.ListAccountIDs(ctx)
	if err != nil {
		return nil, dependencyError("list accounts", err)
	}
	return ids, nil
}

// VerifyBalanceIntegrity compares materialized balances against the journal on
// one consistent snapshot. Differences within the configured epsilon are tolerated.
func (r *Reconciler) VerifyBalanceIntegrity(ctx context.Context) (IntegrityReport, error) {
	tx, err := r.store.Begin(ctx, store.TxOptions{ReadOnly: true})
	if err != nil {
		return IntegrityReport{}, dependencyError("begin snapshot", err)
	}
	defer tx.Rollback()

	balances, err := tx.ListBalances(ctx)
	if err != nil {
		return IntegrityReport{}, dependencyError("list balances", err)
	}
	computed, err := tx.ComputedBalances(ctx)
	if err != nil {
		return IntegrityReport{}, dependencyError("compute balances", err)
	}

	report := IntegrityReport{Valid: true, Discrepancies: []Discrepancy{}}
	for _, b := range balances {
		expected := computed[b.AccountID]
		diff := b.AvailableBalance.Sub(expected)
		if diff.Abs().GreaterThan(r.cfg.Epsilon) {
			report.Valid = false
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				AccountID:    b.AccountID,
				Materialized: b.AvailableBalance,
				Computed:     expected,
				Difference:   diff,
			})
		}
	}

	r.metrics.recordDrift(len(report.Discrepancies))
	if !report.Valid {
		r.logger.Error("balance integrity check failed", zap.Int("discrepancies", len(report.Discrepancies)))
	}
	return report, nil
}

// VerifyDoubleEntry checks sum(CREDIT) == sum(DEBIT) globally and per transaction, exactly
func (r *Reconciler) VerifyDoubleEntry(ctx context.Context) (DoubleEntryReport, error) {
	tx, err := r.store.Begin(ctx, store.TxOptions{ReadOnly: true})
	if err != nil {
		return DoubleEntryReport{}, dependencyError("begin snapshot", err)
	}
	defer tx.Rollback()

	credits, debits, err := tx.JournalTotals(ctx)
	if err != nil {
		return DoubleEntryReport{}, dependencyError("journal totals", err)
	}
	unbalanced, err := tx.UnbalancedTransactions(ctx)
	if err != nil {
		return DoubleEntryReport{}, dependencyError("unbalanced transactions", err)
	}

	report := DoubleEntryReport{
		TotalCredits:           credits,
		TotalDebits:            debits,
		Discrepancy:            credits.Sub(debits),
		UnbalancedTransactions: unbalanced,
	}
	if report.UnbalancedTransactions == nil {
		report.UnbalancedTransactions = []int64{}
	}
	report.Valid = report.Discrepancy.IsZero() && len(report.UnbalancedTransactions) == 0
	if !report.Valid {
		r.logger.Error("double-entry check failed",
			zap.String("discrepancy", report.Discrepancy.String()),
			zap.Int64s("unbalanced_transactions", report.UnbalancedTransactions),
		)
	}
	return report, nil
}

func sortedIDs(ids []int64) []int64 {
	out := append([]int64{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
