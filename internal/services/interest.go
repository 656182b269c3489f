package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InterestPostingSummary is the outcome of PostMonthly
type InterestPostingSummary struct {
	PostedAmount decimal.Decimal `json:"postedAmount"`
	Count        int             `json:"count"`
	Accounts     int             `json:"accounts"`
}

var errNothingToPost = errors.New("no unposted accruals")

// InterestEngine accrues daily interest and posts it monthly through the posting engine
type InterestEngine struct {
	store            store.Store
	posting          *PostingEngine
	cfg              config.InterestConfig
	expenseAccountID int64
	logger           *zap.Logger
	audit            audit.Logger
	metrics          *Metrics
}

func NewInterestEngine(s store.Store, posting *PostingEngine, cfg config.InterestConfig, expenseAccountID int64, logger *zap.Logger, auditLogger audit.Logger, metrics *Metrics) *InterestEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	if cfg.DaysInYear <= 0 {
		cfg.DaysInYear = 365
	}
	return &InterestEngine{
		store:            s,
		posting:          posting,
		cfg:              cfg,
		expenseAccountID: expenseAccountID,
		logger:           logger.Named("interest"),
		audit:            auditLogger,
		metrics:          metrics,
	}
}

// DailyAccrual returns round4(balance * rate / daysInYear)
func DailyAccrual(balance, annualRate decimal.Decimal, daysInYear int) decimal.Decimal {
	return balance.Mul(annualRate).Div(decimal.NewFromInt(int64(daysInYear))).Round(4)
}

func businessDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthRange(t time.Time) (time.Time, time.Time) {
	y, m, _ := t.Date()
	from := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// AccrueDaily writes one accrual row per ACTIVE interest-bearing account with a
// positive balance for date. Rows already present for (account, date) are kept.
func (ie *InterestEngine) AccrueDaily(ctx context.Context, date time.Time) (int, error) {
	day := businessDay(date)
	types := ie.cfg.AccountTypes()
	if len(types) == 0 {
		return 0, nil
	}

	tx, err := ie.store.Begin(ctx, store.TxOptions{})
	if err != nil {
		return 0, dependencyError("begin unit of work", err)
	}
	defer tx.Rollback()

	accounts, err := tx.InterestBearingAccounts(ctx, types)
	if err != nil {
		return 0, dependencyError("list interest-bearing accounts", err)
	}

	affected := 0
	for _, a := range accounts {
		rate := ie.cfg.Rates[a.Account.AccountType]
		if !a.Balance.AvailableBalance.IsPositive() || !rate.IsPositive() {
			continue
		}
		amount := DailyAccrual(a.Balance.AvailableBalance, rate, ie.cfg.DaysInYear)
		if !amount.IsPositive() {
			continue
		}

		inserted, err := tx.InsertAccrual(ctx, &models.AccruedInterest{
			AccountID:       a.Account.ID,
			CalculationDate: day,
			InterestAmount:  amount,
			RateApplied:     rate,
		})
		if err != nil {
			return 0, dependencyError("insert accrual", err)
		}
		if inserted {
			affected++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, dependencyError("commit", err)
	}

	ie.metrics.recordAccruals(affected)
	ie.audit.LogOperation(audit.EventInterestAccrue, 0, "system", map[string]any{
		"date":     day.Format(time.DateOnly),
		"affected": affected,
	})
	ie.logger.Info("daily interest accrued", zap.Time("date", day), zap.Int("affected", affected))
	return affected, nil
}

// PostMonthly posts every unposted accrual in the month of periodDate, one
// INTEREST posting per account. Accrual rows are locked and re-checked inside the
// posting unit of work, so re-running a posted period is a no-op.
func (ie *InterestEngine) PostMonthly(ctx context.Context, periodDate time.Time) (InterestPostingSummary, error) {
	from, to := monthRange(periodDate)

	accountIDs, err := ie.accountsToPost(ctx, from, to)
	if err != nil {
		return InterestPostingSummary{}, err
	}

	summary := InterestPostingSummary{PostedAmount: decimal.Zero}
	var failures []error
	for _, accountID := range accountIDs {
		var rows []models.AccruedInterest

		_, err := ie.posting.post(ctx, postingRequest{
			Kind:        models.TransactionInterest,
			Debit:       ie.expenseAccountID,
			Credit:      accountID,
			Destination: accountID,
			Actor:       "system",
			Description: fmt.Sprintf("Interest for %s", from.Format("2006-01")),
			systemLeg:   ie.expenseAccountID,
			prepare: func(ctx context.Context, tx store.Tx, req *postingRequest) error {
				locked, err := tx.LockUnpostedAccruals(ctx, accountID, from, to)
				if err != nil {
					return dependencyError("lock accruals", err)
				}
				if len(locked) == 0 {
					return errNothingToPost
				}
				total := decimal.Zero
				for _, a := range locked {
					total = total.Add(a.InterestAmount)
				}
				rows = locked
				req.Amount = total
				return nil
			},
			finalize: func(ctx context.Context, tx store.Tx, p posted) error {
				for _, a := range rows {
					if err := tx.MarkAccrualPosted(ctx, a.ID, p.CreditEntry.ID); err != nil {
						return dependencyError("mark accrual posted", err)
					}
				}
				return nil
			},
		})
		if errors.Is(err, errNothingToPost) {
			continue
		}
		if err != nil {
			ie.logger.Warn("interest posting failed", zap.Int64("account_id", accountID), zap.Error(err))
			failures = append(failures, fmt.Errorf("account %d: %w", accountID, err))
			continue
		}

		for _, a := range rows {
			summary.PostedAmount = summary.PostedAmount.Add(a.InterestAmount)
		}
		summary.Count += len(rows)
		summary.Accounts++
		ie.metrics.recordInterestPosting()
	}

	ie.audit.LogOperation(audit.EventInterestPost, 0, "system", map[string]any{
		"period":        from.Format("2006-01"),
		"posted_amount": summary.PostedAmount.StringFixed(4),
		"count":         summary.Count,
	})
	ie.logger.Info("monthly interest posted",
		zap.String("period", from.Format("2006-01")),
		zap.String("posted_amount", summary.PostedAmount.String()),
		zap.Int("count", summary.Count),
	)
	return summary, errors.Join(failures...)
}

func (ie *InterestEngine) accountsToPost(ctx context.Context, from, to time.Time) ([]int64, error) {
	tx, err := ie.store.Begin(ctx, store.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, dependencyError("begin snapshot", err)
	}
	defer tx.Rollback()

	ids, err := tx.AccountsWithUnpostedAccruals(ctx, from, to)
	if err != nil {
		return nil, dependencyError("list unposted accruals", err)
	}
	return ids, nil
}
