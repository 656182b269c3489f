package services

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReconciler_RebuildCorrectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, "CURRENT", "1450")
	other := f.account(t, "CURRENT", "300")

	f.store.SetAvailableBalance(acct, d("1500"))

	report, err := f.engine.VerifyBalanceIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, acct, report.Discrepancies[0].AccountID)
	assertDecimal(t, "50", report.Discrepancies[0].Difference)
	assert.True(t, errors.Is(report.Err(), ErrIntegrityViolation))

	asOf := f.clock.Now()
	summary, err := f.engine.RebuildAccountBalances(ctx, "ops-1", asOf)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", summary.Status)
	assert.Equal(t, 4, summary.AccountsRefreshed)
	assert.Equal(t, []int64{acct}, summary.DriftedAccounts)

	assertDecimal(t, "1450", f.balance(acct))
	assertDecimal(t, "300", f.balance(other))
	assert.Equal(t, asOf, f.store.Balance(acct).LastCalculatedAt)

	report, err = f.engine.VerifyBalanceIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Discrepancies)
	assert.NoError(t, report.Err())
}

func TestReconciler_RebuildOne(t *testing.T) {
	var logs *observer.ObservedLogs
	f := newFixture(t, withObservedAudit(&logs))
	ctx := context.Background()
	acct := f.account(t, "CURRENT", "700")
	f.store.SetAvailableBalance(acct, d("10"))
	versionBefore := f.store.Balance(acct).Version

	result, err := f.engine.RebuildAccountBalance(ctx, acct, "ops-1", f.clock.Now())
	require.NoError(t, err)
	assertDecimal(t, "10", result.OldBalance)
	assertDecimal(t, "700", result.NewBalance)
	assert.True(t, result.Drifted())
	assert.Equal(t, versionBefore+1, f.store.Balance(acct).Version)

	records := logs.FilterField(zap.String("event_type", audit.EventRebuild)).All()
	require.Len(t, records, 1)
	assert.Equal(t, "ops-1", records[0].ContextMap()["actor"])
	details, ok := records[0].ContextMap()["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, acct, details["account_id"])
	assert.Equal(t, "10.0000", details["old_balance"])
	assert.Equal(t, "700.0000", details["new_balance"])

	_, err = f.engine.RebuildAccountBalance(ctx, 9999, "ops-1", f.clock.Now())
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestReconciler_EpsilonAbsorbsRounding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, "CURRENT", "100")
	f.store.SetAvailableBalance(acct, d("100.005"))

	report, err := f.engine.VerifyBalanceIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestReconciler_VerifyDoubleEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "CURRENT", "1000")
	b := f.account(t, "CURRENT", "0")
	_, err := f.engine.Transfer(ctx, a, b, d("250.5"), "", "", "u")
	require.NoError(t, err)

	report, err := f.engine.VerifyDoubleEntry(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.True(t, report.Discrepancy.IsZero())
	assertDecimal(t, "1250.5", report.TotalCredits)
	assert.Empty(t, report.UnbalancedTransactions)

	// a one-legged transaction written behind the engine's back
	tx, err := f.store.Begin(ctx, store.TxOptions{})
	require.NoError(t, err)
	broken := &models.Transaction{Reference: "broken", Type: models.TransactionDeposit, Amount: d("5"), Status: models.TransactionStatusCompleted}
	require.NoError(t, tx.InsertTransaction(ctx, broken))
	require.NoError(t, tx.InsertEntry(ctx, &models.LedgerEntry{TransactionID: broken.ID, AccountID: a, EntryType: models.EntryCredit, Amount: d("5")}))
	require.NoError(t, tx.Commit())

	report, err = f.engine.VerifyDoubleEntry(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assertDecimal(t, "5", report.Discrepancy)
	assert.Equal(t, []int64{broken.ID}, report.UnbalancedTransactions)
	assert.True(t, errors.Is(report.Err(), ErrIntegrityViolation))
}

// Random operations must always leave every balance equal to its journal sum
// and every transaction balanced.
func TestLedgerInvariants_RandomOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	accounts := []int64{
		f.account(t, "CURRENT", "500"),
		f.account(t, "SAVINGS", "1200"),
		f.account(t, "CURRENT", "0"),
		f.account(t, "SAVINGS", "75.25"),
	}
	var completed []int64

	for i := 0; i < 200; i++ {
		a := accounts[rng.Intn(len(accounts))]
		b := accounts[rng.Intn(len(accounts))]
		amount := decimal.NewFromInt(int64(1 + rng.Intn(9))).Mul(d("0.25"))

		var (
			res PostingResult
			err error
		)
		switch rng.Intn(5) {
		case 0:
			res, err = f.engine.Deposit(ctx, a, amount.Mul(d("40")), "", "u", "")
		case 1:
			res, err = f.engine.Withdraw(ctx, a, amount.Mul(d("30")), "", "u", "")
		case 2, 3:
			if a == b {
				continue
			}
			res, err = f.engine.Transfer(ctx, a, b, amount.Mul(d("20")), "", "", "u")
		case 4:
			if len(completed) == 0 {
				continue
			}
			res, err = f.engine.ReverseTransaction(ctx, completed[rng.Intn(len(completed))], "random", "u")
		}

		if err != nil {
			kind := KindOf(err)
			assert.Containsf(t, []Kind{KindInsufficientFunds, KindAlreadyReversed, KindValidation}, kind, "unexpected failure: %v", err)
			continue
		}
		completed = append(completed, res.TransactionID)
	}

	integrity, err := f.engine.VerifyBalanceIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, integrity.Valid, "discrepancies: %+v", integrity.Discrepancies)

	doubleEntry, err := f.engine.VerifyDoubleEntry(ctx)
	require.NoError(t, err)
	assert.True(t, doubleEntry.Valid)

	for _, id := range accounts {
		assert.False(t, f.balance(id).IsNegative(), "account %d went negative", id)
	}
}
