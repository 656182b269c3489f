package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPostingEngine_Deposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, "CURRENT", "1000")

	res, err := f.engine.Deposit(ctx, acct, d("500"), "cash deposit", "teller-1", "dep-1")
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusCompleted, res.Status)
	assert.NotEmpty(t, res.Reference)
	assertDecimal(t, "1500", f.balance(acct))
	assertDecimal(t, "-1500", f.balance(cashAccountID))

	entries := f.store.Entries(res.TransactionID)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assertDecimal(t, "500", e.Amount)
		switch e.EntryType {
		case models.EntryDebit:
			assert.Equal(t, cashAccountID, e.AccountID)
		case models.EntryCredit:
			assert.Equal(t, acct, e.AccountID)
			assertDecimal(t, "1500", e.BalanceAfter)
		}
	}

	tr, ok := f.store.Transaction(res.TransactionID)
	require.True(t, ok)
	assert.Equal(t, models.TransactionDeposit, tr.Type)
	assert.Nil(t, tr.SourceAccountID)
	require.NotNil(t, tr.DestinationAccountID)
	assert.Equal(t, acct, *tr.DestinationAccountID)
	assert.Equal(t, "teller-1", tr.PerformedBy)

	b := f.store.Balance(acct)
	require.NotNil(t, b.LastTransactionID)
	assert.Equal(t, res.TransactionID, *b.LastTransactionID)
	assert.Equal(t, int64(2), b.Version)
}

func TestPostingEngine_Transfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "CURRENT", "1000")
	b := f.account(t, "CURRENT", "200")

	res, err := f.engine.Transfer(ctx, a, b, d("50"), "rent", "tr-1", "customer-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, res.Status)

	assertDecimal(t, "950", f.balance(a))
	assertDecimal(t, "250", f.balance(b))

	tr, _ := f.store.Transaction(res.TransactionID)
	assert.Equal(t, a, *tr.SourceAccountID)
	assert.Equal(t, b, *tr.DestinationAccountID)
}

func TestPostingEngine_WithdrawInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, "CURRENT", "1000")
	entriesBefore := len(f.store.Entries(0))

	res, err := f.engine.Withdraw(ctx, acct, d("2000"), "atm", "customer-1", "wd-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, KindInsufficientFunds, KindOf(err))

	assert.Equal(t, models.TransactionStatusFailed, res.Status)
	assert.Equal(t, KindInsufficientFunds, res.ErrorKind)
	assertDecimal(t, "1000", f.balance(acct))
	assert.Len(t, f.store.Entries(0), entriesBefore)
	assert.Empty(t, f.store.Entries(res.TransactionID))

	tr, ok := f.store.Transaction(res.TransactionID)
	require.True(t, ok)
	assert.Equal(t, models.TransactionStatusFailed, tr.Status)
}

func TestPostingEngine_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "CURRENT", "1000")
	b := f.account(t, "CURRENT", "0")

	tests := []struct {
		name string
		run  func() error
		kind Kind
	}{
		{"self transfer", func() error {
			_, err := f.engine.Transfer(ctx, a, a, d("10"), "", "", "u")
			return err
		}, KindValidation},
		{"zero amount", func() error {
			_, err := f.engine.Deposit(ctx, a, d("0"), "", "u", "")
			return err
		}, KindValidation},
		{"negative amount", func() error {
			_, err := f.engine.Withdraw(ctx, a, d("-5"), "", "u", "")
			return err
		}, KindValidation},
		{"too many decimals", func() error {
			_, err := f.engine.Transfer(ctx, a, b, d("1.00001"), "", "", "u")
			return err
		}, KindValidation},
		{"unknown account", func() error {
			_, err := f.engine.Transfer(ctx, a, 999, d("10"), "", "", "u")
			return err
		}, KindNotFound},
		{"idempotency key too long", func() error {
			_, err := f.engine.Deposit(ctx, a, d("10"), "", "u", strings.Repeat("k", MaxIdempotencyKeyLength+1))
			return err
		}, KindValidation},
		{"actor too long", func() error {
			_, err := f.engine.Transfer(ctx, a, b, d("10"), "", "", strings.Repeat("u", MaxActorLength+1))
			return err
		}, KindValidation},
		{"reversal actor too long", func() error {
			_, err := f.engine.ReverseTransaction(ctx, 1, "typo", strings.Repeat("u", MaxActorLength+1))
			return err
		}, KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}

	assertDecimal(t, "1000", f.balance(a))
	assertDecimal(t, "0", f.balance(b))
}

func TestPostingEngine_AccountState(t *testing.T) {
	ctx := context.Background()

	t.Run("suspended source", func(t *testing.T) {
		f := newFixture(t)
		a := f.account(t, "CURRENT", "1000")
		b := f.account(t, "CURRENT", "0")
		f.setStatus(t, a, models.AccountStatusSuspended, false)

		res, err := f.engine.Transfer(ctx, a, b, d("10"), "", "", "u")
		assert.True(t, errors.Is(err, ErrAccountState))
		assert.Equal(t, models.TransactionStatusFailed, res.Status)
		assertDecimal(t, "1000", f.balance(a))
	})

	t.Run("balance locked source", func(t *testing.T) {
		f := newFixture(t)
		a := f.account(t, "CURRENT", "1000")
		f.setStatus(t, a, models.AccountStatusActive, true)

		_, err := f.engine.Withdraw(ctx, a, d("10"), "", "u", "")
		assert.True(t, errors.Is(err, ErrAccountState))
		assert.Contains(t, err.Error(), "locked")
	})

	t.Run("locked account can still receive", func(t *testing.T) {
		f := newFixture(t)
		a := f.account(t, "CURRENT", "0")
		f.setStatus(t, a, models.AccountStatusActive, true)

		_, err := f.engine.Deposit(ctx, a, d("10"), "", "u", "")
		require.NoError(t, err)
		assertDecimal(t, "10", f.balance(a))
	})

	t.Run("closed destination", func(t *testing.T) {
		f := newFixture(t)
		a := f.account(t, "CURRENT", "1000")
		b := f.account(t, "CURRENT", "0")
		f.setStatus(t, b, models.AccountStatusClosed, false)

		_, err := f.engine.Transfer(ctx, a, b, d("10"), "", "", "u")
		assert.True(t, errors.Is(err, ErrAccountState))
		assertDecimal(t, "1000", f.balance(a))
	})

	t.Run("currency mismatch", func(t *testing.T) {
		f := newFixture(t)
		a := f.account(t, "CURRENT", "1000")
		eur := f.store.CreateAccount(models.Account{AccountNumber: "EUR-1", AccountType: "CURRENT", Currency: "EUR"})

		_, err := f.engine.Transfer(ctx, a, eur.ID, d("10"), "", "", "u")
		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestPostingEngine_RejectsInternalAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, "CURRENT", "100")
	entriesBefore := len(f.store.Entries(0))

	tests := []struct {
		name string
		run  func() (PostingResult, error)
	}{
		{"transfer from cash", func() (PostingResult, error) {
			return f.engine.Transfer(ctx, cashAccountID, acct, d("1000000"), "", "", "u")
		}},
		{"transfer to cash", func() (PostingResult, error) {
			return f.engine.Transfer(ctx, acct, cashAccountID, d("10"), "", "", "u")
		}},
		{"withdraw from interest expense", func() (PostingResult, error) {
			return f.engine.Withdraw(ctx, expenseAccountID, d("500"), "", "u", "")
		}},
		{"deposit into interest expense", func() (PostingResult, error) {
			return f.engine.Deposit(ctx, expenseAccountID, d("500"), "", "u", "")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.run()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), "internal account")
			assert.Zero(t, res.TransactionID)
		})
	}

	assertDecimal(t, "100", f.balance(acct))
	assertDecimal(t, "-100", f.balance(cashAccountID))
	assertDecimal(t, "0", f.balance(expenseAccountID))
	assert.Len(t, f.store.Entries(0), entriesBefore)
}

func TestPostingEngine_RetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds within budget", func(t *testing.T) {
		f := newFixture(t)
		acct := f.account(t, "CURRENT", "1000")
		flaky := &flakyStore{Store: f.store, conflicts: 2}
		engine := NewEngine(Options{Store: flaky, Config: f.cfg, Clock: f.clock.Now})
		entriesBefore := len(f.store.Entries(0))

		res, err := engine.Withdraw(ctx, acct, d("100"), "", "u", "wd-retry")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCompleted, res.Status)
		assertDecimal(t, "900", f.balance(acct))
		assert.Len(t, f.store.Entries(0), entriesBefore+2)
	})

	t.Run("surfaces concurrency error when exhausted", func(t *testing.T) {
		f := newFixture(t)
		acct := f.account(t, "CURRENT", "1000")
		flaky := &flakyStore{Store: f.store, conflicts: 10}
		engine := NewEngine(Options{Store: flaky, Config: f.cfg, Clock: f.clock.Now})
		entriesBefore := len(f.store.Entries(0))

		_, err := engine.Withdraw(ctx, acct, d("100"), "", "u", "wd-retry")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConcurrency))
		assertDecimal(t, "1000", f.balance(acct))
		assert.Len(t, f.store.Entries(0), entriesBefore)
		assert.Equal(t, 7, flaky.conflicts)
	})
}

func TestPostingEngine_ConcurrentTransfers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "CURRENT", "450")
	b := f.account(t, "CURRENT", "0")

	const n = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Transfer(ctx, a, b, d("100"), "", "", "u")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, successes)
	assert.Equal(t, n-4, insufficient)
	assertDecimal(t, "50", f.balance(a))
	assertDecimal(t, "400", f.balance(b))
	assert.False(t, f.balance(a).IsNegative())
}

func TestPostingEngine_FraudFailureDoesNotFailPosting(t *testing.T) {
	publisher := &MockReviewPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	f := newFixture(t, func(o *Options) { o.ReviewQueue = publisher })
	ctx := context.Background()
	a := f.account(t, "CURRENT", "0")
	b := f.account(t, "CURRENT", "0")
	_, err := f.engine.Deposit(ctx, a, d("60000"), "", "u", "")
	require.NoError(t, err)

	res, err := f.engine.Transfer(ctx, a, b, d("55000"), "", "", "u")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, res.Status)
	assertDecimal(t, "55000", f.balance(b))
	publisher.AssertCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestPostingEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("ledger", reg)
	f := newFixture(t, func(o *Options) { o.Metrics = metrics })
	ctx := context.Background()
	acct := f.account(t, "CURRENT", "0")

	_, err := f.engine.Deposit(ctx, acct, d("100"), "", "u", "")
	require.NoError(t, err)
	_, err = f.engine.Withdraw(ctx, acct, d("500"), "", "u", "")
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.postings.WithLabelValues("DEPOSIT", "COMPLETED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.postings.WithLabelValues("WITHDRAWAL", "FAILED")))
}
