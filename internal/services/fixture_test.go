package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/ruralpay/ledger/internal/store/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	cashAccountID    int64 = 1
	expenseAccountID int64 = 2
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(expected).Equal(actual), "expected %s, got %s", expected, actual.String())
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			MaxAttempts:              3,
			RetryBackoff:             time.Millisecond,
			IdempotencyTTL:           24 * time.Hour,
			Currency:                 "USD",
			SystemCashAccountID:      cashAccountID,
			InterestExpenseAccountID: expenseAccountID,
		},
		Interest: config.InterestConfig{
			Rates: map[string]decimal.Decimal{
				"SAVINGS":       d("0.015"),
				"FIXED_DEPOSIT": d("0.045"),
			},
			DaysInYear: 365,
		},
		Fraud: config.FraudConfig{
			QueueThreshold: 50,
			Tiers: []config.AmountTier{
				{Threshold: d("10000"), Score: 30, Severity: models.SeverityMedium},
				{Threshold: d("50000"), Score: 50, Severity: models.SeverityHigh},
				{Threshold: d("100000"), Score: 70, Severity: models.SeverityCritical},
			},
			VelocityWindow:  10 * time.Minute,
			VelocityCount:   5,
			VelocityScore:   25,
			RoundTripWindow: time.Hour,
			RoundTripScore:  40,
			DrainRatio:      d("0.9"),
			DrainScore:      20,
			ReviewQueueKey:  "fraud_review_queue",
		},
		Reconciliation: config.ReconciliationConfig{
			Epsilon: d("0.01"),
			Workers: 4,
		},
	}
}

type fixture struct {
	store  *memstore.Store
	engine *Engine
	clock  *testClock
	cfg    *config.Config

	customers int64
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)}
	st := memstore.New(memstore.WithClock(clock.Now))
	st.CreateAccount(models.Account{ID: cashAccountID, AccountNumber: "SYS-CASH", AccountType: models.AccountTypeSystem})
	st.CreateAccount(models.Account{ID: expenseAccountID, AccountNumber: "SYS-INTEREST", AccountType: models.AccountTypeSystem})

	cfg := testConfig()
	o := Options{Store: st, Config: cfg, Clock: clock.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &fixture{store: st, engine: NewEngine(o), clock: clock, cfg: cfg}
}

// withObservedAudit routes audit records into an in-memory zap core
func withObservedAudit(logs **observer.ObservedLogs) func(*Options) {
	return func(o *Options) {
		core, observed := observer.New(zap.InfoLevel)
		*logs = observed
		o.Audit = audit.NewZapLogger(zap.New(core))
	}
}

// account opens a customer account funded through a real deposit
func (f *fixture) account(t *testing.T, accountType, opening string) int64 {
	t.Helper()
	f.customers++
	customerID := 100 + f.customers
	a := f.store.CreateAccount(models.Account{
		AccountNumber: fmt.Sprintf("ACC-%04d", f.customers),
		CustomerID:    &customerID,
		AccountType:   accountType,
	})
	if amount := d(opening); amount.IsPositive() {
		_, err := f.engine.Deposit(context.Background(), a.ID, amount, "opening balance", "setup", "")
		require.NoError(t, err)
	}
	return a.ID
}

func (f *fixture) balance(accountID int64) decimal.Decimal {
	return f.store.Balance(accountID).AvailableBalance
}

func (f *fixture) setStatus(t *testing.T, accountID int64, status string, locked bool) {
	t.Helper()
	tx, err := f.store.Begin(context.Background(), store.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	a, err := tx.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	a.Status = status
	a.BalanceLocked = locked
	f.store.UpdateAccount(a)
}

// flakyStore fails the next n balance updates with a version conflict
type flakyStore struct {
	store.Store
	mu        sync.Mutex
	conflicts int
}

func (s *flakyStore) Begin(ctx context.Context, opts store.TxOptions) (store.Tx, error) {
	tx, err := s.Store.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, store: s}, nil
}

type flakyTx struct {
	store.Tx
	store *flakyStore
}

func (t *flakyTx) UpdateBalance(ctx context.Context, b models.AccountBalance, expectedVersion int64) error {
	t.store.mu.Lock()
	fail := t.store.conflicts > 0
	if fail {
		t.store.conflicts--
	}
	t.store.mu.Unlock()
	if fail {
		return store.ErrVersionConflict
	}
	return t.Tx.UpdateBalance(ctx, b, expectedVersion)
}

// racingStore lets a competing posting claim an idempotency key between the
// guard check and the commit of the current unit of work, the way a concurrent
// writer on a shared database would. The competitor runs once, right after the
// losing unit of work rolls back.
type racingStore struct {
	store.Store
	mu      sync.Mutex
	compete func()
}

func (s *racingStore) Begin(ctx context.Context, opts store.TxOptions) (store.Tx, error) {
	tx, err := s.Store.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &racingTx{Tx: tx, store: s}, nil
}

func (s *racingStore) takeCompetitor() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	compete := s.compete
	s.compete = nil
	return compete
}

type racingTx struct {
	store.Tx
	store   *racingStore
	pending func()
}

func (t *racingTx) SaveIdempotencyKey(ctx context.Context, k models.IdempotencyKey, now time.Time) error {
	if compete := t.store.takeCompetitor(); compete != nil {
		t.pending = compete
		return store.ErrDuplicateKey
	}
	return t.Tx.SaveIdempotencyKey(ctx, k, now)
}

func (t *racingTx) Rollback() error {
	err := t.Tx.Rollback()
	if compete := t.pending; compete != nil {
		t.pending = nil
		compete()
	}
	return err
}
