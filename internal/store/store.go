// Package store defines the unit of work the ledger engine posts through.
//
// A Tx is the only handle to persisted ledger state. Every mutating engine
// operation begins one, passes it by reference into its helpers and either
// commits it whole or rolls it back whole.
package store

import (
	"context"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// TxOptions selects the isolation of a unit of work.
type TxOptions struct {
	// ReadOnly requests a consistent snapshot (repeatable read) without writes.
	ReadOnly bool
}

// Store opens units of work.
type Store interface {
	Begin(ctx context.Context, opts TxOptions) (Tx, error)
}

// Tx is an atomic unit of work over all ledger tables.
type Tx interface {
	Commit() error
	Rollback() error

	Accounts
	Balances
	Journal
	IdempotencyKeys
	Accruals
	FraudQueue
}

// Accounts reads account identity rows.
type Accounts interface {
	GetAccount(ctx context.Context, id int64) (models.Account, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)
	// InterestBearingAccounts returns ACTIVE accounts of the given types with their balances.
	InterestBearingAccounts(ctx context.Context, accountTypes []string) ([]AccountWithBalance, error)
}

// AccountWithBalance pairs an account with its materialized balance.
type AccountWithBalance struct {
	Account models.Account
	Balance models.AccountBalance
}

// Balances is the materialized balance store.
type Balances interface {
	// LockBalance reads the balance row with write intent.
	LockBalance(ctx context.Context, accountID int64) (models.AccountBalance, error)
	// UpdateBalance writes b and bumps its version, failing with ErrVersionConflict
	// when the stored version no longer equals expectedVersion.
	UpdateBalance(ctx context.Context, b models.AccountBalance, expectedVersion int64) error
	ListBalances(ctx context.Context) ([]models.AccountBalance, error)
}

// Journal holds transactions and their ledger entries.
type Journal interface {
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id int64) (models.Transaction, error)
	LockTransaction(ctx context.Context, id int64) (models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id int64, status string) error

	InsertEntry(ctx context.Context, e *models.LedgerEntry) error
	EntriesForTransaction(ctx context.Context, transactionID int64) ([]models.LedgerEntry, error)
	// SumEntries returns the credit and debit totals of one account.
	SumEntries(ctx context.Context, accountID int64) (credits, debits decimal.Decimal, err error)
	// ComputedBalances returns sum(CREDIT) - sum(DEBIT) for every account with entries.
	ComputedBalances(ctx context.Context) (map[int64]decimal.Decimal, error)
	// JournalTotals returns the global credit and debit totals.
	JournalTotals(ctx context.Context) (credits, debits decimal.Decimal, err error)
	UnbalancedTransactions(ctx context.Context) ([]int64, error)

	// CountOutgoingSince counts COMPLETED transactions debiting accountID created at or after since.
	CountOutgoingSince(ctx context.Context, accountID int64, since time.Time) (int, error)
	// FindTransfer returns the most recent COMPLETED transfer from -> to of amount created at or after since.
	FindTransfer(ctx context.Context, from, to int64, amount decimal.Decimal, since time.Time) (models.Transaction, error)
}

// IdempotencyKeys persists guard records.
type IdempotencyKeys interface {
	GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyKey, error)
	// SaveIdempotencyKey inserts k, replacing an expired record. A live record
	// with the same key yields ErrDuplicateKey.
	SaveIdempotencyKey(ctx context.Context, k models.IdempotencyKey, now time.Time) error
}

// Accruals holds daily interest rows.
type Accruals interface {
	// InsertAccrual inserts a unless (account, date) already exists; inserted reports which.
	InsertAccrual(ctx context.Context, a *models.AccruedInterest) (inserted bool, err error)
	// AccountsWithUnpostedAccruals lists accounts with unposted rows dated in [from, to).
	AccountsWithUnpostedAccruals(ctx context.Context, from, to time.Time) ([]int64, error)
	// LockUnpostedAccruals locks and returns the unposted rows of one account dated in [from, to).
	LockUnpostedAccruals(ctx context.Context, accountID int64, from, to time.Time) ([]models.AccruedInterest, error)
	MarkAccrualPosted(ctx context.Context, id int64, ledgerEntryID int64) error
}

// FraudQueue holds review items.
type FraudQueue interface {
	// InsertFraudItem inserts item unless one exists for its transaction (ErrAlreadyExists).
	InsertFraudItem(ctx context.Context, item *models.FraudQueueItem) error
	LockFraudItem(ctx context.Context, id int64) (models.FraudQueueItem, error)
	UpdateFraudDecision(ctx context.Context, item models.FraudQueueItem) error
}
