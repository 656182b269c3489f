// Package postgres implements the ledger unit of work on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*Tx)(nil)
)

// Store opens PostgreSQL-backed units of work.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Begin starts a read-committed transaction for postings, or a read-only
// repeatable-read snapshot for reconciliation reads.
func (s *Store) Begin(ctx context.Context, opts store.TxOptions) (store.Tx, error) {
	txOpts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	if opts.ReadOnly {
		txOpts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}

	tx, err := s.db.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// FreezeAccount suspends an ACTIVE account outside any posting unit of work.
// It is the production AccountFreezer for fraud BLOCK decisions.
func (s *Store) FreezeAccount(ctx context.Context, accountID int64, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET status = 'SUSPENDED'
		WHERE id = $1 AND status = 'ACTIVE'`, accountID)
	if err != nil {
		return fmt.Errorf("freeze account %d (%s): %w", accountID, reason, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return fmt.Errorf("freeze account %d: %w", accountID, err)
		}
		if !exists {
			return store.ErrNotFound
		}
	}
	return nil
}

// Tx wraps a *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback is safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicateKey, pgErr.Constraint)
	}
	return err
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// Accounts

const accountColumns = `id, account_number, customer_id, account_type, status, balance_locked, currency, created_at`

func scanAccount(row scanner) (models.Account, error) {
	var a models.Account
	var customerID sql.NullInt64
	err := row.Scan(&a.ID, &a.AccountNumber, &customerID, &a.AccountType, &a.Status,
		&a.BalanceLocked, &a.Currency, &a.CreatedAt)
	a.CustomerID = nullableInt64(customerID)
	return a, err
}

func (t *Tx) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1`, id))
	return a, mapErr(err)
}

func (t *Tx) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *Tx) InterestBearingAccounts(ctx context.Context, accountTypes []string) ([]store.AccountWithBalance, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT a.id, a.account_number, a.customer_id, a.account_type, a.status, a.balance_locked, a.currency, a.created_at,
		       b.available_balance, b.currency, b.version
		FROM accounts a
		JOIN account_balances b ON b.account_id = a.id
		WHERE a.status = $1 AND a.account_type = ANY($2)
		ORDER BY a.id`, models.AccountStatusActive, pq.Array(accountTypes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []store.AccountWithBalance{}
	for rows.Next() {
		var ab store.AccountWithBalance
		var customerID sql.NullInt64
		err := rows.Scan(&ab.Account.ID, &ab.Account.AccountNumber, &customerID, &ab.Account.AccountType,
			&ab.Account.Status, &ab.Account.BalanceLocked, &ab.Account.Currency, &ab.Account.CreatedAt,
			&ab.Balance.AvailableBalance, &ab.Balance.Currency, &ab.Balance.Version)
		if err != nil {
			return nil, err
		}
		ab.Account.CustomerID = nullableInt64(customerID)
		ab.Balance.AccountID = ab.Account.ID
		result = append(result, ab)
	}
	return result, rows.Err()
}

// Balances

const balanceColumns = `account_id, available_balance, pending_balance, hold_balance, currency, last_transaction_id, last_calculated_at, version`

func scanBalance(row scanner) (models.AccountBalance, error) {
	var b models.AccountBalance
	var lastTx sql.NullInt64
	err := row.Scan(&b.AccountID, &b.AvailableBalance, &b.PendingBalance, &b.HoldBalance, &b.Currency,
		&lastTx, &b.LastCalculatedAt, &b.Version)
	b.LastTransactionID = nullableInt64(lastTx)
	return b, err
}

func (t *Tx) LockBalance(ctx context.Context, accountID int64) (models.AccountBalance, error) {
	b, err := scanBalance(t.tx.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM account_balances
		WHERE account_id = $1
		FOR UPDATE`, accountID))
	return b, mapErr(err)
}

func (t *Tx) UpdateBalance(ctx context.Context, b models.AccountBalance, expectedVersion int64) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE account_balances
		SET available_balance = $1, pending_balance = $2, hold_balance = $3,
		    last_transaction_id = $4, last_calculated_at = $5, version = version + 1
		WHERE account_id = $6 AND version = $7`,
		b.AvailableBalance, b.PendingBalance, b.HoldBalance,
		b.LastTransactionID, b.LastCalculatedAt, b.AccountID, expectedVersion)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w for account %d", store.ErrVersionConflict, b.AccountID)
	}
	return nil
}

func (t *Tx) ListBalances(ctx context.Context) ([]models.AccountBalance, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+balanceColumns+`
		FROM account_balances
		ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := []models.AccountBalance{}
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// Journal

const transactionColumns = `id, transaction_reference, type, source_account_id, destination_account_id, amount, currency, status, description, performed_by, reversal_of, created_at`

func scanTransaction(row scanner) (models.Transaction, error) {
	var tr models.Transaction
	var source, destination, reversalOf sql.NullInt64
	var txType string
	err := row.Scan(&tr.ID, &tr.Reference, &txType, &source, &destination, &tr.Amount, &tr.Currency,
		&tr.Status, &tr.Description, &tr.PerformedBy, &reversalOf, &tr.CreatedAt)
	tr.Type = models.TransactionType(txType)
	tr.SourceAccountID = nullableInt64(source)
	tr.DestinationAccountID = nullableInt64(destination)
	tr.ReversalOf = nullableInt64(reversalOf)
	return tr, err
}

func (t *Tx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO transactions (transaction_reference, type, source_account_id, destination_account_id,
		                          amount, currency, status, description, performed_by, reversal_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		tr.Reference, string(tr.Type), tr.SourceAccountID, tr.DestinationAccountID,
		tr.Amount, tr.Currency, tr.Status, tr.Description, tr.PerformedBy, tr.ReversalOf,
	).Scan(&tr.ID, &tr.CreatedAt)
	return mapErr(err)
}

func (t *Tx) GetTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1`, id))
	return tr, mapErr(err)
}

func (t *Tx) LockTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, id))
	return tr, mapErr(err)
}

func (t *Tx) UpdateTransactionStatus(ctx context.Context, id int64, status string) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE transactions SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *Tx) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (transaction_id, account_id, entry_type, amount, currency, balance_after, entry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		e.TransactionID, e.AccountID, e.EntryType, e.Amount, e.Currency, e.BalanceAfter, e.EntryDate,
	).Scan(&e.ID, &e.CreatedAt)
	return mapErr(err)
}

func (t *Tx) EntriesForTransaction(ctx context.Context, transactionID int64) ([]models.LedgerEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, entry_type, amount, currency, balance_after, entry_date, created_at
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY id`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.EntryType, &e.Amount, &e.Currency,
			&e.BalanceAfter, &e.EntryDate, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *Tx) SumEntries(ctx context.Context, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	var credits, debits decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE entry_type = 'CREDIT'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE entry_type = 'DEBIT'), 0)
		FROM ledger_entries
		WHERE account_id = $1`, accountID).Scan(&credits, &debits)
	return credits, debits, err
}

func (t *Tx) ComputedBalances(ctx context.Context) (map[int64]decimal.Decimal, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT account_id, SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END)
		FROM ledger_entries
		GROUP BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	computed := map[int64]decimal.Decimal{}
	for rows.Next() {
		var accountID int64
		var balance decimal.Decimal
		if err := rows.Scan(&accountID, &balance); err != nil {
			return nil, err
		}
		computed[accountID] = balance
	}
	return computed, rows.Err()
}

func (t *Tx) JournalTotals(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	var credits, debits decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE entry_type = 'CREDIT'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE entry_type = 'DEBIT'), 0)
		FROM ledger_entries`).Scan(&credits, &debits)
	return credits, debits, err
}

func (t *Tx) UnbalancedTransactions(ctx context.Context) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT transaction_id
		FROM ledger_entries
		GROUP BY transaction_id
		HAVING SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END) <> 0
		ORDER BY transaction_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *Tx) CountOutgoingSince(ctx context.Context, accountID int64, since time.Time) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transactions
		WHERE source_account_id = $1 AND status = $2 AND created_at >= $3`,
		accountID, models.TransactionStatusCompleted, since).Scan(&count)
	return count, err
}

func (t *Tx) FindTransfer(ctx context.Context, from, to int64, amount decimal.Decimal, since time.Time) (models.Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE type = $1 AND status = $2 AND source_account_id = $3 AND destination_account_id = $4
		  AND amount = $5 AND created_at >= $6
		ORDER BY created_at DESC
		LIMIT 1`,
		string(models.TransactionTransfer), models.TransactionStatusCompleted, from, to, amount, since))
	return tr, mapErr(err)
}

// Idempotency keys

func (t *Tx) GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyKey, error) {
	var k models.IdempotencyKey
	err := t.tx.QueryRowContext(ctx, `
		SELECT idempotency_key, request_hash, response_status, response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE idempotency_key = $1`, key,
	).Scan(&k.Key, &k.RequestHash, &k.ResponseStatus, &k.ResponseBody, &k.CreatedAt, &k.ExpiresAt)
	return k, mapErr(err)
}

func (t *Tx) SaveIdempotencyKey(ctx context.Context, k models.IdempotencyKey, now time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, response_status, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_status = EXCLUDED.response_status,
		    response_body = EXCLUDED.response_body,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= $5`,
		k.Key, k.RequestHash, k.ResponseStatus, string(k.ResponseBody), now, k.ExpiresAt)
	if err != nil {
		return mapErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: idempotency key %q", store.ErrDuplicateKey, k.Key)
	}
	return nil
}

// Accruals

func (t *Tx) InsertAccrual(ctx context.Context, a *models.AccruedInterest) (bool, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO accrued_interest (account_id, calculation_date, interest_amount, rate_applied)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, calculation_date) DO NOTHING
		RETURNING id, created_at`,
		a.AccountID, a.CalculationDate, a.InterestAmount, a.RateApplied,
	).Scan(&a.ID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tx) AccountsWithUnpostedAccruals(ctx context.Context, from, to time.Time) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT account_id
		FROM accrued_interest
		WHERE is_posted = FALSE AND calculation_date >= $1 AND calculation_date < $2
		ORDER BY account_id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *Tx) LockUnpostedAccruals(ctx context.Context, accountID int64, from, to time.Time) ([]models.AccruedInterest, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, account_id, calculation_date, interest_amount, rate_applied, is_posted, ledger_entry_id, created_at
		FROM accrued_interest
		WHERE account_id = $1 AND is_posted = FALSE AND calculation_date >= $2 AND calculation_date < $3
		ORDER BY calculation_date
		FOR UPDATE`, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accruals := []models.AccruedInterest{}
	for rows.Next() {
		var a models.AccruedInterest
		var entryID sql.NullInt64
		err := rows.Scan(&a.ID, &a.AccountID, &a.CalculationDate, &a.InterestAmount, &a.RateApplied,
			&a.IsPosted, &entryID, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		a.LedgerEntryID = nullableInt64(entryID)
		accruals = append(accruals, a)
	}
	return accruals, rows.Err()
}

func (t *Tx) MarkAccrualPosted(ctx context.Context, id int64, ledgerEntryID int64) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE accrued_interest
		SET is_posted = TRUE, ledger_entry_id = $1
		WHERE id = $2 AND is_posted = FALSE`, ledgerEntryID, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Fraud queue

func (t *Tx) InsertFraudItem(ctx context.Context, item *models.FraudQueueItem) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO fraud_queue (transaction_id, customer_id, rule_triggered, severity, fraud_score, status, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING id, created_at`,
		item.TransactionID, item.CustomerID, item.RuleTriggered, item.Severity, item.FraudScore,
		item.Status, item.Details,
	).Scan(&item.ID, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrAlreadyExists
	}
	return err
}

func (t *Tx) LockFraudItem(ctx context.Context, id int64) (models.FraudQueueItem, error) {
	var item models.FraudQueueItem
	var customerID sql.NullInt64
	var decidedBy sql.NullString
	var decidedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, transaction_id, customer_id, rule_triggered, severity, fraud_score, status, details,
		       review_notes, decided_by, decided_at, created_at
		FROM fraud_queue
		WHERE id = $1
		FOR UPDATE`, id,
	).Scan(&item.ID, &item.TransactionID, &customerID, &item.RuleTriggered, &item.Severity, &item.FraudScore,
		&item.Status, &item.Details, &item.ReviewNotes, &decidedBy, &decidedAt, &item.CreatedAt)
	if err != nil {
		return models.FraudQueueItem{}, mapErr(err)
	}

	item.CustomerID = nullableInt64(customerID)
	if decidedBy.Valid {
		item.DecidedBy = &decidedBy.String
	}
	if decidedAt.Valid {
		item.DecidedAt = &decidedAt.Time
	}
	return item, nil
}

func (t *Tx) UpdateFraudDecision(ctx context.Context, item models.FraudQueueItem) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE fraud_queue
		SET status = $1, review_notes = $2, decided_by = $3, decided_at = $4
		WHERE id = $5`,
		item.Status, item.ReviewNotes, item.DecidedBy, item.DecidedAt, item.ID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
