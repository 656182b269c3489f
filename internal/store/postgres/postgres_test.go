package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func beginTx(t *testing.T) (*Tx, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectBegin()
	tx, err := New(db).Begin(context.Background(), store.TxOptions{})
	require.NoError(t, err)

	return tx.(*Tx), mock, func() { db.Close() }
}

var balanceCols = []string{"account_id", "available_balance", "pending_balance", "hold_balance", "currency",
	"last_transaction_id", "last_calculated_at", "version"}

func TestTx_LockBalance(t *testing.T) {
	tx, mock, done := beginTx(t)
	defer done()
	ctx := context.Background()

	t.Run("existing balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM account_balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(balanceCols).
				AddRow(int64(7), "1000.0000", "0", "0", "USD", int64(41), time.Now(), int64(3)))

		b, err := tx.LockBalance(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(7), b.AccountID)
		assert.True(t, b.AvailableBalance.Equal(decimal.NewFromInt(1000)))
		require.NotNil(t, b.LastTransactionID)
		assert.Equal(t, int64(41), *b.LastTransactionID)
		assert.Equal(t, int64(3), b.Version)
	})

	t.Run("missing balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM account_balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs(int64(8)).
			WillReturnError(sql.ErrNoRows)

		_, err := tx.LockBalance(ctx, 8)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_UpdateBalance(t *testing.T) {
	tx, mock, done := beginTx(t)
	defer done()
	ctx := context.Background()

	b := models.AccountBalance{
		AccountID:        7,
		AvailableBalance: decimal.NewFromInt(950),
		PendingBalance:   decimal.Zero,
		HoldBalance:      decimal.Zero,
		LastCalculatedAt: time.Now(),
	}

	t.Run("successful update", func(t *testing.T) {
		mock.ExpectExec("UPDATE account_balances SET .+ version = version \\+ 1 WHERE account_id = \\$6 AND version = \\$7").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil, sqlmock.AnyArg(), int64(7), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, tx.UpdateBalance(ctx, b, 3))
	})

	t.Run("optimistic lock failure", func(t *testing.T) {
		mock.ExpectExec("UPDATE account_balances SET").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil, sqlmock.AnyArg(), int64(7), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := tx.UpdateBalance(ctx, b, 3)
		assert.ErrorIs(t, err, store.ErrVersionConflict)
		assert.Contains(t, err.Error(), "optimistic lock failed")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_InsertTransaction(t *testing.T) {
	tx, mock, done := beginTx(t)
	defer done()
	ctx := context.Background()

	source, destination := int64(1), int64(2)
	tr := &models.Transaction{
		Reference:            "6f1c2b8e-0000-4000-8000-000000000001",
		Type:                 models.TransactionTransfer,
		SourceAccountID:      &source,
		DestinationAccountID: &destination,
		Amount:               decimal.NewFromInt(50),
		Currency:             "USD",
		Status:               models.TransactionStatusCompleted,
		Description:          "rent",
		PerformedBy:          "teller-1",
	}

	t.Run("returns generated id", func(t *testing.T) {
		created := time.Now()
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(tr.Reference, "TRANSFER", int64(1), int64(2), sqlmock.AnyArg(), "USD",
				models.TransactionStatusCompleted, "rent", "teller-1", nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(99), created))

		require.NoError(t, tx.InsertTransaction(ctx, tr))
		assert.Equal(t, int64(99), tr.ID)
		assert.Equal(t, created, tr.CreatedAt)
	})

	t.Run("duplicate reference", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "transactions_transaction_reference_key"})

		err := tx.InsertTransaction(ctx, tr)
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_SaveIdempotencyKey(t *testing.T) {
	tx, mock, done := beginTx(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	key := models.IdempotencyKey{
		Key:            "key-1",
		RequestHash:    "abc",
		ResponseStatus: "OK",
		ResponseBody:   []byte(`{"transaction_id":1}`),
		ExpiresAt:      now.Add(time.Hour),
	}

	t.Run("stores fresh key", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO idempotency_keys .+ ON CONFLICT \\(idempotency_key\\) DO UPDATE").
			WithArgs("key-1", "abc", "OK", `{"transaction_id":1}`, now, key.ExpiresAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, tx.SaveIdempotencyKey(ctx, key, now))
	})

	t.Run("live key already stored", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO idempotency_keys").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := tx.SaveIdempotencyKey(ctx, key, now)
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_InsertAccrual(t *testing.T) {
	tx, mock, done := beginTx(t)
	defer done()
	ctx := context.Background()

	accrual := &models.AccruedInterest{
		AccountID:       5,
		CalculationDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		InterestAmount:  decimal.RequireFromString("41.0959"),
		RateApplied:     decimal.RequireFromString("0.015"),
	}

	t.Run("inserted", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO accrued_interest .+ ON CONFLICT \\(account_id, calculation_date\\) DO NOTHING").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(12), time.Now()))

		inserted, err := tx.InsertAccrual(ctx, accrual)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, int64(12), accrual.ID)
	})

	t.Run("already accrued for the date", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO accrued_interest").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

		inserted, err := tx.InsertAccrual(ctx, accrual)
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_InsertFraudItem(t *testing.T) {
	tx, mock, done := beginTx(t)
	defer done()
	ctx := context.Background()

	item := &models.FraudQueueItem{
		TransactionID: 9,
		RuleTriggered: "AMOUNT_THRESHOLD",
		Severity:      models.SeverityHigh,
		FraudScore:    50,
		Status:        models.FraudStatusPending,
		Details:       models.Metadata{"rules": []string{"AMOUNT_THRESHOLD"}},
	}

	mock.ExpectQuery("INSERT INTO fraud_queue .+ ON CONFLICT \\(transaction_id\\) DO NOTHING").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

	err := tx.InsertFraudItem(ctx, item)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_JournalTotals(t *testing.T) {
	tx, mock, done := beginTx(t)
	defer done()

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\) FILTER").
		WillReturnRows(sqlmock.NewRows([]string{"credits", "debits"}).AddRow("1500.0000", "1450.0000"))

	credits, debits, err := tx.JournalTotals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1500", credits.String())
	assert.Equal(t, "1450", debits.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_RollbackAfterCommit(t *testing.T) {
	tx, mock, done := beginTx(t)
	defer done()

	mock.ExpectCommit()
	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErr(t *testing.T) {
	assert.Nil(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(sql.ErrNoRows), store.ErrNotFound)
	assert.ErrorIs(t, mapErr(&pq.Error{Code: "23505"}), store.ErrDuplicateKey)

	other := errors.New("connection reset")
	assert.Equal(t, other, mapErr(other))
}

func TestStore_FreezeAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	t.Run("active account", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts SET status = 'SUSPENDED' WHERE id = \\$1 AND status = 'ACTIVE'").
			WithArgs(int64(101)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.FreezeAccount(ctx, 101, "fraud item 5 blocked"))
	})

	t.Run("already suspended", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(102)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(102)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		assert.NoError(t, s.FreezeAccount(ctx, 102, "fraud item 6 blocked"))
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(999)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(999)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		assert.ErrorIs(t, s.FreezeAccount(ctx, 999, "x"), store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
