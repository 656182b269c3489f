package memstore

import (
	"context"
	"testing"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	a := s.CreateAccount(models.Account{AccountNumber: "ACC-1", AccountType: "SAVINGS"})
	ctx := context.Background()

	tx, err := s.Begin(ctx, store.TxOptions{})
	require.NoError(t, err)
	b, err := tx.LockBalance(ctx, a.ID)
	require.NoError(t, err)
	b.AvailableBalance = decimal.NewFromInt(500)
	require.NoError(t, tx.UpdateBalance(ctx, b, b.Version))
	require.NoError(t, tx.InsertTransaction(ctx, &models.Transaction{Amount: decimal.NewFromInt(500)}))
	require.NoError(t, tx.Rollback())

	assert.True(t, s.Balance(a.ID).AvailableBalance.IsZero())
	assert.Equal(t, int64(0), s.Balance(a.ID).Version)
	_, ok := s.Transaction(1)
	assert.False(t, ok)
}

func TestTx_CommitPublishesWrites(t *testing.T) {
	s := New()
	a := s.CreateAccount(models.Account{AccountNumber: "ACC-1", AccountType: "SAVINGS"})
	ctx := context.Background()

	tx, err := s.Begin(ctx, store.TxOptions{})
	require.NoError(t, err)
	b, err := tx.LockBalance(ctx, a.ID)
	require.NoError(t, err)
	b.AvailableBalance = decimal.NewFromInt(75)
	require.NoError(t, tx.UpdateBalance(ctx, b, b.Version))
	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback())

	assert.True(t, s.Balance(a.ID).AvailableBalance.Equal(decimal.NewFromInt(75)))
	assert.Equal(t, int64(1), s.Balance(a.ID).Version)
}

func TestTx_UpdateBalanceVersionConflict(t *testing.T) {
	s := New()
	a := s.CreateAccount(models.Account{AccountNumber: "ACC-1", AccountType: "SAVINGS"})
	ctx := context.Background()

	tx, err := s.Begin(ctx, store.TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback()

	b, err := tx.LockBalance(ctx, a.ID)
	require.NoError(t, err)
	err = tx.UpdateBalance(ctx, b, b.Version+1)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestStore_FreezeAccount(t *testing.T) {
	s := New()
	a := s.CreateAccount(models.Account{AccountNumber: "ACC-1", AccountType: "CURRENT"})
	ctx := context.Background()

	require.NoError(t, s.FreezeAccount(ctx, a.ID, "fraud item 1 blocked"))

	tx, err := s.Begin(ctx, store.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	got, err := tx.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, models.AccountStatusSuspended, got.Status)

	assert.ErrorIs(t, s.FreezeAccount(ctx, 999, "x"), store.ErrNotFound)
}
