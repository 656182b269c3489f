package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry types
const (
	EntryDebit  = "DEBIT"
	EntryCredit = "CREDIT"
)

// LedgerEntry is one append-only posting line of a transaction
type LedgerEntry struct {
	ID            int64           `json:"id" db:"id"`
	TransactionID int64           `json:"transaction_id" db:"transaction_id"`
	AccountID     int64           `json:"account_id" db:"account_id"`
	EntryType     string          `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Amount        decimal.Decimal `json:"amount" db:"amount"`         // always positive
	Currency      string          `json:"currency" db:"currency"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	EntryDate     time.Time       `json:"entry_date" db:"entry_date"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Signed returns the entry's effect on the account's available balance.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.EntryType == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// AccountBalance is the materialized balance of an account
type AccountBalance struct {
	AccountID         int64           `json:"account_id" db:"account_id"`
	AvailableBalance  decimal.Decimal `json:"available_balance" db:"available_balance"`
	PendingBalance    decimal.Decimal `json:"pending_balance" db:"pending_balance"`
	HoldBalance       decimal.Decimal `json:"hold_balance" db:"hold_balance"`
	Currency          string          `json:"currency" db:"currency"`
	LastTransactionID *int64          `json:"last_transaction_id,omitempty" db:"last_transaction_id"`
	LastCalculatedAt  time.Time       `json:"last_calculated_at" db:"last_calculated_at"`
	Version           int64           `json:"version" db:"version"` // for optimistic locking
}
