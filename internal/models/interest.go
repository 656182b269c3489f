package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccruedInterest is one day of interest for one account
type AccruedInterest struct {
	ID              int64           `json:"id" db:"id"`
	AccountID       int64           `json:"account_id" db:"account_id"`
	CalculationDate time.Time       `json:"calculation_date" db:"calculation_date"`
	InterestAmount  decimal.Decimal `json:"interest_amount" db:"interest_amount"`
	RateApplied     decimal.Decimal `json:"rate_applied" db:"rate_applied"`
	IsPosted        bool            `json:"is_posted" db:"is_posted"`
	LedgerEntryID   *int64          `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
