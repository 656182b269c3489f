package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the business kind of a transaction
type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTransfer   TransactionType = "TRANSFER"
	TransactionReversal   TransactionType = "REVERSAL"
	TransactionInterest   TransactionType = "INTEREST"
)

// Transaction statuses
const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
	TransactionStatusReversed  = "REVERSED"
)

// Transaction represents a logical money movement
type Transaction struct {
	ID                   int64           `json:"id" db:"id"`
	Reference            string          `json:"transaction_reference" db:"transaction_reference"`
	Type                 TransactionType `json:"type" db:"type"`
	SourceAccountID      *int64          `json:"source_account_id,omitempty" db:"source_account_id"`
	DestinationAccountID *int64          `json:"destination_account_id,omitempty" db:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Currency             string          `json:"currency" db:"currency"`
	Status               string          `json:"status" db:"status"`
	Description          string          `json:"description" db:"description"`
	PerformedBy          string          `json:"performed_by" db:"performed_by"`
	ReversalOf           *int64          `json:"reversal_of,omitempty" db:"reversal_of"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}
