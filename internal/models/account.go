package models

import "time"

// Account statuses
const (
	AccountStatusPending   = "PENDING"
	AccountStatusActive    = "ACTIVE"
	AccountStatusSuspended = "SUSPENDED"
	AccountStatusClosed    = "CLOSED"
)

// AccountTypeSystem marks internal accounts (cash, interest expense) that may run negative.
const AccountTypeSystem = "SYSTEM"

// Account is a money container owned by a customer or by the bank itself
type Account struct {
	ID            int64     `json:"id" db:"id"`
	AccountNumber string    `json:"account_number" db:"account_number"`
	CustomerID    *int64    `json:"customer_id,omitempty" db:"customer_id"` // nil for system accounts
	AccountType   string    `json:"account_type" db:"account_type"`
	Status        string    `json:"status" db:"status"`
	BalanceLocked bool      `json:"balance_locked" db:"balance_locked"`
	Currency      string    `json:"currency" db:"currency"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// IsSystem reports whether the account is an internal bank account.
func (a Account) IsSystem() bool {
	return a.AccountType == AccountTypeSystem
}
