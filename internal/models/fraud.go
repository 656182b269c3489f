package models

import "time"

// Fraud severities, ordered from lowest to highest
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Fraud queue statuses
const (
	FraudStatusPending   = "PENDING"
	FraudStatusApproved  = "APPROVED"
	FraudStatusBlocked   = "BLOCKED"
	FraudStatusEscalated = "ESCALATED"
)

// SeverityRank orders severities; unknown values rank lowest.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// FraudQueueItem is a transaction waiting for human review
type FraudQueueItem struct {
	ID            int64      `json:"id" db:"id"`
	TransactionID int64      `json:"transaction_id" db:"transaction_id"`
	CustomerID    *int64     `json:"customer_id,omitempty" db:"customer_id"`
	RuleTriggered string     `json:"rule_triggered" db:"rule_triggered"`
	Severity      string     `json:"severity" db:"severity"`
	FraudScore    int        `json:"fraud_score" db:"fraud_score"`
	Status        string     `json:"status" db:"status"`
	Details       Metadata   `json:"details" db:"details"`
	ReviewNotes   string     `json:"review_notes,omitempty" db:"review_notes"`
	DecidedBy     *string    `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt     *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
