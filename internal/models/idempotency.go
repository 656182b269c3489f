package models

import "time"

// IdempotencyKey caches the outcome of a request so retries can be replayed
type IdempotencyKey struct {
	Key            string    `json:"idempotency_key" db:"idempotency_key"`
	RequestHash    string    `json:"request_hash" db:"request_hash"`
	ResponseStatus string    `json:"response_status" db:"response_status"`
	ResponseBody   []byte    `json:"response_body" db:"response_body"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the key may be reused at now.
func (k IdempotencyKey) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}
