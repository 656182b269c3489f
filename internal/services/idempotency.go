package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// Column widths of idempotency_keys.idempotency_key and transactions.performed_by
const (
	MaxIdempotencyKeyLength = 128
	MaxActorLength          = 64
)

// PostingResult is the outcome returned to callers and cached for replays
type PostingResult struct {
	TransactionID int64  `json:"transactionId"`
	Reference     string `json:"reference,omitempty"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	ErrorKind     Kind   `json:"errorKind,omitempty"`
}

// Err rebuilds the typed failure carried by a cached result
func (r PostingResult) Err() error {
	if r.ErrorKind == "" {
		return nil
	}
	return &Error{Kind: r.ErrorKind, Message: r.Message}
}

// GuardOutcome tells the posting engine how to treat an idempotency key
type GuardOutcome int

const (
	GuardFresh GuardOutcome = iota
	GuardReplay
)

// GuardDecision is the result of IdempotencyGuard.Begin
type GuardDecision struct {
	Outcome GuardOutcome
	Result  PostingResult
}

// IdempotencyGuard deduplicates retried postings inside the posting unit of work
type IdempotencyGuard struct {
	ttl time.Duration
	now func() time.Time
}

func NewIdempotencyGuard(ttl time.Duration, now func() time.Time) *IdempotencyGuard {
	if now == nil {
		now = time.Now
	}
	return &IdempotencyGuard{ttl: ttl, now: now}
}

// Fingerprint hashes the normalized request payload
func Fingerprint(kind string, source, destination int64, amount decimal.Decimal, description string) string {
	normalized := strings.Join([]string{
		kind,
		fmt.Sprint(source),
		fmt.Sprint(destination),
		amount.StringFixed(4),
		strings.TrimSpace(description),
	}, "|")
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Begin resolves key against the stored record. A live record with another
// fingerprint is an IDEMPOTENCY_CONFLICT failure.
func (g *IdempotencyGuard) Begin(ctx context.Context, tx store.Tx, key, fingerprint string) (GuardDecision, error) {
	record, err := tx.GetIdempotencyKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return GuardDecision{Outcome: GuardFresh}, nil
	}
	if err != nil {
		return GuardDecision{}, dependencyError("idempotency lookup", err)
	}

	if record.Expired(g.now()) {
		return GuardDecision{Outcome: GuardFresh}, nil
	}

	if record.RequestHash != fingerprint {
		return GuardDecision{}, newError(KindIdempotencyConflict, "idempotency key %s was already used for a different request", key)
	}

	var cached PostingResult
	if err := json.Unmarshal(record.ResponseBody, &cached); err != nil {
		return GuardDecision{}, dependencyError("decode cached response", err)
	}
	return GuardDecision{Outcome: GuardReplay, Result: cached}, nil
}

// Commit stores result under key. It must run in the same unit of work as the posting.
func (g *IdempotencyGuard) Commit(ctx context.Context, tx store.Tx, key, fingerprint string, result PostingResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	now := g.now()
	return tx.SaveIdempotencyKey(ctx, models.IdempotencyKey{
		Key:            key,
		RequestHash:    fingerprint,
		ResponseStatus: result.Status,
		ResponseBody:   body,
		ExpiresAt:      now.Add(g.ttl),
	}, now)
}
