package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RedisReviewQueue pushes queued fraud items onto a Redis list that reviewer
// tooling consumes. Calls go through a circuit breaker so a Redis outage does
// not slow down post-commit scoring.
type RedisReviewQueue struct {
	client  *redis.Client
	key     string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

func NewRedisReviewQueue(client *redis.Client, key string, logger *zap.Logger) *RedisReviewQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &RedisReviewQueue{
		client:  client,
		key:     key,
		timeout: 2 * time.Second,
	}
	q.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fraud-review-queue",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return q
}

// reviewMessage is the payload pushed for each queued item
type reviewMessage struct {
	ID            int64  `json:"id"`
	TransactionID int64  `json:"transaction_id"`
	CustomerID    *int64 `json:"customer_id,omitempty"`
	RuleTriggered string `json:"rule_triggered"`
	Severity      string `json:"severity"`
	FraudScore    int    `json:"fraud_score"`
	Status        string `json:"status"`
	QueuedAt      string `json:"queued_at"`
}

func (q *RedisReviewQueue) Publish(ctx context.Context, item models.FraudQueueItem) error {
	payload, err := json.Marshal(reviewMessage{
		ID:            item.ID,
		TransactionID: item.TransactionID,
		CustomerID:    item.CustomerID,
		RuleTriggered: item.RuleTriggered,
		Severity:      item.Severity,
		FraudScore:    item.FraudScore,
		Status:        item.Status,
		QueuedAt:      item.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode review message: %w", err)
	}

	_, err = q.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, q.timeout)
		defer cancel()
		return nil, q.client.RPush(ctx, q.key, payload).Err()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("review queue unavailable: %w", err)
	}
	return err
}
