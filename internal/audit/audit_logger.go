package audit

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Event types
const (
	EventPosting        = "POSTING"
	EventReversal       = "REVERSAL"
	EventRebuild        = "BALANCE_REBUILD"
	EventInterestAccrue = "INTEREST_ACCRUAL"
	EventInterestPost   = "INTEREST_POSTING"
	EventFraudQueued    = "FRAUD_QUEUED"
	EventFraudDecision  = "FRAUD_DECISION"
	EventError          = "ERROR"
)

// Logger writes one structured audit record per ledger-affecting operation
type Logger interface {
	LogPosting(transactionID int64, kind string, fromAccount, toAccount int64, amount decimal.Decimal, status, actor string)
	LogError(operation string, transactionID int64, actor string, err error)
	LogOperation(eventType string, transactionID int64, actor string, details map[string]any)
}

// ZapLogger emits audit records on a dedicated zap logger named "audit"
type ZapLogger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger.Named("audit"), now: time.Now}
}

func (a *ZapLogger) LogPosting(transactionID int64, kind string, fromAccount, toAccount int64, amount decimal.Decimal, status, actor string) {
	a.logger.Info("audit",
		zap.String("event_type", EventPosting),
		zap.Time("timestamp", a.now()),
		zap.Int64("transaction_id", transactionID),
		zap.String("kind", kind),
		zap.Int64("from_account", fromAccount),
		zap.Int64("to_account", toAccount),
		zap.String("amount", amount.StringFixed(4)),
		zap.String("status", status),
		zap.String("actor", actor),
	)
}

func (a *ZapLogger) LogError(operation string, transactionID int64, actor string, err error) {
	a.logger.Warn("audit",
		zap.String("event_type", EventError),
		zap.Time("timestamp", a.now()),
		zap.String("operation", operation),
		zap.Int64("transaction_id", transactionID),
		zap.String("actor", actor),
		zap.String("status", "FAILED"),
		zap.Error(err),
	)
}

func (a *ZapLogger) LogOperation(eventType string, transactionID int64, actor string, details map[string]any) {
	a.logger.Info("audit",
		zap.String("event_type", eventType),
		zap.Time("timestamp", a.now()),
		zap.Int64("transaction_id", transactionID),
		zap.String("actor", actor),
		zap.String("status", "SUCCESS"),
		zap.Any("details", details),
	)
}

// Nop discards audit records
type Nop struct{}

func (Nop) LogPosting(int64, string, int64, int64, decimal.Decimal, string, string) {}
func (Nop) LogError(string, int64, string, error)                                   {}
func (Nop) LogOperation(string, int64, string, map[string]any)                      {}
