package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EngineConfig drives the posting engine
type EngineConfig struct {
	MaxAttempts              int
	RetryBackoff             time.Duration
	IdempotencyTTL           time.Duration
	Currency                 string
	SystemCashAccountID      int64
	InterestExpenseAccountID int64
}

// InterestConfig maps account types to annual rates
type InterestConfig struct {
	Rates      map[string]decimal.Decimal
	DaysInYear int
}

// AccountTypes returns the interest-bearing account types in a stable order.
func (c InterestConfig) AccountTypes() []string {
	types := make([]string, 0, len(c.Rates))
	for t, rate := range c.Rates {
		if rate.IsPositive() {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// AmountTier scores transactions at or above Threshold
type AmountTier struct {
	Threshold decimal.Decimal
	Score     int
	Severity  string
}

// FraudConfig holds the rule thresholds of the fraud scorer
type FraudConfig struct {
	QueueThreshold  int
	Tiers           []AmountTier
	VelocityWindow  time.Duration
	VelocityCount   int
	VelocityScore   int
	RoundTripWindow time.Duration
	RoundTripScore  int
	DrainRatio      decimal.Decimal
	DrainScore      int
	ReviewQueueKey  string
}

// ReconciliationConfig tunes balance rebuild and drift detection
type ReconciliationConfig struct {
	Epsilon decimal.Decimal
	Workers int
}

// JWTConfig holds the secret used to verify actor tokens
type JWTConfig struct {
	SecretKey string
}

// Config is the complete ledger configuration
type Config struct {
	Engine         EngineConfig
	Interest       InterestConfig
	Fraud          FraudConfig
	Reconciliation ReconciliationConfig
	JWT            JWTConfig
}

func setDefaults() {
	viper.SetDefault("engine.max_attempts", 3)
	viper.SetDefault("engine.retry_backoff", 10*time.Millisecond)
	viper.SetDefault("engine.idempotency_ttl", 24*time.Hour)
	viper.SetDefault("engine.currency", "USD")
	viper.SetDefault("engine.system_cash_account_id", 1)
	viper.SetDefault("engine.interest_expense_account_id", 2)

	viper.SetDefault("interest.rates", map[string]string{
		"SAVINGS":       "0.015",
		"FIXED_DEPOSIT": "0.045",
	})
	viper.SetDefault("interest.days_in_year", 365)

	viper.SetDefault("fraud.queue_threshold", 50)
	viper.SetDefault("fraud.tiers", []map[string]any{
		{"threshold": "10000", "score": 30, "severity": "MEDIUM"},
		{"threshold": "50000", "score": 50, "severity": "HIGH"},
		{"threshold": "100000", "score": 70, "severity": "CRITICAL"},
	})
	viper.SetDefault("fraud.velocity_window", 10*time.Minute)
	viper.SetDefault("fraud.velocity_count", 5)
	viper.SetDefault("fraud.velocity_score", 25)
	viper.SetDefault("fraud.round_trip_window", time.Hour)
	viper.SetDefault("fraud.round_trip_score", 40)
	viper.SetDefault("fraud.drain_ratio", "0.9")
	viper.SetDefault("fraud.drain_score", 20)
	viper.SetDefault("fraud.review_queue_key", "fraud_review_queue")

	viper.SetDefault("reconciliation.epsilon", "0.01")
	viper.SetDefault("reconciliation.workers", 4)

	viper.SetDefault("jwt.secret_key", "")
}

// Load reads the ledger configuration from viper, applying defaults
func Load() (*Config, error) {
	setDefaults()

	rates, err := loadRates(viper.GetStringMapString("interest.rates"))
	if err != nil {
		return nil, err
	}

	tiers, err := loadTiers()
	if err != nil {
		return nil, err
	}

	drainRatio, err := decimal.NewFromString(viper.GetString("fraud.drain_ratio"))
	if err != nil {
		return nil, fmt.Errorf("invalid fraud.drain_ratio: %w", err)
	}

	epsilon, err := decimal.NewFromString(viper.GetString("reconciliation.epsilon"))
	if err != nil {
		return nil, fmt.Errorf("invalid reconciliation.epsilon: %w", err)
	}

	cfg := &Config{
		Engine: EngineConfig{
			MaxAttempts:              viper.GetInt("engine.max_attempts"),
			RetryBackoff:             viper.GetDuration("engine.retry_backoff"),
			IdempotencyTTL:           viper.GetDuration("engine.idempotency_ttl"),
			Currency:                 strings.ToUpper(viper.GetString("engine.currency")),
			SystemCashAccountID:      viper.GetInt64("engine.system_cash_account_id"),
			InterestExpenseAccountID: viper.GetInt64("engine.interest_expense_account_id"),
		},
		Interest: InterestConfig{
			Rates:      rates,
			DaysInYear: viper.GetInt("interest.days_in_year"),
		},
		Fraud: FraudConfig{
			QueueThreshold:  viper.GetInt("fraud.queue_threshold"),
			Tiers:           tiers,
			VelocityWindow:  viper.GetDuration("fraud.velocity_window"),
			VelocityCount:   viper.GetInt("fraud.velocity_count"),
			VelocityScore:   viper.GetInt("fraud.velocity_score"),
			RoundTripWindow: viper.GetDuration("fraud.round_trip_window"),
			RoundTripScore:  viper.GetInt("fraud.round_trip_score"),
			DrainRatio:      drainRatio,
			DrainScore:      viper.GetInt("fraud.drain_score"),
			ReviewQueueKey:  viper.GetString("fraud.review_queue_key"),
		},
		Reconciliation: ReconciliationConfig{
			Epsilon: epsilon,
			Workers: viper.GetInt("reconciliation.workers"),
		},
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1")
	}
	if c.Engine.SystemCashAccountID <= 0 || c.Engine.InterestExpenseAccountID <= 0 {
		return fmt.Errorf("system account ids must be positive")
	}
	if c.Interest.DaysInYear <= 0 {
		return fmt.Errorf("interest.days_in_year must be positive")
	}
	if c.Reconciliation.Workers < 1 {
		return fmt.Errorf("reconciliation.workers must be at least 1")
	}
	if c.Reconciliation.Epsilon.IsNegative() {
		return fmt.Errorf("reconciliation.epsilon must not be negative")
	}
	if c.Fraud.QueueThreshold < 0 || c.Fraud.QueueThreshold > 100 {
		return fmt.Errorf("fraud.queue_threshold must be within 0..100")
	}
	return nil
}

func loadRates(raw map[string]string) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal, len(raw))
	for accountType, value := range raw {
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid interest rate for %s: %w", accountType, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("negative interest rate for %s", accountType)
		}
		rates[strings.ToUpper(accountType)] = rate
	}
	return rates, nil
}

func loadTiers() ([]AmountTier, error) {
	var raw []struct {
		Threshold string `mapstructure:"threshold"`
		Score     int    `mapstructure:"score"`
		Severity  string `mapstructure:"severity"`
	}
	if err := viper.UnmarshalKey("fraud.tiers", &raw); err != nil {
		return nil, fmt.Errorf("invalid fraud.tiers: %w", err)
	}

	tiers := make([]AmountTier, 0, len(raw))
	for _, r := range raw {
		threshold, err := decimal.NewFromString(r.Threshold)
		if err != nil {
			return nil, fmt.Errorf("invalid fraud tier threshold %q: %w", r.Threshold, err)
		}
		tiers = append(tiers, AmountTier{
			Threshold: threshold,
			Score:     r.Score,
			Severity:  strings.ToUpper(r.Severity),
		})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold.LessThan(tiers[j].Threshold) })
	return tiers, nil
}
