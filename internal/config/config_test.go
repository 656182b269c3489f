package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Engine.IdempotencyTTL)
	assert.Equal(t, "USD", cfg.Engine.Currency)
	assert.Equal(t, int64(1), cfg.Engine.SystemCashAccountID)
	assert.Equal(t, int64(2), cfg.Engine.InterestExpenseAccountID)

	assert.True(t, cfg.Interest.Rates["SAVINGS"].Equal(decimal.RequireFromString("0.015")))
	assert.Equal(t, []string{"FIXED_DEPOSIT", "SAVINGS"}, cfg.Interest.AccountTypes())
	assert.Equal(t, 365, cfg.Interest.DaysInYear)

	require.Len(t, cfg.Fraud.Tiers, 3)
	assert.True(t, cfg.Fraud.Tiers[0].Threshold.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "CRITICAL", cfg.Fraud.Tiers[2].Severity)
	assert.Equal(t, 50, cfg.Fraud.QueueThreshold)
	assert.Equal(t, "fraud_review_queue", cfg.Fraud.ReviewQueueKey)

	assert.True(t, cfg.Reconciliation.Epsilon.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, 4, cfg.Reconciliation.Workers)
}

func TestLoad_Overrides(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("engine.max_attempts", 5)
	viper.Set("engine.currency", "ngn")
	viper.Set("interest.rates", map[string]string{"savings": "0.02", "current": "0"})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, "NGN", cfg.Engine.Currency)
	assert.True(t, cfg.Interest.Rates["SAVINGS"].Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, []string{"SAVINGS"}, cfg.Interest.AccountTypes())
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad rate", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()
		viper.Set("interest.rates", map[string]string{"SAVINGS": "abc"})

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid interest rate")
	})

	t.Run("negative rate", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()
		viper.Set("interest.rates", map[string]string{"SAVINGS": "-0.01"})

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("zero attempts", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()
		viper.Set("engine.max_attempts", 0)

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_attempts")
	})

	t.Run("bad epsilon", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()
		viper.Set("reconciliation.epsilon", "x")

		_, err := Load()
		assert.Error(t, err)
	})
}
