// Command ledger-jobs runs the scheduled ledger jobs: daily interest accrual,
// monthly interest posting, balance rebuild and integrity verification.
//
//	ledger-jobs accrue --date 2026-03-14
//	ledger-jobs post-interest --period 2026-03-01
//	ledger-jobs rebuild --as-of 2026-03-15 --actor ops
//	ledger-jobs verify
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/database"
	"github.com/ruralpay/ledger/internal/logging"
	"github.com/ruralpay/ledger/internal/services"
	"github.com/ruralpay/ledger/internal/store/postgres"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type job func(ctx context.Context, engine *services.Engine, logger *zap.Logger, args []string) error

var jobs = map[string]job{
	"accrue":        runAccrue,
	"post-interest": runPostInterest,
	"rebuild":       runRebuild,
	"verify":        runVerify,
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ledger-jobs <accrue|post-interest|rebuild|verify> [flags]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	run, ok := jobs[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.ReadInConfig()

	logger, err := logging.NewLogger(logging.ConfigFromViper())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)
	logger = logger.Named("jobs").With(zap.String("job", os.Args[1]))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid ledger configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(ctx, database.GetConfig())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	engine := services.NewEngine(services.Options{
		Store:   postgres.New(db),
		Config:  cfg,
		Logger:  logger,
		Audit:   audit.NewZapLogger(logger),
		Metrics: services.NewMetrics("ledger", prometheus.NewRegistry()),
		Clock:   time.Now,
	})

	if err := run(ctx, engine, logger, os.Args[2:]); err != nil {
		logger.Error("job failed", zap.Error(err))
		db.Close()
		os.Exit(1)
	}
}

// parseDate parses a --date style flag, falling back to def when empty.
func parseDate(value string, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", value)
	}
	return d, nil
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func runAccrue(ctx context.Context, engine *services.Engine, logger *zap.Logger, args []string) error {
	fs := pflag.NewFlagSet("accrue", pflag.ContinueOnError)
	date := fs.String("date", "", "business date to accrue (default yesterday)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := parseDate(*date, today().AddDate(0, 0, -1))
	if err != nil {
		return err
	}

	affected, err := engine.CalculateDailyInterest(ctx, d)
	if err != nil {
		return err
	}
	logger.Info("interest accrued", zap.String("date", d.Format(dateLayout)), zap.Int("accounts", affected))
	return nil
}

func runPostInterest(ctx context.Context, engine *services.Engine, logger *zap.Logger, args []string) error {
	fs := pflag.NewFlagSet("post-interest", pflag.ContinueOnError)
	period := fs.String("period", "", "any date in the month to post (default previous month)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	t := today()
	d, err := parseDate(*period, time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0))
	if err != nil {
		return err
	}

	summary, err := engine.PostMonthlyInterest(ctx, d)
	logger.Info("interest posted",
		zap.String("period", d.Format("2006-01")),
		zap.String("posted_amount", summary.PostedAmount.StringFixed(4)),
		zap.Int("accruals", summary.Count),
		zap.Int("accounts", summary.Accounts),
	)
	return err
}

func runRebuild(ctx context.Context, engine *services.Engine, logger *zap.Logger, args []string) error {
	fs := pflag.NewFlagSet("rebuild", pflag.ContinueOnError)
	asOf := fs.String("as-of", "", "business date stamped on rebuilt balances (default today)")
	actor := fs.String("actor", "ledger-jobs", "actor recorded in the audit trail")
	account := fs.Int64("account", 0, "rebuild a single account instead of all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := parseDate(*asOf, today())
	if err != nil {
		return err
	}

	if *account > 0 {
		result, err := engine.RebuildAccountBalance(ctx, *account, *actor, d)
		if err != nil {
			return err
		}
		logger.Info("account rebuilt",
			zap.Int64("account_id", result.AccountID),
			zap.String("old_balance", result.OldBalance.StringFixed(4)),
			zap.String("new_balance", result.NewBalance.StringFixed(4)),
		)
		return nil
	}

	summary, err := engine.RebuildAccountBalances(ctx, *actor, d)
	if err != nil {
		return err
	}
	logger.Info("balances rebuilt",
		zap.Int("accounts_refreshed", summary.AccountsRefreshed),
		zap.Int64s("drifted_accounts", summary.DriftedAccounts),
		zap.String("status", summary.Status),
	)
	if summary.Status != "SUCCESS" {
		return errors.New(summary.Message)
	}
	return nil
}

func runVerify(ctx context.Context, engine *services.Engine, logger *zap.Logger, args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	doubleEntry, err := engine.VerifyDoubleEntry(ctx)
	if err != nil {
		return err
	}
	logger.Info("double entry verified",
		zap.Bool("valid", doubleEntry.Valid),
		zap.String("total_debits", doubleEntry.TotalDebits.StringFixed(4)),
		zap.String("total_credits", doubleEntry.TotalCredits.StringFixed(4)),
		zap.Int64s("unbalanced_transactions", doubleEntry.UnbalancedTransactions),
	)

	integrity, err := engine.VerifyBalanceIntegrity(ctx)
	if err != nil {
		return err
	}
	for _, d := range integrity.Discrepancies {
		logger.Warn("balance discrepancy",
			zap.Int64("account_id", d.AccountID),
			zap.String("materialized", d.Materialized.StringFixed(4)),
			zap.String("computed", d.Computed.StringFixed(4)),
		)
	}

	return errors.Join(doubleEntry.Err(), integrity.Err())
}
