package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruralpay/ledger/docs"
	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/database"
	"github.com/ruralpay/ledger/internal/handlers"
	"github.com/ruralpay/ledger/internal/logging"
	mW "github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/services"
	"github.com/ruralpay/ledger/internal/store/postgres"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// @title Ledger API
// @version 1.0
// @description Double-entry ledger: postings, reversals, reconciliation, interest and fraud review
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func bindEnv() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.apply_schema", "DATABASE_APPLY_SCHEMA")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.format", "LOG_FORMAT")

	viper.BindEnv("engine.currency", "LEDGER_CURRENCY")
	viper.BindEnv("engine.max_attempts", "LEDGER_MAX_ATTEMPTS")
	viper.BindEnv("fraud.queue_threshold", "FRAUD_QUEUE_THRESHOLD")
	viper.BindEnv("reconciliation.workers", "RECONCILIATION_WORKERS")

	viper.SetDefault("server.port", "8080")
	viper.BindEnv("server.port", "PORT")
	viper.SetDefault("server.public_host", "localhost:8080")
	viper.BindEnv("server.public_host", "PUBLIC_HOST")
}

func main() {
	bindEnv()
	configErr := viper.ReadInConfig()

	logger, err := logging.NewLogger(logging.ConfigFromViper())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if configErr != nil {
		logger.Info("config file not found, using environment and defaults", zap.Error(configErr))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid ledger configuration", zap.Error(err))
	}
	if cfg.JWT.SecretKey == "" {
		logger.Fatal("jwt.secret_key must be set")
	}

	ctx := context.Background()

	db, err := database.InitDB(ctx, database.GetConfig())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if viper.GetBool("database.apply_schema") {
		if err := database.ApplySchema(ctx, db); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
	}

	ledgerStore := postgres.New(db)

	var reviewQueue services.ReviewPublisher
	redisClient := database.InitRedis(ctx)
	if redisClient != nil {
		defer redisClient.Close()
		reviewQueue = services.NewRedisReviewQueue(redisClient, cfg.Fraud.ReviewQueueKey, logger)
	}

	engine := services.NewEngine(services.Options{
		Store:       ledgerStore,
		Config:      cfg,
		Logger:      logger,
		Audit:       audit.NewZapLogger(logger),
		Metrics:     services.NewMetrics("ledger", prometheus.DefaultRegisterer),
		Clock:       time.Now,
		ReviewQueue: reviewQueue,
		Freezer:     ledgerStore,
	})
	ledgerHandler := handlers.NewLedgerHandler(engine)

	// Swagger info
	publicHost := viper.GetString("server.public_host")
	docs.SwaggerInfo.Host = publicHost
	docs.SwaggerInfo.BasePath = "/api/v1"

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://"+publicHost+"/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.Auth(cfg.JWT.SecretKey))
		ledgerHandler.Routes(r)
	})

	port := viper.GetString("server.port")

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
