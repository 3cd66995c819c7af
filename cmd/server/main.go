package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appmetering "github.com/entitled/backend/internal/application/metering"
	"github.com/entitled/backend/internal/application/subscriptions"
	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/infrastructure/config"
	"github.com/entitled/backend/internal/infrastructure/counter"
	"github.com/entitled/backend/internal/infrastructure/logger"
	"github.com/entitled/backend/internal/infrastructure/persistence"
	"github.com/entitled/backend/internal/infrastructure/webhook"
	"github.com/entitled/backend/internal/interfaces/http/handler"
	"github.com/entitled/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting metering engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("counter_backend", cfg.Engine.CounterBackend),
	)

	// Create GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), 200*time.Millisecond)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Initialize the counter store
	store, err := newCounterStore(cfg)
	if err != nil {
		log.Fatal("Failed to connect to counter store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing counter store", zap.Error(err))
		}
	}()
	log.Info("Counter store ready", zap.String("backend", cfg.Engine.CounterBackend))

	// Initialize repositories
	planRepo := persistence.NewGormPlanRepository(db.DB)
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	snapshotLoader := persistence.NewGormSnapshotLoader(db.DB)
	eventRepo := persistence.NewGormMeterEventRepository(db.DB)

	// Limit notifications are optional. Without a webhook the gate uses a
	// no-op notifier.
	var notifier entitlement.Notifier
	if cfg.Webhook.Enabled {
		notifier = webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout, log)
		log.Info("Limit webhook enabled", zap.String("url", cfg.Webhook.URL))
	}

	// Initialize the admission pipeline
	guard := appmetering.NewGuard(store, cfg.Engine.IdempotencyTTL, log)
	limiter := appmetering.NewLimiter(store, log)
	accountant := appmetering.NewAccountant(store, cfg.Engine.UsageTTL, log)
	gate := appmetering.NewGate(snapshotLoader, guard, limiter, accountant, eventRepo, notifier, log)
	summaryService := appmetering.NewSummaryService(snapshotLoader, accountant, log)
	rebuilder := appmetering.NewRebuilder(snapshotLoader, eventRepo, accountant, log)

	// Subscription lifecycle service
	subscriptionService := subscriptions.NewService(planRepo, subscriptionRepo, accountant, log)

	// Initialize handlers and router
	engine := router.New(cfg, log, router.Handlers{
		Metering:     handler.NewMeteringHandler(gate, summaryService, rebuilder, log),
		Subscription: handler.NewSubscriptionHandler(subscriptionService, log),
		System:       handler.NewSystemHandler(db, store),
		Gate:         gate,
	})

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newCounterStore builds the counter store selected by the configuration.
func newCounterStore(cfg *config.Config) (counter.Store, error) {
	if cfg.Engine.CounterBackend == "memory" {
		return counter.NewMemoryStore(), nil
	}
	return counter.NewRedisStore(counter.RedisConfig{
		Host:      cfg.Redis.Host,
		Port:      cfg.Redis.Port,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		OpTimeout: cfg.Engine.StoreOpTimeout,
	})
}
