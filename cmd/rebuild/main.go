// Command rebuild reconstructs a subscriber's usage counters from the
// durable meter event log. Run it after a counter store data loss.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appmetering "github.com/entitled/backend/internal/application/metering"
	"github.com/entitled/backend/internal/infrastructure/config"
	"github.com/entitled/backend/internal/infrastructure/counter"
	"github.com/entitled/backend/internal/infrastructure/logger"
	"github.com/entitled/backend/internal/infrastructure/persistence"
)

func main() {
	var (
		subscriberID string
		timeout      time.Duration
	)
	flag.StringVar(&subscriberID, "subscriber", "", "Subscriber ID to rebuild (required)")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Rebuild deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: "console",
		Output: "stdout",
	})
	defer func() {
		_ = log.Sync()
	}()

	if subscriberID == "" {
		log.Error("Subscriber ID required. Usage: rebuild -subscriber <uuid>")
		flag.Usage()
		os.Exit(1)
	}
	subscriber, err := uuid.Parse(subscriberID)
	if err != nil {
		log.Fatal("Invalid subscriber ID", zap.String("subscriber_id", subscriberID), zap.Error(err))
	}

	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	store, err := newCounterStore(cfg)
	if err != nil {
		log.Fatal("Failed to connect to counter store", zap.Error(err))
	}
	defer func() {
		_ = store.Close()
	}()

	snapshotLoader := persistence.NewGormSnapshotLoader(db.DB)
	eventRepo := persistence.NewGormMeterEventRepository(db.DB)
	accountant := appmetering.NewAccountant(store, cfg.Engine.UsageTTL, log)
	rebuilder := appmetering.NewRebuilder(snapshotLoader, eventRepo, accountant, log)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	replayed, err := rebuilder.Rebuild(ctx, subscriber)
	if err != nil {
		log.Fatal("Rebuild failed", zap.String("subscriber_id", subscriberID), zap.Error(err))
	}

	log.Info("Rebuild completed",
		zap.String("subscriber_id", subscriberID),
		zap.Int("events_replayed", replayed),
	)
}

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
