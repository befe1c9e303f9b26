package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/homecare-scheduling/internal/app"
	"github.com/hackgods/homecare-scheduling/internal/audit"
	"github.com/hackgods/homecare-scheduling/internal/config"
	"github.com/hackgods/homecare-scheduling/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := app.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("audit-relay starting up",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.AuditTopic),
		zap.Duration("interval", cfg.RelayInterval),
		zap.Int("batch_size", cfg.RelayBatchSize),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2}, logger)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	publisher := audit.NewPublisher(pgPool, audit.NewRepository(pgPool), logger.Named("relay"), audit.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		Topic:     cfg.AuditTopic,
		PollEvery: cfg.RelayInterval,
		BatchSize: cfg.RelayBatchSize,
	})

	publisher.Run(rootCtx)

	logger.Info("audit-relay stopped")
}
