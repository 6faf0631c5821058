package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/lumina-commerce/internal/platform/config"
	saleskafka "github.com/dmehra2102/lumina-commerce/internal/sales/infrastructure/kafka"
	"github.com/dmehra2102/lumina-commerce/pkg/idempotency"
	"github.com/dmehra2102/lumina-commerce/pkg/logging"
	"github.com/dmehra2102/lumina-commerce/pkg/shutdown"
	"github.com/dmehra2102/lumina-commerce/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error").Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	var closers shutdown.Stack
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = closers.Close(closeCtx)
	}()

	stopTracing, err := tracing.Init(ctx, "alert-consumer", cfg.OTLPURL)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	closers.Push(stopTracing)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	closers.PushCloser(rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
		os.Exit(1)
	}

	reader := saleskafka.NewReader(cfg.KafkaBrokers, cfg.AlertTopic, cfg.AlertGroup)
	closers.PushCloser(reader.Close)

	consumer := saleskafka.NewAlertConsumer(log, reader,
		idempotency.NewStore(rdb, cfg.IdempotencyTTL),
		saleskafka.LogNotifier{Log: log},
	)

	log.Info("alert consumer started", "topic", cfg.AlertTopic, "group", cfg.AlertGroup)
	if err := consumer.Run(ctx); err != nil {
		log.Error("alert consumer stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("alert consumer shutdown complete")
}
