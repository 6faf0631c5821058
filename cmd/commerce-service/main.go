package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	catalogapp "github.com/dmehra2102/lumina-commerce/internal/catalog/application"
	cataloghttp "github.com/dmehra2102/lumina-commerce/internal/catalog/infrastructure/http"
	"github.com/dmehra2102/lumina-commerce/internal/dashboard"
	"github.com/dmehra2102/lumina-commerce/internal/livecache"
	"github.com/dmehra2102/lumina-commerce/internal/platform/config"
	salesapp "github.com/dmehra2102/lumina-commerce/internal/sales/application"
	saleshttp "github.com/dmehra2102/lumina-commerce/internal/sales/infrastructure/http"
	saleskafka "github.com/dmehra2102/lumina-commerce/internal/sales/infrastructure/kafka"
	"github.com/dmehra2102/lumina-commerce/internal/store"
	"github.com/dmehra2102/lumina-commerce/internal/store/memory"
	"github.com/dmehra2102/lumina-commerce/internal/store/postgres"
	"github.com/dmehra2102/lumina-commerce/pkg/idempotency"
	"github.com/dmehra2102/lumina-commerce/pkg/logging"
	"github.com/dmehra2102/lumina-commerce/pkg/outbox"
	"github.com/dmehra2102/lumina-commerce/pkg/shutdown"
	"github.com/dmehra2102/lumina-commerce/pkg/tracing"
)

type eventLog interface {
	outbox.Recorder
	outbox.Store
}

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
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := closers.Close(closeCtx); err != nil {
			log.Error("shutdown incomplete", "err", err)
		}
	}()

	stopTracing, err := tracing.Init(ctx, "commerce-service", cfg.OTLPURL)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	closers.Push(stopTracing)

	currencies, err := cfg.CurrencyTable()
	if err != nil {
		log.Error("currency table invalid", "err", err)
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Error("timezone invalid", "err", err)
		os.Exit(1)
	}
	policy, err := salesapp.ParseShortfallPolicy(cfg.ShortfallPolicy)
	if err != nil {
		log.Error("shortfall policy invalid", "err", err)
		os.Exit(1)
	}

	// Store backend
	var (
		st     store.Store
		events eventLog
	)
	switch cfg.StoreBackend {
	case "memory":
		mem := memory.New()
		closers.PushCloser(mem.Close)
		st, events = mem, outbox.NewMemoryStore()
		log.Warn("using in-memory store, state is lost on exit")
	default:
		pool, err := pgxpool.New(ctx, cfg.PGURL)
		if err != nil {
			log.Error("pg connect failed", "err", err)
			os.Exit(1)
		}
		closers.PushCloser(func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Error("pg migrate failed", "err", err)
			os.Exit(1)
		}
		st, events = postgres.NewStore(log, pool), postgres.NewOutboxStore(log, pool)
	}

	// Live cache
	cache := livecache.New(log, st)
	if err := cache.Start(ctx); err != nil {
		log.Error("live cache start failed", "err", err)
		os.Exit(1)
	}
	closers.PushCloser(cache.Close)
	if err := cache.WaitReady(ctx); err != nil {
		log.Error("live cache never became ready", "err", err)
		os.Exit(1)
	}

	catalog := catalogapp.NewService(log, st, cfg.RetryPolicy())
	if created, err := catalog.EnsureSettings(ctx, cfg.Store); err != nil {
		log.Error("settings bootstrap failed", "err", err)
		os.Exit(1)
	} else if created {
		log.Info("settings document created", "store_name", cfg.Store.StoreName)
	}

	retry := cfg.RetryPolicy()
	sales := salesapp.NewService(log, st, cache, cache, events,
		salesapp.WithMaxAttempts(retry.MaxAttempts),
		salesapp.WithBackoff(retry.Backoff),
		salesapp.WithShortfallPolicy(policy),
		salesapp.WithReconcileTimeout(cfg.ReconcileTimeout),
	)
	engine := dashboard.NewEngine(cache, loc)
	closers.PushCloser(func() error { engine.Detach(); return nil })

	// Idempotency keys
	var idem saleshttp.Idempotency
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, Idempotency-Key headers ignored", "addr", cfg.RedisAddr, "err", err)
			_ = rdb.Close()
		} else {
			closers.PushCloser(rdb.Close)
			idem = idempotency.NewStore(rdb, cfg.IdempotencyTTL)
		}
	}

	// Outbox relay to kafka
	writer := saleskafka.NewWriter(cfg.KafkaBrokers)
	closers.PushCloser(writer.Close)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, events, dispatch, "commerce-service-relay",
		outbox.WithRetryPolicy(outbox.RetryPolicy{MaxAttempts: cfg.OutboxMaxAttempts, Base: time.Second, Max: time.Minute}))

	// Nightly digest
	sched := cron.New(cron.WithLocation(loc))
	digest := dashboard.NewDigest(log, engine, currencies, currencies.Default().Code)
	if _, err := digest.Schedule(sched, cfg.DigestSchedule); err != nil {
		log.Error("digest schedule invalid", "err", err)
		os.Exit(1)
	}
	sched.Start()
	closers.Push(func(ctx context.Context) error {
		select {
		case <-sched.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// HTTP server
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !cache.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/catalog", cataloghttp.NewHandler(log, catalog, cache, st, currencies).Routes())
	r.Mount("/", saleshttp.NewHandler(log, sales, engine, currencies, idem).Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // snapshot streams stay open
	}
	closers.Push(srv.Shutdown)

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("commerce-service shutting down")
}
