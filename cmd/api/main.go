package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/avelkaz/markethold/internal/adapters/crdb"
	redisadapter "github.com/avelkaz/markethold/internal/adapters/redis"
	"github.com/avelkaz/markethold/internal/config"
	"github.com/avelkaz/markethold/internal/engine"
	httphandler "github.com/avelkaz/markethold/internal/http"
	"github.com/avelkaz/markethold/internal/idempotency"
	"github.com/avelkaz/markethold/internal/observability"
	"github.com/avelkaz/markethold/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "markethold-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(context.Background(), crdb.Schema); err != nil {
		log.Fatalf("failed to bootstrap schema: %v", err)
	}
	repo := crdb.NewRepository(pool)

	var engOpts []engine.Option
	var rl *rateLimit.RateLimiter
	var idemp *idempotency.Idempotency
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		cache := redisadapter.NewCache(redisClient)
		rl = rateLimit.NewRateLimiter(cache)
		idemp = idempotency.NewIdempotency(redisClient, time.Hour)
		engOpts = append(engOpts, engine.WithLocker(cache))
	}

	eng := engine.New(repo, logger, engine.Config{
		ReservationTTL: cfg.ReservationTTL,
		SweepLimit:     cfg.SweepLimit,
		MaxBulkItems:   cfg.MaxBulkItems,
		DailyTopupCap:  cfg.DailyTopupCap,
	}, engOpts...)

	handlers := httphandler.NewHandlers(eng, idemp, logger)
	r := httphandler.SetupRouter(handlers, logger, rl, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.WithField("addr", cfg.HTTPAddr).Info("markethold api listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown: ", err)
	}
	logger.Info("server exiting")
}
