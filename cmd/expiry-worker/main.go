package main

import (
	"context"
	"log"
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
	"github.com/avelkaz/markethold/internal/observability"
)

// The request path already sweeps opportunistically; this worker is the
// belt-and-braces pass that keeps expiry moving through quiet hours. Both use
// the same idempotent transition, so they can run concurrently.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "markethold-expiry")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	var engOpts []engine.Option
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		engOpts = append(engOpts, engine.WithLocker(redisadapter.NewCache(redisClient)))
	}

	eng := engine.New(repo, logger, engine.Config{
		ReservationTTL: cfg.ReservationTTL,
		SweepLimit:     cfg.SweepLimit,
	}, engOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go run(ctx, eng, logger, time.Minute)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutdown expiry worker")
}

func run(ctx context.Context, eng *engine.Engine, logger observability.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("expiry worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := eng.Sweep(ctx); n > 0 {
				logger.WithField("processed", n).Info("expiry pass complete")
			}
		}
	}
}
