package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xbsc-402/x402-backend/internal/abuse"
	"github.com/xbsc-402/x402-backend/internal/capacity"
	"github.com/xbsc-402/x402-backend/internal/chain"
	"github.com/xbsc-402/x402-backend/internal/config"
	"github.com/xbsc-402/x402-backend/internal/facilitator"
	"github.com/xbsc-402/x402-backend/internal/gateway"
	"github.com/xbsc-402/x402-backend/internal/kvpool"
	"github.com/xbsc-402/x402-backend/internal/settle"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── KV pool ───────────────────────────────────────────────────────────────
	pool, err := kvpool.New(cfg.KV, log)
	if err != nil {
		log.Fatal("kv pool init failed", zap.Error(err))
	}
	go pool.HealthLoop(ctx)

	// Must finish before the listener opens: a reservation taken by a live
	// request must never be swept.
	clearStaleReservations(ctx, pool, log)

	// ── Chain client (read-only launch token queries) ─────────────────────────
	onchain, err := chain.NewClient(cfg)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}
	defer onchain.Close()
	log.Info("chain client ready", zap.String("rpc", onchain.RPCURL()))

	// ── Capacity + abuse ──────────────────────────────────────────────────────
	manager := capacity.NewManager(
		capacity.NewMaxCountCache(onchain),
		capacity.NewMintCountCache(onchain, log),
		capacity.NewPendingCounter(pool),
	)
	deadlines := capacity.NewDeadlineCache(onchain)
	detector := abuse.NewDetector(pool, cfg.Abuse, log)

	// ── Facilitator + settlement coalescer ────────────────────────────────────
	fac := facilitator.NewClient(cfg.Facilitator, cfg.Batch.MaxRetries, log)
	coalescer := settle.NewCoalescer(fac, cfg.Batch, log)
	go coalescer.RunSweeper(ctx)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	gateway.NewHandler(cfg, gateway.Deps{
		Pool:        pool,
		Detector:    detector,
		Capacity:    manager,
		Deadlines:   deadlines,
		Facilitator: fac,
		Coalescer:   coalescer,
	}, log).Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	// Stop intake first; in-flight mints finish against the still-running
	// coalescer, then the leftover queue is flushed synchronously. All three
	// stages share one 10s budget.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	coalescer.Shutdown(shutdownCtx)
	pool.Drain(shutdownCtx)

	log.Info("shutdown complete")
}

// clearStaleReservations scans pending_mint:* on startup and deletes any
// reservation counters a previous run left behind. Reservations only live for
// the duration of an in-flight request; a counter that outlives its process is
// a leak that understates availability until the TTL fires (crash recovery).
func clearStaleReservations(ctx context.Context, pool *kvpool.Pool, log *zap.Logger) {
	err := pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		var cursor uint64
		for {
			keys, next, err := rdb.Scan(ctx, cursor, "pending_mint:*", 100).Result()
			if err != nil {
				return err
			}
			for _, key := range keys {
				leaked, _ := rdb.Get(ctx, key).Result()
				if err := rdb.Del(ctx, key).Err(); err != nil {
					return err
				}
				log.Info("cleared stale reservation",
					zap.String("token", key[len("pending_mint:"):]),
					zap.String("count", leaked),
				)
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	if err != nil {
		log.Error("clearStaleReservations: scan", zap.Error(err))
	}
}
