package main

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/xbsc-402/x402-backend/internal/config"
	"github.com/xbsc-402/x402-backend/internal/kvpool"
)

// ── helpers ───────────────────────────────────────────────────────────────────

func newTestPool(t *testing.T, mr *miniredis.Miniredis) *kvpool.Pool {
	t.Helper()
	pool, err := kvpool.New(config.KVConfig{
		URL:              mr.Addr(),
		PoolMax:          2,
		AcquireTimeoutMS: 1000,
		ConnectAttempts:  1,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("kvpool.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pool.Drain(ctx)
	})
	return pool
}

// ── clearStaleReservations ────────────────────────────────────────────────────

func TestClearStaleReservations_Empty(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := newTestPool(t, mr)

	clearStaleReservations(context.Background(), pool, zap.NewNop())

	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("expected empty keyspace, got %v", keys)
	}
}

func TestClearStaleReservations_DeletesLeakedCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := newTestPool(t, mr)

	leaked := []string{
		"pending_mint:0x1111111111111111111111111111111111111111",
		"pending_mint:0x2222222222222222222222222222222222222222",
	}
	mr.Set(leaked[0], "7") //nolint:errcheck
	mr.Set(leaked[1], "2") //nolint:errcheck

	clearStaleReservations(context.Background(), pool, zap.NewNop())

	for _, key := range leaked {
		if mr.Exists(key) {
			t.Errorf("key %q survived the sweep", key)
		}
	}
}

func TestClearStaleReservations_IgnoresUnrelatedKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := newTestPool(t, mr)

	mr.Set("abuse:count:ip:192.0.2.1", "3")                   //nolint:errcheck
	mr.Set("abuse:ban:ip:192.0.2.9", "rate_limit_exceeded")   //nolint:errcheck
	mr.Set("pending_mint:0x3333333333333333333333333333333333333333", "5") //nolint:errcheck

	clearStaleReservations(context.Background(), pool, zap.NewNop())

	if mr.Exists("pending_mint:0x3333333333333333333333333333333333333333") {
		t.Error("pending counter survived the sweep")
	}
	if !mr.Exists("abuse:count:ip:192.0.2.1") {
		t.Error("abuse count key was swept")
	}
	if !mr.Exists("abuse:ban:ip:192.0.2.9") {
		t.Error("abuse ban key was swept")
	}
}

func TestClearStaleReservations_ManyTokens(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := newTestPool(t, mr)

	// More keys than one SCAN page so the cursor loop has to iterate.
	for i := 0; i < 250; i++ {
		mr.Set(fmt.Sprintf("pending_mint:0x%040x", i), "1") //nolint:errcheck
	}

	clearStaleReservations(context.Background(), pool, zap.NewNop())

	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "pending_mint:") {
			t.Fatalf("key %q survived the sweep", key)
		}
	}
}

func TestClearStaleReservations_ContextCancelled(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := newTestPool(t, mr)

	mr.Set("pending_mint:0x4444444444444444444444444444444444444444", "4") //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		clearStaleReservations(ctx, pool, zap.NewNop())
		close(done)
	}()

	select {
	case <-done:
		// Good: returned promptly
	case <-time.After(500 * time.Millisecond):
		t.Fatal("clearStaleReservations did not respect context cancellation")
	}
	if !mr.Exists("pending_mint:0x4444444444444444444444444444444444444444") {
		t.Error("sweep ran against a cancelled context")
	}
}

func TestClearStaleReservations_KVDown(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := newTestPool(t, mr)
	mr.Close()

	done := make(chan struct{})
	go func() {
		clearStaleReservations(context.Background(), pool, zap.NewNop())
		close(done)
	}()

	select {
	case <-done:
		// Good: logged the error and returned
	case <-time.After(2 * time.Second):
		t.Fatal("clearStaleReservations hung with the KV store down")
	}
}
