package capacity

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xbsc-402/x402-backend/internal/kvpool"
)

const (
	pendingKeyPrefix = "pending_mint:"

	// pendingTTLSec bounds counter leakage when a release is missed, e.g. a
	// crash between reserve and release.
	pendingTTLSec = 3600
)

// PendingCounter tracks in-flight reservations per token in the KV store.
// The counter is advisory; the facilitator enforces the hard on-chain bound.
type PendingCounter struct {
	pool *kvpool.Pool
}

func NewPendingCounter(pool *kvpool.Pool) *PendingCounter {
	return &PendingCounter{pool: pool}
}

func pendingKey(token string) string { return pendingKeyPrefix + tokenKey(token) }

// Increment adds n reservations and refreshes the safety TTL. Both commands
// run in one transaction so the key can never exist without an expiration.
func (p *PendingCounter) Increment(ctx context.Context, token string, n int64) (int64, error) {
	key := pendingKey(token)
	tx := kvpool.NewTx().
		Command("INCRBY", key, n).
		Command("EXPIRE", key, pendingTTLSec)
	cmders, err := p.pool.ExecuteTransaction(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("increment pending for %s: %w", tokenKey(token), err)
	}
	total, err := cmders[0].(*redis.Cmd).Int64()
	if err != nil {
		return 0, fmt.Errorf("parse pending count: %w", err)
	}
	return total, nil
}

// Decrement releases n reservations. When the counter reaches zero or drifts
// below it, the key is deleted so an absent key always means zero.
func (p *PendingCounter) Decrement(ctx context.Context, token string, n int64) error {
	key := pendingKey(token)
	err := p.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		left, err := rdb.DecrBy(ctx, key, n).Result()
		if err != nil {
			return err
		}
		if left <= 0 {
			return rdb.Del(ctx, key).Err()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("decrement pending for %s: %w", tokenKey(token), err)
	}
	return nil
}

// Get returns the current pending count, zero when the key is absent.
func (p *PendingCounter) Get(ctx context.Context, token string) (int64, error) {
	var count int64
	err := p.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		v, err := rdb.Get(ctx, pendingKey(token)).Int64()
		if err == redis.Nil {
			count = 0
			return nil
		}
		if err != nil {
			return err
		}
		count = v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read pending for %s: %w", tokenKey(token), err)
	}
	return count, nil
}

// Clear deletes the counter outright.
func (p *PendingCounter) Clear(ctx context.Context, token string) error {
	err := p.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Del(ctx, pendingKey(token)).Err()
	})
	if err != nil {
		return fmt.Errorf("clear pending for %s: %w", tokenKey(token), err)
	}
	return nil
}
