// Package abuse implements a sliding-window request counter with bans and a
// whitelist, all in the KV store so every gateway instance shares one view.
package abuse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xbsc-402/x402-backend/internal/config"
	"github.com/xbsc-402/x402-backend/internal/kvpool"
)

const (
	countKeyPrefix     = "abuse:count:"
	banKeyPrefix       = "abuse:ban:"
	whitelistKeyPrefix = "abuse:whitelist:"

	rateLimitReason = "rate_limit_exceeded"
)

// IPID identifies a caller by IP.
func IPID(ip string) string { return "ip:" + ip }

// AddrID identifies a caller by payer address.
func AddrID(addr string) string { return "addr:" + strings.ToLower(addr) }

// CombinedID ties a payer address to the IP it was seen from.
func CombinedID(addr, ip string) string {
	return "addr:" + strings.ToLower(addr) + "_ip:" + ip
}

// ExpiredID is the dedicated counter for requests against expired tokens.
func ExpiredID(ip string) string { return IPID(ip) + ":expired" }

// Decision is the outcome of one RecordRequest tick.
type Decision struct {
	Allowed    bool
	Banned     bool
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Stats is the administrative view of one identifier.
type Stats struct {
	Identifier  string `json:"identifier"`
	Count       int64  `json:"count"`
	Banned      bool   `json:"banned"`
	BanTTLSec   int64  `json:"banTtlSeconds,omitempty"`
	BanReason   string `json:"banReason,omitempty"`
	Whitelisted bool   `json:"whitelisted"`
}

// Detector counts requests per identifier inside a sliding window and bans
// identifiers that exceed the limit. RecordRequest fails open on KV trouble;
// the administrative operations fail closed.
type Detector struct {
	pool   *kvpool.Pool
	window time.Duration
	limit  int64
	ban    time.Duration
	log    *zap.Logger
}

func NewDetector(pool *kvpool.Pool, cfg config.AbuseConfig, log *zap.Logger) *Detector {
	return &Detector{
		pool:   pool,
		window: time.Duration(cfg.WindowSec) * time.Second,
		limit:  int64(cfg.MaxRequests),
		ban:    time.Duration(cfg.BanSec) * time.Second,
		log:    log,
	}
}

// RecordRequest ticks the identifier's counter and decides whether to admit.
// Whitelisted identifiers bypass counting. The first tick of a window sets
// the window TTL; a tick beyond the limit sets the ban key. A KV failure
// admits the request, losing one tick is better than refusing traffic.
func (d *Detector) RecordRequest(ctx context.Context, id string) Decision {
	var dec Decision
	err := d.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		wl, err := rdb.Exists(ctx, whitelistKeyPrefix+id).Result()
		if err != nil {
			return err
		}
		if wl > 0 {
			dec = Decision{Allowed: true}
			return nil
		}

		banTTL, err := rdb.TTL(ctx, banKeyPrefix+id).Result()
		if err != nil {
			return err
		}
		if banTTL > 0 || banTTL == -1 {
			if banTTL < 0 {
				banTTL = 0
			}
			dec = Decision{Banned: true, RetryAfter: banTTL}
			return nil
		}

		countKey := countKeyPrefix + id
		count, err := rdb.Incr(ctx, countKey).Result()
		if err != nil {
			return err
		}
		if count == 1 {
			if err := rdb.Expire(ctx, countKey, d.window).Err(); err != nil {
				return err
			}
		}
		if count > d.limit {
			if err := rdb.Set(ctx, banKeyPrefix+id, rateLimitReason, d.ban).Err(); err != nil {
				return err
			}
			dec = Decision{Banned: true, Count: count, RetryAfter: d.ban}
			return nil
		}
		dec = Decision{Allowed: true, Count: count, Remaining: d.limit - count}
		return nil
	})
	if err != nil {
		d.log.Warn("abuse check degraded, allowing request",
			zap.String("id", id), zap.Error(err))
		return Decision{Allowed: true}
	}
	return dec
}

// IsBanned reports whether the identifier currently carries a ban key.
func (d *Detector) IsBanned(ctx context.Context, id string) (bool, error) {
	var banned bool
	err := d.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		n, err := rdb.Exists(ctx, banKeyPrefix+id).Result()
		if err != nil {
			return err
		}
		banned = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check ban for %s: %w", id, err)
	}
	return banned, nil
}

// IsWhitelisted reports whether the identifier is whitelisted.
func (d *Detector) IsWhitelisted(ctx context.Context, id string) (bool, error) {
	var listed bool
	err := d.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		n, err := rdb.Exists(ctx, whitelistKeyPrefix+id).Result()
		if err != nil {
			return err
		}
		listed = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check whitelist for %s: %w", id, err)
	}
	return listed, nil
}

// Stats returns the counter, ban, and whitelist state of an identifier.
func (d *Detector) Stats(ctx context.Context, id string) (Stats, error) {
	stats := Stats{Identifier: id}
	err := d.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		count, err := rdb.Get(ctx, countKeyPrefix+id).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		stats.Count = count

		banTTL, err := rdb.TTL(ctx, banKeyPrefix+id).Result()
		if err != nil {
			return err
		}
		if banTTL > 0 || banTTL == -1 {
			stats.Banned = true
			if banTTL > 0 {
				stats.BanTTLSec = int64(banTTL / time.Second)
			}
			reason, err := rdb.Get(ctx, banKeyPrefix+id).Result()
			if err != nil && err != redis.Nil {
				return err
			}
			stats.BanReason = reason
		}

		wl, err := rdb.Exists(ctx, whitelistKeyPrefix+id).Result()
		if err != nil {
			return err
		}
		stats.Whitelisted = wl > 0
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats for %s: %w", id, err)
	}
	return stats, nil
}

// Ban sets the ban key. A non-positive duration falls back to the configured
// ban duration; an empty reason is recorded as "manual".
func (d *Detector) Ban(ctx context.Context, id string, duration time.Duration, reason string) error {
	if duration <= 0 {
		duration = d.ban
	}
	if reason == "" {
		reason = "manual"
	}
	err := d.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Set(ctx, banKeyPrefix+id, reason, duration).Err()
	})
	if err != nil {
		return fmt.Errorf("ban %s: %w", id, err)
	}
	d.log.Info("identifier banned",
		zap.String("id", id),
		zap.Duration("duration", duration),
		zap.String("reason", reason))
	return nil
}

// Unban removes the ban and resets the window counter. Leaving the counter
// in place would re-ban the identifier on its next request.
func (d *Detector) Unban(ctx context.Context, id string) error {
	err := d.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Del(ctx, banKeyPrefix+id, countKeyPrefix+id).Err()
	})
	if err != nil {
		return fmt.Errorf("unban %s: %w", id, err)
	}
	d.log.Info("identifier unbanned", zap.String("id", id))
	return nil
}

// AddToWhitelist exempts the identifier from counting. The key never expires.
func (d *Detector) AddToWhitelist(ctx context.Context, id string) error {
	err := d.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Set(ctx, whitelistKeyPrefix+id, "1", 0).Err()
	})
	if err != nil {
		return fmt.Errorf("whitelist %s: %w", id, err)
	}
	return nil
}

// RemoveFromWhitelist puts the identifier back under normal counting.
func (d *Detector) RemoveFromWhitelist(ctx context.Context, id string) error {
	err := d.pool.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Del(ctx, whitelistKeyPrefix+id).Err()
	})
	if err != nil {
		return fmt.Errorf("remove whitelist %s: %w", id, err)
	}
	return nil
}
