// Package capacity tracks how many mint slots a launch token has left.
// Immutable chain constants are cached for the process lifetime, the mutable
// mint counter for a few seconds, and in-flight reservations live in the KV
// store so concurrent gateways see each other's holds.
package capacity

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

const (
	cacheSize    = 4096            // recent tokens kept per cache
	mintCountTTL = 6 * time.Second // freshness window for the mutable counter
)

// ChainReader is the read-only contract surface the caches need.
// *chain.Client satisfies it.
type ChainReader interface {
	MaxMintCount(ctx context.Context, token string) (uint64, error)
	MintCount(ctx context.Context, token string) (uint64, error)
	DeploymentDeadline(ctx context.Context, token string) (uint64, error)
}

// ReadError wraps a failed dependency read during a capacity decision.
// The HTTP layer maps it to 503.
type ReadError struct {
	Token string
	Call  string
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("capacity read %s for %s: %v", e.Call, e.Token, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func tokenKey(token string) string { return strings.ToLower(token) }

// MaxCountCache caches the immutable per-token mint cap. A token is read from
// the chain at most once per process.
type MaxCountCache struct {
	reader ChainReader
	cache  *lru.ARCCache
}

func NewMaxCountCache(reader ChainReader) *MaxCountCache {
	cache, _ := lru.NewARC(cacheSize)
	return &MaxCountCache{reader: reader, cache: cache}
}

func (c *MaxCountCache) Get(ctx context.Context, token string) (uint64, error) {
	key := tokenKey(token)
	if v, ok := c.cache.Get(key); ok {
		return v.(uint64), nil
	}
	n, err := c.reader.MaxMintCount(ctx, key)
	if err != nil {
		return 0, &ReadError{Token: key, Call: "maxMintCount", Err: err}
	}
	c.cache.Add(key, n)
	return n, nil
}

// Clear drops every cached value.
func (c *MaxCountCache) Clear() { c.cache.Purge() }

type mintEntry struct {
	count     uint64
	fetchedAt time.Time
}

// MintCountCache caches the mutable confirmed mint counter with a short TTL.
// When a refresh fails and a stale entry exists, the stale value is served so
// a flaky RPC endpoint degrades reads instead of failing admissions.
type MintCountCache struct {
	reader ChainReader
	cache  *lru.ARCCache
	ttl    time.Duration
	log    *zap.Logger
}

func NewMintCountCache(reader ChainReader, log *zap.Logger) *MintCountCache {
	cache, _ := lru.NewARC(cacheSize)
	return &MintCountCache{reader: reader, cache: cache, ttl: mintCountTTL, log: log}
}

func (c *MintCountCache) Get(ctx context.Context, token string) (uint64, error) {
	key := tokenKey(token)
	var stale *mintEntry
	if v, ok := c.cache.Get(key); ok {
		e := v.(mintEntry)
		if time.Since(e.fetchedAt) < c.ttl {
			return e.count, nil
		}
		stale = &e
	}
	n, err := c.reader.MintCount(ctx, key)
	if err != nil {
		if stale != nil {
			c.log.Warn("mint count refresh failed, serving stale value",
				zap.String("token", key),
				zap.Uint64("count", stale.count),
				zap.Error(err))
			return stale.count, nil
		}
		return 0, &ReadError{Token: key, Call: "mintCount", Err: err}
	}
	c.cache.Add(key, mintEntry{count: n, fetchedAt: time.Now()})
	return n, nil
}

// Clear drops every cached value.
func (c *MintCountCache) Clear() { c.cache.Purge() }

// DeadlineCache caches the immutable per-token deployment deadline.
type DeadlineCache struct {
	reader ChainReader
	cache  *lru.ARCCache
}

func NewDeadlineCache(reader ChainReader) *DeadlineCache {
	cache, _ := lru.NewARC(cacheSize)
	return &DeadlineCache{reader: reader, cache: cache}
}

func (c *DeadlineCache) Get(ctx context.Context, token string) (uint64, error) {
	key := tokenKey(token)
	if v, ok := c.cache.Get(key); ok {
		return v.(uint64), nil
	}
	n, err := c.reader.DeploymentDeadline(ctx, key)
	if err != nil {
		return 0, &ReadError{Token: key, Call: "deploymentDeadline", Err: err}
	}
	c.cache.Add(key, n)
	return n, nil
}

// IsTokenExpired reports whether the token's mint window has closed.
func (c *DeadlineCache) IsTokenExpired(ctx context.Context, token string) (bool, uint64, error) {
	deadline, err := c.Get(ctx, token)
	if err != nil {
		return false, 0, err
	}
	return uint64(time.Now().Unix()) > deadline, deadline, nil
}

// Clear drops every cached value.
func (c *DeadlineCache) Clear() { c.cache.Purge() }
