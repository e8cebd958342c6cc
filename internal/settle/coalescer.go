// Package settle batches individual payment settlements into facilitator
// batch calls. Settling one-by-one serializes nonces downstream and blows out
// tail latency; the coalescer gathers authorizations for a short window and
// submits them together while every caller still gets its own result.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xbsc-402/x402-backend/internal/config"
	"github.com/xbsc-402/x402-backend/internal/facilitator"
	"github.com/xbsc-402/x402-backend/internal/payment"
)

// reflushDelay spaces consecutive flushes when the queue outruns one batch.
const reflushDelay = 100 * time.Millisecond

var (
	ErrShuttingDown     = errors.New("settlement coalescer shutting down")
	ErrEnqueueTimeout   = errors.New("timed out waiting for settlement")
	ErrStale            = errors.New("settlement request expired before flush")
	ErrDuplicateRequest = errors.New("settlement already pending for request")
)

// FailedError is a settlement the facilitator refused. Reason is the
// facilitator's machine-readable reason and drives the HTTP status upstream.
type FailedError struct {
	Stage  string // "verify" or "settle"
	Reason string
}

func (e *FailedError) Error() string {
	if e.Stage == "verify" {
		return "Verification failed: " + e.Reason
	}
	return "Settlement failed: " + e.Reason
}

// Result is a successful settlement.
type Result struct {
	TxHash string
	Nonce  uint64
}

// Facilitator is the downstream surface the coalescer needs.
// *facilitator.Client satisfies it.
type Facilitator interface {
	Verify(ctx context.Context, payload json.RawMessage, requirement payment.Requirement) (*facilitator.VerifyResult, error)
	SettleBatch(ctx context.Context, items []facilitator.BatchItem) (*facilitator.BatchResult, error)
}

type outcome struct {
	result Result
	err    error
}

type item struct {
	requestID   string
	payload     json.RawMessage
	requirement payment.Requirement
	enqueuedAt  time.Time
	once        sync.Once
	done        chan outcome
}

// Coalescer owns the settle queue, the flush timer, and the stale sweep.
type Coalescer struct {
	fac          Facilitator
	batchSize    int
	batchTimeout time.Duration
	staleAfter   time.Duration
	sweepEvery   time.Duration
	log          *zap.Logger

	mu         sync.Mutex
	queue      []*item
	index      map[string]*item
	timer      *time.Timer
	processing bool
	closing    bool
}

func NewCoalescer(fac Facilitator, cfg config.BatchConfig, log *zap.Logger) *Coalescer {
	return &Coalescer{
		fac:          fac,
		batchSize:    cfg.Size,
		batchTimeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		staleAfter:   time.Duration(cfg.StaleSec) * time.Second,
		sweepEvery:   time.Duration(cfg.SweepSec) * time.Second,
		log:          log,
		index:        make(map[string]*item),
	}
}

// Enqueue inserts the authorization and blocks until its settlement result
// arrives or ctx expires. On ctx expiry the item stays queued; the next flush
// or the stale sweep completes it into the void.
func (c *Coalescer) Enqueue(ctx context.Context, requestID string, payload json.RawMessage, requirement payment.Requirement) (Result, error) {
	it := &item{
		requestID:   requestID,
		payload:     payload,
		requirement: requirement,
		enqueuedAt:  time.Now(),
		done:        make(chan outcome, 1),
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return Result{}, ErrShuttingDown
	}
	if _, dup := c.index[requestID]; dup {
		c.mu.Unlock()
		return Result{}, ErrDuplicateRequest
	}
	c.queue = append(c.queue, it)
	c.index[requestID] = it
	if len(c.queue) >= c.batchSize {
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		if !c.processing {
			go c.flush()
		}
	} else if c.timer == nil {
		c.timer = time.AfterFunc(c.batchTimeout, c.onTimer)
	}
	c.mu.Unlock()

	select {
	case out := <-it.done:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ErrEnqueueTimeout
	}
}

func (c *Coalescer) onTimer() {
	c.mu.Lock()
	c.timer = nil
	c.mu.Unlock()
	c.flush()
}

// flush drains up to one batch and processes it. Reentrancy is guarded by
// processing; during shutdown the closing flag hands flushing over to
// Shutdown's synchronous loop.
func (c *Coalescer) flush() {
	c.mu.Lock()
	if c.processing || c.closing || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	c.processing = true
	batch := c.takeBatchLocked()
	c.mu.Unlock()

	c.processBatch(context.Background(), batch)

	c.mu.Lock()
	c.processing = false
	remaining := len(c.queue)
	closing := c.closing
	c.mu.Unlock()

	if remaining > 0 && !closing {
		time.AfterFunc(reflushDelay, c.flush)
	}
}

// takeBatchLocked removes up to batchSize head items in insertion order.
func (c *Coalescer) takeBatchLocked() []*item {
	n := c.batchSize
	if n > len(c.queue) {
		n = len(c.queue)
	}
	batch := make([]*item, n)
	copy(batch, c.queue[:n])
	c.queue = append([]*item(nil), c.queue[n:]...)
	for _, it := range batch {
		delete(c.index, it.requestID)
	}
	return batch
}

// processBatch re-verifies the batch in parallel, settles the survivors in
// one facilitator call, and demultiplexes results positionally.
func (c *Coalescer) processBatch(ctx context.Context, batch []*item) {
	verdicts := make([]error, len(batch))
	var wg sync.WaitGroup
	for i, it := range batch {
		wg.Add(1)
		go func(i int, it *item) {
			defer wg.Done()
			res, err := c.fac.Verify(ctx, it.payload, it.requirement)
			switch {
			case err != nil:
				verdicts[i] = fmt.Errorf("re-verify %s: %w", it.requestID, err)
			case !res.IsValid:
				reason := res.Reason
				if reason == "" {
					reason = res.Message
				}
				if reason == "" {
					reason = "invalid"
				}
				verdicts[i] = &FailedError{Stage: "verify", Reason: reason}
			}
		}(i, it)
	}
	wg.Wait()

	valid := make([]*item, 0, len(batch))
	for i, it := range batch {
		if verdicts[i] != nil {
			c.complete(it, Result{}, verdicts[i])
			continue
		}
		valid = append(valid, it)
	}
	if len(valid) == 0 {
		return
	}

	items := make([]facilitator.BatchItem, len(valid))
	for i, it := range valid {
		items[i] = facilitator.BatchItem{
			PaymentPayload:      it.payload,
			PaymentRequirements: it.requirement,
		}
	}

	c.log.Info("settling batch",
		zap.Int("items", len(valid)),
		zap.Int("rejected", len(batch)-len(valid)))

	result, err := c.fac.SettleBatch(ctx, items)
	if err != nil {
		for _, it := range valid {
			c.complete(it, Result{}, fmt.Errorf("settle batch: %w", err))
		}
		c.log.Warn("batch settle failed", zap.Int("items", len(valid)), zap.Error(err))
		return
	}

	// Results map positionally onto the submitted order.
	for i, it := range valid {
		if i >= len(result.Results) {
			c.complete(it, Result{}, errors.New("settle batch: result missing for item"))
			continue
		}
		entry := result.Results[i]
		switch {
		case entry.Success && entry.Transaction != "":
			c.complete(it, Result{TxHash: entry.Transaction, Nonce: entry.Nonce}, nil)
		case entry.Success:
			c.complete(it, Result{}, errors.New("settle batch: success without transaction hash"))
		default:
			reason := entry.Error
			if reason == "" {
				reason = "unknown"
			}
			c.complete(it, Result{}, &FailedError{Stage: "settle", Reason: reason})
		}
	}
}

func (c *Coalescer) complete(it *item, result Result, err error) {
	it.once.Do(func() {
		it.done <- outcome{result: result, err: err}
	})
}

// QueueLen reports how many items wait for the next flush.
func (c *Coalescer) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// RunSweeper completes items that outlived staleAfter without being flushed,
// so no caller waits forever on a wedged facilitator. Blocks until ctx ends.
func (c *Coalescer) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Coalescer) sweep() {
	cutoff := time.Now().Add(-c.staleAfter)

	c.mu.Lock()
	var stale []*item
	kept := c.queue[:0]
	for _, it := range c.queue {
		if it.enqueuedAt.Before(cutoff) {
			stale = append(stale, it)
			delete(c.index, it.requestID)
		} else {
			kept = append(kept, it)
		}
	}
	c.queue = kept
	c.mu.Unlock()

	for _, it := range stale {
		c.complete(it, Result{}, ErrStale)
		c.log.Warn("settle item went stale",
			zap.String("request_id", it.requestID),
			zap.Time("enqueued_at", it.enqueuedAt))
	}
}

// Shutdown refuses new enqueues, waits out any in-progress flush, settles
// what it can synchronously, and completes the rest with ErrShuttingDown.
// Bounded by ctx throughout.
func (c *Coalescer) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.closing = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	for ctx.Err() == nil {
		c.mu.Lock()
		busy := c.processing
		c.mu.Unlock()
		if !busy {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	for ctx.Err() == nil {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			break
		}
		batch := c.takeBatchLocked()
		c.mu.Unlock()
		c.processBatch(ctx, batch)
	}

	c.mu.Lock()
	leftover := c.queue
	c.queue = nil
	for _, it := range leftover {
		delete(c.index, it.requestID)
	}
	c.mu.Unlock()

	for _, it := range leftover {
		c.complete(it, Result{}, ErrShuttingDown)
	}
	if len(leftover) > 0 {
		c.log.Warn("shutdown left settlements incomplete", zap.Int("items", len(leftover)))
	}
}
