// Package facilitator is the HTTP client for the downstream settlement
// facilitator, the service that verifies transfer authorizations and relays
// them on-chain.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xbsc-402/x402-backend/internal/config"
	"github.com/xbsc-402/x402-backend/internal/payment"
)

const errorBodyLimit = 4096

// Machine-readable reasons the facilitator attaches to refusals. The HTTP
// layer gives these dedicated status codes.
const (
	ReasonMempoolCapacityExceeded = "mempool_capacity_exceeded"
	ReasonChainQueryFailed        = "chain_query_failed"
)

var (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// Error is a non-2xx facilitator reply.
type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("facilitator %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// VerifyResult is the facilitator's judgement of one authorization.
type VerifyResult struct {
	IsValid            bool   `json:"isValid"`
	Reason             string `json:"reason,omitempty"`
	Message            string `json:"message,omitempty"`
	ActiveTransactions int    `json:"activeTransactions,omitempty"`
	MaxCapacity        int    `json:"maxCapacity,omitempty"`
}

// BatchItem pairs one raw authorization with its requirement.
type BatchItem struct {
	PaymentPayload      json.RawMessage     `json:"paymentPayload"`
	PaymentRequirements payment.Requirement `json:"paymentRequirements"`
}

// BatchEntry is the facilitator's outcome for the item at the same index.
type BatchEntry struct {
	Index       int    `json:"index"`
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Nonce       uint64 `json:"nonce"`
	Error       string `json:"error,omitempty"`
}

// BatchResult is the /settle/batch response.
type BatchResult struct {
	Success        bool         `json:"success"`
	Results        []BatchEntry `json:"results"`
	TotalSubmitted int          `json:"totalSubmitted"`
	TotalSuccess   int          `json:"totalSuccess"`
	TotalFailed    int          `json:"totalFailed"`
}

type verifyRequest struct {
	PaymentPayload      json.RawMessage     `json:"paymentPayload"`
	PaymentRequirements payment.Requirement `json:"paymentRequirements"`
}

type batchRequest struct {
	Items               []BatchItem `json:"items"`
	WaitForConfirmation bool        `json:"waitForConfirmation"`
}

// Client talks to the facilitator. Verify and Health are retried with capped
// backoff because they are idempotent; SettleBatch is never retried here, a
// duplicate submit of the same nonce would be refused downstream and turn a
// transport blip into a spurious payment failure.
type Client struct {
	baseURL       string
	http          *http.Client
	timeout       time.Duration
	verifyTimeout time.Duration
	settleTimeout time.Duration
	maxRetries    int
	log           *zap.Logger
}

func NewClient(cfg config.FacilitatorConfig, maxRetries int, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		// Deadlines are per operation via context, not per client.
		http:          &http.Client{},
		timeout:       time.Duration(cfg.TimeoutSec) * time.Second,
		verifyTimeout: time.Duration(cfg.VerifyTimeoutSec) * time.Second,
		settleTimeout: time.Duration(cfg.SettleTimeoutSec) * time.Second,
		maxRetries:    maxRetries,
		log:           log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func newError(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return &Error{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// retryable: transport errors and 5xx replies may clear up, anything the
// facilitator answered on purpose will not.
func retryable(err error) bool {
	if facErr, ok := err.(*Error); ok {
		return facErr.StatusCode >= 500
	}
	return true
}

// withRetry runs fn once plus up to maxRetries more times with doubling,
// capped, jittered delays.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := retryBaseDelay
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff + time.Duration(rand.Int63n(int64(backoff)/2))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff *= 2; backoff > retryMaxDelay {
				backoff = retryMaxDelay
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		c.log.Warn("facilitator call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}

// Verify asks the facilitator to validate one authorization against its
// requirement. A semantic rejection comes back as a result with
// IsValid=false, not as an error.
func (c *Client) Verify(ctx context.Context, payload json.RawMessage, requirement payment.Requirement) (*VerifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	var result *VerifyResult
	err := c.withRetry(ctx, "verify", func() error {
		resp, err := c.do(ctx, http.MethodPost, "/verify", verifyRequest{
			PaymentPayload:      payload,
			PaymentRequirements: requirement,
		})
		if err != nil {
			return fmt.Errorf("facilitator verify: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return newError("verify", resp)
		}
		var v VerifyResult
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return fmt.Errorf("facilitator verify: decode: %w", err)
		}
		result = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SettleBatch submits the items for on-chain settlement and waits for
// confirmation. Exactly one attempt.
func (c *Client) SettleBatch(ctx context.Context, items []BatchItem) (*BatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.settleTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/settle/batch", batchRequest{
		Items:               items,
		WaitForConfirmation: true,
	})
	if err != nil {
		return nil, fmt.Errorf("facilitator settle batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newError("settle/batch", resp)
	}
	var result BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("facilitator settle batch: decode: %w", err)
	}
	return &result, nil
}

// Health probes the facilitator.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.withRetry(ctx, "health", func() error {
		resp, err := c.do(ctx, http.MethodGet, "/health", nil)
		if err != nil {
			return fmt.Errorf("facilitator health: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return newError("health", resp)
		}
		return nil
	})
}
