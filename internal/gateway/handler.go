// Package gateway is the HTTP surface of the mint service: the payment
// admission pipeline on /mint, capacity and abuse inspection, and health
// probes. Every request walks a strictly ordered pipeline; once capacity has
// been reserved, every failure path releases it before responding.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xbsc-402/x402-backend/internal/abuse"
	"github.com/xbsc-402/x402-backend/internal/capacity"
	"github.com/xbsc-402/x402-backend/internal/config"
	"github.com/xbsc-402/x402-backend/internal/facilitator"
	"github.com/xbsc-402/x402-backend/internal/kvpool"
	"github.com/xbsc-402/x402-backend/internal/payment"
	"github.com/xbsc-402/x402-backend/internal/settle"
)

const (
	maxRecipients  = 100
	releaseTimeout = 5 * time.Second
)

// MintRequest is the POST /mint body.
type MintRequest struct {
	TokenAddress string   `json:"tokenAddress"`
	Recipients   []string `json:"recipients"`
}

// Deps are the collaborators the handler drives.
type Deps struct {
	Pool        *kvpool.Pool
	Detector    *abuse.Detector
	Capacity    *capacity.Manager
	Deadlines   *capacity.DeadlineCache
	Facilitator *facilitator.Client
	Coalescer   *settle.Coalescer
}

// Handler mounts the payment-gated mint surface onto a Gin engine.
type Handler struct {
	cfg        *config.Config
	pool       *kvpool.Pool
	detector   *abuse.Detector
	capacity   *capacity.Manager
	deadlines  *capacity.DeadlineCache
	fac        *facilitator.Client
	coalescer  *settle.Coalescer
	settleWait time.Duration
	log        *zap.Logger
}

func NewHandler(cfg *config.Config, d Deps, log *zap.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		pool:       d.Pool,
		detector:   d.Detector,
		capacity:   d.Capacity,
		deadlines:  d.Deadlines,
		fac:        d.Facilitator,
		coalescer:  d.Coalescer,
		settleWait: time.Duration(cfg.Facilitator.SettleTimeoutSec) * time.Second,
		log:        log,
	}
}

// Register mounts all routes. CORS applies to the whole engine so the 402
// handshake headers survive browser preflight on every path.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(CORS())

	r.POST("/mint", h.handleMint)
	r.POST("/internal/mint/:secret", h.handleInternalMint)

	r.GET("/capacity/:tokenAddress", h.handleCapacity)

	r.GET("/abuse/stats/:identifier", h.handleAbuseStats)
	r.POST("/abuse/ban", h.handleBan)
	r.POST("/abuse/unban", h.handleUnban)
	r.POST("/abuse/whitelist/add", h.handleWhitelistAdd)
	r.POST("/abuse/whitelist/remove", h.handleWhitelistRemove)

	r.GET("/health", h.handleHealth)
	r.GET("/payment/health", h.handlePaymentHealth)
	r.GET("/kv/health", h.handleKVHealth)
}

// ── Mint pipeline ───────────────────────────────────────────────────────────

func (h *Handler) handleMint(c *gin.Context) {
	h.mint(c, false)
}

// handleInternalMint serves the hidden path. The path segment is the
// credential; a mismatch answers like any unknown route so the path cannot
// be probed apart from a 404.
func (h *Handler) handleInternalMint(c *gin.Context) {
	secret := h.cfg.Server.InternalMintSecret
	if secret == "" || subtle.ConstantTimeCompare([]byte(c.Param("secret")), []byte(secret)) != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.mint(c, true)
}

func (h *Handler) mint(c *gin.Context, hidden bool) {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, malformed("Invalid request body"))
		return
	}
	req.TokenAddress = strings.TrimSpace(req.TokenAddress)
	if req.TokenAddress == "" || !common.IsHexAddress(req.TokenAddress) {
		writeError(c, malformed("Invalid token address"))
		return
	}
	if n := len(req.Recipients); n < 1 || n > maxRecipients {
		writeError(c, malformed("recipients must contain between 1 and 100 entries"))
		return
	}

	// Hidden-path callers can additionally be pinned to the whitelist.
	if hidden && h.cfg.Abuse.InternalWhitelist {
		ok, err := h.detector.IsWhitelisted(ctx, abuse.IPID(ip))
		if err != nil {
			writeError(c, dependencyDown("Abuse store unavailable"))
			return
		}
		if !ok {
			writeError(c, unauthorized("Forbidden"))
			return
		}
	}

	expired, deadline, err := h.deadlines.IsTokenExpired(ctx, req.TokenAddress)
	if err != nil {
		h.log.Error("deadline read failed", zap.String("token", req.TokenAddress), zap.Error(err))
		writeError(c, dependencyDown("Token state unavailable"))
		return
	}
	if expired {
		// Hammering an expired token is metered on its own identifier so the
		// ban does not clip the caller's regular traffic.
		d := h.detector.RecordRequest(ctx, abuse.ExpiredID(ip))
		e := &apiError{kind: errTokenExpired, msg: "Token deployment period has ended", deadline: deadline}
		if !d.Allowed {
			e.minimal = true
		}
		writeError(c, e)
		return
	}

	challenge := payment.NewChallenge(h.cfg.Payment, req.TokenAddress)
	header := c.GetHeader(payment.HeaderPayment)
	if header == "" {
		writeError(c, &apiError{kind: errPaymentChallenge, msg: "Payment required", challenge: &challenge})
		return
	}

	auth, err := payment.DecodeAuthorization(header)
	if err != nil {
		writeError(c, malformed("Invalid payment header"))
		return
	}
	requirement := challenge.Requirement(requestResource(c))

	vres, err := h.fac.Verify(ctx, auth.Raw, requirement)
	if err != nil {
		h.detector.RecordRequest(ctx, abuse.IPID(ip))
		var fe *facilitator.Error
		if errors.As(err, &fe) && strings.Contains(fe.Body, facilitator.ReasonMempoolCapacityExceeded) {
			writeError(c, &apiError{
				kind:   errPaymentInvalid,
				msg:    "Payment verification failed",
				reason: facilitator.ReasonMempoolCapacityExceeded,
			})
			return
		}
		h.log.Error("facilitator verify failed", zap.Error(err))
		writeError(c, internalError("Payment verification failed"))
		return
	}
	if !vres.IsValid {
		h.detector.RecordRequest(ctx, abuse.IPID(ip))
		reason := vres.Reason
		if reason == "" {
			reason = vres.Message
		}
		writeError(c, &apiError{kind: errPaymentInvalid, msg: "Payment verification failed", reason: reason})
		return
	}

	if !hidden {
		d := h.detector.RecordRequest(ctx, abuse.IPID(ip))
		if !d.Allowed {
			writeError(c, &apiError{kind: errRateLimited, msg: "Too many requests", retryAfter: d.RetryAfter})
			return
		}
	}

	n := int64(len(req.Recipients))
	if _, err := h.capacity.Check(ctx, req.TokenAddress, n); err != nil {
		var ce *capacity.ExceededError
		if errors.As(err, &ce) {
			writeError(c, &apiError{
				kind:      errCapacityExceeded,
				msg:       "Mint capacity exceeded",
				info:      &ce.Info,
				requested: int(ce.Requested),
			})
			return
		}
		h.log.Error("capacity check failed", zap.String("token", req.TokenAddress), zap.Error(err))
		writeError(c, dependencyDown("Capacity check failed"))
		return
	}

	if err := h.capacity.Reserve(ctx, req.TokenAddress, n); err != nil {
		h.log.Error("capacity reserve failed", zap.String("token", req.TokenAddress), zap.Error(err))
		writeError(c, dependencyDown("Capacity reservation failed"))
		return
	}

	settleCtx, cancel := context.WithTimeout(ctx, h.settleWait)
	defer cancel()
	res, err := h.coalescer.Enqueue(settleCtx, uuid.NewString(), auth.Raw, requirement)
	if err != nil {
		h.release(req.TokenAddress, n)
		h.log.Warn("settlement failed",
			zap.String("token", req.TokenAddress), zap.String("payer", auth.Payer()), zap.Error(err))
		writeError(c, settleError(err))
		return
	}

	// The mint side effect is a downstream follow-up; holding the reservation
	// past settlement would only inflate the pending counter.
	h.release(req.TokenAddress, n)

	c.Header(payment.HeaderPaymentResponse,
		payment.EncodeReceipt(true, res.TxHash, h.cfg.Payment.Network, auth.Payer()))
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"paymentTxHash": res.TxHash,
		"recipients":    len(req.Recipients),
		"message":       "Payment settled",
	})
}

// settleError maps a coalescer failure onto the response sum.
func settleError(err error) *apiError {
	var fe *settle.FailedError
	switch {
	case errors.As(err, &fe):
		switch fe.Reason {
		case facilitator.ReasonMempoolCapacityExceeded:
			return &apiError{kind: errMalformed, msg: "Mint request rejected", reason: fe.Reason}
		case facilitator.ReasonChainQueryFailed:
			return &apiError{kind: errDependencyDown, msg: "Settlement failed", reason: fe.Reason}
		default:
			return &apiError{kind: errPaymentInvalid, msg: "Payment settlement failed", reason: fe.Reason}
		}
	case errors.Is(err, settle.ErrShuttingDown):
		return dependencyDown("Service shutting down")
	case errors.Is(err, settle.ErrEnqueueTimeout), errors.Is(err, settle.ErrStale):
		return internalError("Settlement timed out")
	default:
		return internalError("Settlement failed")
	}
}

// release returns reserved slots on a background context so compensation
// still runs when the request context has already expired.
func (h *Handler) release(token string, n int64) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := h.capacity.Release(ctx, token, n); err != nil {
		h.log.Warn("capacity release failed",
			zap.String("token", token), zap.Int64("count", n), zap.Error(err))
	}
}

// requestResource reconstructs the URL the payment is bound to.
func requestResource(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}

// ── Capacity ────────────────────────────────────────────────────────────────

func (h *Handler) handleCapacity(c *gin.Context) {
	token := c.Param("tokenAddress")
	if !common.IsHexAddress(token) {
		writeError(c, malformed("Invalid token address"))
		return
	}
	ctx := c.Request.Context()

	expired, deadline, err := h.deadlines.IsTokenExpired(ctx, token)
	if err != nil {
		writeError(c, dependencyDown("Token state unavailable"))
		return
	}
	if expired {
		writeError(c, &apiError{kind: errTokenExpired, msg: "Token deployment period has ended", deadline: deadline})
		return
	}

	info, err := h.capacity.Info(ctx, token)
	if err != nil {
		h.log.Error("capacity read failed", zap.String("token", token), zap.Error(err))
		writeError(c, dependencyDown("Capacity check failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"capacity": capacityBody(info)})
}

// capacityBody augments the raw counters with a utilization percentage,
// clamped to [0, 100] since pending drift can push the sum past max.
func capacityBody(info capacity.Info) gin.H {
	var pct float64
	if info.Max > 0 {
		used := float64(info.Current) + float64(info.Pending)
		pct = used / float64(info.Max) * 100
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return gin.H{
		"max":        info.Max,
		"current":    info.Current,
		"pending":    info.Pending,
		"available":  info.Available,
		"percentage": pct,
	}
}

// ── Abuse administration ────────────────────────────────────────────────────

type banRequest struct {
	Identifier      string `json:"identifier"`
	DurationSeconds int64  `json:"durationSeconds"`
	Reason          string `json:"reason"`
}

type identifierRequest struct {
	Identifier string `json:"identifier"`
}

func (h *Handler) handleAbuseStats(c *gin.Context) {
	st, err := h.detector.Stats(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		writeError(c, dependencyDown("Abuse store unavailable"))
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) handleBan(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Identifier == "" {
		writeError(c, malformed("identifier is required"))
		return
	}
	d := time.Duration(req.DurationSeconds) * time.Second
	if err := h.detector.Ban(c.Request.Context(), req.Identifier, d, req.Reason); err != nil {
		writeError(c, dependencyDown("Abuse store unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "identifier": req.Identifier})
}

func (h *Handler) handleUnban(c *gin.Context) {
	var req identifierRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Identifier == "" {
		writeError(c, malformed("identifier is required"))
		return
	}
	if err := h.detector.Unban(c.Request.Context(), req.Identifier); err != nil {
		writeError(c, dependencyDown("Abuse store unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "identifier": req.Identifier})
}

func (h *Handler) handleWhitelistAdd(c *gin.Context) {
	var req identifierRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Identifier == "" {
		writeError(c, malformed("identifier is required"))
		return
	}
	if err := h.detector.AddToWhitelist(c.Request.Context(), req.Identifier); err != nil {
		writeError(c, dependencyDown("Abuse store unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "identifier": req.Identifier})
}

func (h *Handler) handleWhitelistRemove(c *gin.Context) {
	var req identifierRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Identifier == "" {
		writeError(c, malformed("identifier is required"))
		return
	}
	if err := h.detector.RemoveFromWhitelist(c.Request.Context(), req.Identifier); err != nil {
		writeError(c, dependencyDown("Abuse store unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "identifier": req.Identifier})
}

// ── Health ──────────────────────────────────────────────────────────────────

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handlePaymentHealth(c *gin.Context) {
	if err := h.fac.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleKVHealth(c *gin.Context) {
	st := h.pool.Status()
	if err := h.pool.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "pool": st, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pool": st})
}
