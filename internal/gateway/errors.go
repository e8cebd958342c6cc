package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xbsc-402/x402-backend/internal/capacity"
	"github.com/xbsc-402/x402-backend/internal/payment"
)

// errKind enumerates the admission pipeline outcomes that end a request.
// Each kind owns one HTTP status and the body fields it renders with.
type errKind int

const (
	errMalformed errKind = iota
	errUnauthorized
	errTokenExpired
	errPaymentChallenge
	errPaymentInvalid
	errRateLimited
	errCapacityExceeded
	errDependencyDown
	errInternal
)

// apiError is the pipeline's error sum. reason carries the facilitator's
// machine-readable reason verbatim when one exists.
type apiError struct {
	kind    errKind
	msg     string
	reason  string
	minimal bool // TokenExpired only: suppress the deadline detail

	retryAfter time.Duration      // RateLimited
	challenge  *payment.Challenge // PaymentChallenge
	info       *capacity.Info     // CapacityExceeded
	requested  int                // CapacityExceeded
	deadline   uint64             // TokenExpired
}

func (e *apiError) Error() string {
	if e.reason != "" {
		return e.msg + ": " + e.reason
	}
	return e.msg
}

func (e *apiError) status() int {
	switch e.kind {
	case errMalformed:
		return http.StatusBadRequest
	case errUnauthorized:
		return http.StatusForbidden
	case errTokenExpired:
		return http.StatusGone
	case errPaymentChallenge, errPaymentInvalid:
		return http.StatusPaymentRequired
	case errRateLimited, errCapacityExceeded:
		return http.StatusTooManyRequests
	case errDependencyDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the error's status, headers, and JSON body.
func writeError(c *gin.Context, e *apiError) {
	switch e.kind {
	case errPaymentChallenge:
		c.Header(payment.HeaderPaymentOptions, e.challenge.OptionsHeader())
		c.JSON(e.status(), e.challenge.Body())
	case errTokenExpired:
		body := gin.H{"error": e.msg}
		if !e.minimal {
			body["deadline"] = e.deadline
			body["secondsPastDeadline"] = uint64(time.Now().Unix()) - e.deadline
		}
		c.JSON(e.status(), body)
	case errRateLimited:
		sec := int(e.retryAfter / time.Second)
		if sec < 1 {
			sec = 1
		}
		c.Header("Retry-After", strconv.Itoa(sec))
		c.JSON(e.status(), gin.H{"error": e.msg, "retryAfter": sec})
	case errCapacityExceeded:
		c.JSON(e.status(), gin.H{"error": e.msg, "capacity": e.info, "requested": e.requested})
	default:
		body := gin.H{"error": e.msg}
		if e.reason != "" {
			body["reason"] = e.reason
		}
		c.JSON(e.status(), body)
	}
}

func malformed(msg string) *apiError {
	return &apiError{kind: errMalformed, msg: msg}
}

func unauthorized(msg string) *apiError {
	return &apiError{kind: errUnauthorized, msg: msg}
}

func dependencyDown(msg string) *apiError {
	return &apiError{kind: errDependencyDown, msg: msg}
}

func internalError(msg string) *apiError {
	return &apiError{kind: errInternal, msg: msg}
}
