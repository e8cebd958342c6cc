package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xbsc-402/x402-backend/internal/payment"
)

// CORS opens the payment negotiation to browser clients. The 402 handshake
// only works if the client can read the custom payment headers, so they are
// exposed explicitly.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+payment.HeaderPayment)
		c.Header("Access-Control-Expose-Headers", payment.HeaderPaymentOptions+", "+payment.HeaderPaymentResponse)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
