// Package gin provides Gin-compatible middleware for payment gating.
// It is a thin adapter that translates gin.Context to the gate package's
// state machine; all verification and settlement logic lives there.
package gin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/gate"
	x402http "github.com/ismail-169/cronos-mcp/http"
	"github.com/ismail-169/cronos-mcp/http/internal/helpers"
	"github.com/ismail-169/cronos-mcp/ledger"
)

// Config is an alias for the net/http middleware config for convenience.
type Config = x402http.MiddlewareConfig

// PaymentContextKey is the gin context key for storing verified payment
// information.
const PaymentContextKey = "x402_payment"

// NewPaymentMiddleware creates a payment middleware for Gin.
//
// The middleware runs the full protocol before the handler chain: it
// challenges unpaid requests with 402, verifies and settles attached
// payments, records settlements, and only then calls c.Next(). Payment
// failures abort the chain.
func NewPaymentMiddleware(config Config) gin.HandlerFunc {
	fac := config.Facilitator
	if fac == nil {
		fac = x402http.NewFacilitatorClient(config.FacilitatorURL)
	}
	led := config.Ledger
	if led == nil {
		led = ledger.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &gate.Gate{
		Facilitator: fac,
		Ledger:      led,
		Network:     config.Network,
		PayTo:       config.PayTo,
		Logger:      logger,
	}

	return func(c *gin.Context) {
		paymentHeader := c.GetHeader("X-PAYMENT")
		resource := helpers.BuildResourceURL(c.Request)

		result, err := g.Process(c.Request.Context(), gate.Operation{Operation: config.Operation}, paymentHeader, resource)
		if err != nil {
			if result != nil && result.State == gate.StateExecuted {
				// The payment settled before the failure. Keep the
				// settlement visible and report a tool-level failure.
				if result.Settle != nil {
					if headerErr := helpers.AddPaymentResponseHeader(c.Writer, result.Settle); headerErr != nil {
						logger.Warn("failed to add payment response header", "error", headerErr)
					}
				}
				logger.Error("execution failed after settlement", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "execution failed after payment settled",
					"payment": result.Payment,
				})
				return
			}
			abortWithProtocolError(c, logger, err)
			return
		}

		switch result.State {
		case gate.StateChallenged:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, result.Challenge)
			return

		case gate.StateRejected:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.PaymentRequired{
				Error: result.Verify.InvalidReason,
			})
			return

		case gate.StateSettlementFailed:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.PaymentRequired{
				Error: result.Settle.Error,
			})
			return
		}

		if result.Settle != nil {
			if err := helpers.AddPaymentResponseHeader(c.Writer, result.Settle); err != nil {
				logger.Warn("failed to add payment response header", "error", err)
			}
		}
		if result.Verify != nil {
			c.Set(PaymentContextKey, result.Verify)
			ctx := context.WithValue(c.Request.Context(), x402http.PaymentContextKey, result.Verify)
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()
	}
}

func abortWithProtocolError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, x402.ErrMalformedHeader), errors.Is(err, x402.ErrInvalidAmount):
		logger.Warn("invalid payment header", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"x402Version": x402.X402Version,
			"error":       "Invalid payment header",
		})
	case errors.Is(err, x402.ErrInvalidRequirements):
		logger.Error("invalid payment requirements", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"x402Version": x402.X402Version,
			"error":       "Payment configuration error",
		})
	default:
		logger.Error("payment processing failed", "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"x402Version": x402.X402Version,
			"error":       "Payment processing unavailable",
		})
	}
}

// GetPaymentFromContext extracts the verified payment information from the
// Gin context. Returns nil if no payment was verified.
func GetPaymentFromContext(c *gin.Context) *x402.VerifyResponse {
	value, exists := c.Get(PaymentContextKey)
	if !exists {
		return nil
	}
	resp, ok := value.(*x402.VerifyResponse)
	if !ok {
		return nil
	}
	return resp
}
