package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/facilitator"
	"github.com/ismail-169/cronos-mcp/gate"
	"github.com/ismail-169/cronos-mcp/http/internal/helpers"
	"github.com/ismail-169/cronos-mcp/ledger"
)

// MiddlewareConfig holds the configuration for the payment middleware.
type MiddlewareConfig struct {
	// FacilitatorURL is the facilitator endpoint. Ignored when Facilitator
	// is set.
	FacilitatorURL string

	// Facilitator overrides the default facilitator client.
	Facilitator facilitator.Interface

	// Network selects the chain and asset payments are requested on.
	Network x402.NetworkConfig

	// PayTo is the address that receives payments.
	PayTo string

	// Operation prices the wrapped handler.
	Operation x402.Operation

	// Ledger records settlements. A fresh ledger is created when nil.
	Ledger *ledger.Ledger

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for storing verified payment information.
const PaymentContextKey = contextKey("x402_payment")

// NewPaymentMiddleware wraps an HTTP handler with payment gating.
//
// The wrapped handler only ever runs after its payment has settled (or
// immediately, when the operation is free). There is no settle-on-success
// interception: a request that cannot pay never reaches the handler.
func NewPaymentMiddleware(config MiddlewareConfig) func(http.Handler) http.Handler {
	fac := config.Facilitator
	if fac == nil {
		fac = NewFacilitatorClient(config.FacilitatorURL)
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

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paymentHeader := r.Header.Get("X-PAYMENT")
			resource := helpers.BuildResourceURL(r)

			result, err := g.Process(r.Context(), gate.Operation{Operation: config.Operation}, paymentHeader, resource)
			if err != nil {
				if result != nil && result.State == gate.StateExecuted {
					// The payment settled before the failure. Keep the
					// settlement visible and report a tool-level failure,
					// not a payment-rail outage.
					if result.Settle != nil {
						if headerErr := helpers.AddPaymentResponseHeader(w, result.Settle); headerErr != nil {
							logger.Warn("failed to add payment response header", "error", headerErr)
						}
					}
					logger.Error("execution failed after settlement", "error", err)
					http.Error(w, "Execution failed after payment settled", http.StatusInternalServerError)
					return
				}
				WriteProtocolError(w, logger, err)
				return
			}

			switch result.State {
			case gate.StateChallenged:
				if err := helpers.SendPaymentRequired(w, result.Challenge); err != nil {
					logger.Error("failed to send payment required response", "error", err)
				}
				return

			case gate.StateRejected:
				challenge := &x402.PaymentRequired{Error: result.Verify.InvalidReason}
				if err := helpers.SendPaymentRequired(w, challenge); err != nil {
					logger.Error("failed to send payment required response", "error", err)
				}
				return

			case gate.StateSettlementFailed:
				challenge := &x402.PaymentRequired{Error: result.Settle.Error}
				if err := helpers.SendPaymentRequired(w, challenge); err != nil {
					logger.Error("failed to send payment required response", "error", err)
				}
				return
			}

			// Payment settled (or the operation is free). Attach settlement
			// details before the handler starts writing.
			if result.Settle != nil {
				if err := helpers.AddPaymentResponseHeader(w, result.Settle); err != nil {
					logger.Warn("failed to add payment response header", "error", err)
				}
			}
			if result.Verify != nil {
				ctx := context.WithValue(r.Context(), PaymentContextKey, result.Verify)
				r = r.WithContext(ctx)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteProtocolError maps a protocol-plumbing error to an HTTP status:
// malformed input is the caller's fault (400), everything else means the
// payment rail is unavailable (503).
func WriteProtocolError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, x402.ErrMalformedHeader), errors.Is(err, x402.ErrInvalidAmount):
		logger.Warn("invalid payment header", "error", err)
		http.Error(w, "Invalid payment header", http.StatusBadRequest)
	case errors.Is(err, x402.ErrInvalidRequirements):
		logger.Error("invalid payment requirements", "error", err)
		http.Error(w, "Payment configuration error", http.StatusInternalServerError)
	default:
		logger.Error("facilitator unavailable", "error", err)
		http.Error(w, "Payment processing unavailable", http.StatusServiceUnavailable)
	}
}

// GetPaymentFromContext extracts the verified payment information from the
// request context. Returns nil if no payment was verified.
func GetPaymentFromContext(ctx context.Context) *x402.VerifyResponse {
	value := ctx.Value(PaymentContextKey)
	if value == nil {
		return nil
	}
	resp, ok := value.(*x402.VerifyResponse)
	if !ok {
		return nil
	}
	return resp
}
