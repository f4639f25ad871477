// Package facilitator defines the boundary to the trusted third party
// that validates signed payment authorizations and executes the
// corresponding on-chain transfers.
package facilitator

import (
	"context"

	x402 "github.com/ismail-169/cronos-mcp"
)

// VerifyRequest is the body of POST /verify. The payment travels as the
// opaque base64 header value, exactly as received from the caller.
type VerifyRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentHeader       string                   `json:"paymentHeader"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the body of POST /settle, identical in shape to
// VerifyRequest.
type SettleRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentHeader       string                   `json:"paymentHeader"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// Interface is implemented by facilitator clients.
//
// Verify and Settle never retry protocol-level rejections: a well-formed
// isValid=false or payment.failed response is returned to the caller
// immediately with its reason intact. Only transport faults consume the
// retry budget.
type Interface interface {
	// Verify asks the facilitator whether the payment authorization in
	// paymentHeader is valid against the requirements.
	Verify(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error)

	// Settle asks the facilitator to execute the authorized transfer
	// on-chain. A payment.failed outcome is terminal for this payload;
	// retrying the payment needs a freshly signed one.
	Settle(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) (*x402.SettleResponse, error)

	// Health reports best-effort facilitator liveness. All errors are
	// swallowed as "unhealthy".
	Health(ctx context.Context) bool
}
