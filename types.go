// Package x402 implements the x402 payment-authorization protocol used by
// CronosMCP tool servers: payment requirements, signed exact-EVM payment
// payloads, and the verify/settle outcomes reported by a facilitator.
//
// The package holds the protocol data model and network registry. Wire
// encoding lives in encoding/, signing in signers/evm, the facilitator
// client and HTTP surfaces in http/, and the server-side protocol state
// machine in gate/.
package x402

// X402Version is the protocol version spoken on the wire.
const X402Version = 1

// SchemeExact is the only payment scheme this module implements: the payer
// authorizes an exact EIP-3009 transfer which the facilitator settles.
const SchemeExact = "exact"

// DefaultMaxTimeoutSeconds is the validity window issued with a challenge
// when the operation does not specify one.
const DefaultMaxTimeoutSeconds = 300

// PaymentRequirements describes what a resource server will accept as
// payment for one priced operation. It is issued inside a 402 challenge and
// echoed back to the facilitator on verify/settle. Requirements are
// regenerated per request and must not be cached by servers, since price
// and resource can vary between calls.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier, always "exact".
	Scheme string `json:"scheme"`

	// Network is the network identifier string (e.g. "cronos-testnet").
	Network string `json:"network"`

	// MaxAmountRequired is the price in the asset's smallest unit, as a
	// base-10 string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource is the URI of the priced operation.
	Resource string `json:"resource"`

	// Description is a human-readable description of the operation.
	Description string `json:"description"`

	// MimeType is the content type of the operation's result.
	MimeType string `json:"mimeType"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds bounds the signature validity window the caller
	// may use.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Asset is the token contract address payments must be made in.
	Asset string `json:"asset"`

	// OutputSchema optionally carries a JSON schema for the result.
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`

	// Extra carries scheme-specific additional data.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// ExactEVMPayload is the signed authorization carried inside a
// PaymentPayload. The fields are flat, with no nested authorization
// object, and asset is always present: a payload without its asset cannot
// be settled by older facilitators and is the protocol's one known
// backward-compatibility trap.
type ExactEVMPayload struct {
	// From is the payer address.
	From string `json:"from"`

	// To is the recipient address.
	To string `json:"to"`

	// Value is the transfer amount in smallest units, base-10 string.
	Value string `json:"value"`

	// ValidAfter is the unix second from which the authorization is valid.
	ValidAfter int64 `json:"validAfter"`

	// ValidBefore is the unix second at which the authorization expires.
	ValidBefore int64 `json:"validBefore"`

	// Nonce is a single-use random 32-byte value, 0x-prefixed hex.
	Nonce string `json:"nonce"`

	// Signature is the EIP-712 signature over the authorization,
	// 0x-prefixed hex.
	Signature string `json:"signature"`

	// Asset is the token contract address the authorization is bound to.
	Asset string `json:"asset"`
}

// PaymentPayload is the value carried (base64-encoded) in the X-PAYMENT
// request header. It is created by the caller, consumed by the resource
// server for exactly one verify+settle cycle, and then discarded.
type PaymentPayload struct {
	// X402Version is the protocol version, always 1.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme, always "exact".
	Scheme string `json:"scheme"`

	// Network is the network identifier the payment targets.
	Network string `json:"network"`

	// Payload is the signed authorization.
	Payload ExactEVMPayload `json:"payload"`
}

// VerifyResponse is the facilitator's answer to a verify call. It is
// produced by the facilitator, never computed locally.
type VerifyResponse struct {
	// IsValid reports whether the payment authorization is valid.
	IsValid bool `json:"isValid"`

	// Payer is the authenticated payer address, set when valid.
	Payer string `json:"payer,omitempty"`

	// InvalidReason is one of the InvalidReason* codes, set when invalid.
	InvalidReason string `json:"invalidReason,omitempty"`
}

// Settlement event tags reported by the facilitator.
const (
	EventPaymentSettled = "payment.settled"
	EventPaymentFailed  = "payment.failed"
)

// SettleResponse is the facilitator's answer to a settle call.
type SettleResponse struct {
	// Event is "payment.settled" on success, "payment.failed" otherwise.
	Event string `json:"event"`

	// TxHash is the on-chain transaction hash, set on success.
	TxHash string `json:"txHash,omitempty"`

	// From is the payer address, set on success.
	From string `json:"from,omitempty"`

	// To is the recipient address, set on success.
	To string `json:"to,omitempty"`

	// Value is the settled amount in smallest units, set on success.
	Value string `json:"value,omitempty"`

	// BlockNumber is the block the transfer landed in, set on success.
	BlockNumber int64 `json:"blockNumber,omitempty"`

	// Network is the network the payment settled on.
	Network string `json:"network"`

	// Timestamp is the settlement time in unix seconds.
	Timestamp int64 `json:"timestamp"`

	// Error is the failure reason, set when Event is "payment.failed".
	Error string `json:"error,omitempty"`
}

// Settled reports whether the settlement succeeded.
func (s *SettleResponse) Settled() bool {
	return s != nil && s.Event == EventPaymentSettled
}

// PaymentRequired is the body of a 402 challenge. A challenge is not an
// error: it is the protocol step that tells the caller how to construct a
// valid payment. PaymentRequirements duplicates Accepts[0] for
// compatibility with single-option clients.
type PaymentRequired struct {
	Error               string                `json:"error"`
	PaymentRequirements *PaymentRequirements  `json:"paymentRequirements"`
	Accepts             []PaymentRequirements `json:"accepts"`
}

// PaymentInfo augments a successful paid response so callers can tell a
// paid result apart from a free one.
type PaymentInfo struct {
	// Amount is the settled price in smallest units.
	Amount string `json:"amount"`

	// TxHash is the settlement transaction hash.
	TxHash string `json:"txHash"`
}

// ToolResponse is the success body of a priced operation: the operation's
// result, plus payment details when a payment was settled.
type ToolResponse struct {
	Result  interface{}  `json:"result"`
	Payment *PaymentInfo `json:"payment,omitempty"`
}

// InvalidReason codes a facilitator may return on verify.
const (
	InvalidReasonInsufficientFunds          = "insufficient_funds"
	InvalidReasonInvalidScheme              = "invalid_scheme"
	InvalidReasonInvalidNetwork             = "invalid_network"
	InvalidReasonInvalidX402Version         = "invalid_x402_version"
	InvalidReasonInvalidPaymentRequirements = "invalid_payment_requirements"
	InvalidReasonInvalidPayload             = "invalid_payload"
	InvalidReasonAuthorizationValue         = "invalid_exact_evm_payload_authorization_value"
	InvalidReasonAuthorizationValueTooLow   = "invalid_exact_evm_payload_authorization_value_too_low"
	InvalidReasonAuthorizationValidAfter    = "invalid_exact_evm_payload_authorization_valid_after"
	InvalidReasonAuthorizationValidBefore   = "invalid_exact_evm_payload_authorization_valid_before"
	InvalidReasonAuthorizationTo            = "invalid_exact_evm_payload_authorization_to"
	InvalidReasonInvalidSignature           = "invalid_signature"
	InvalidReasonNonceAlreadyUsed           = "nonce_already_used"
	InvalidReasonAuthorizationExpired       = "authorization_expired"
	InvalidReasonSettlementFailed           = "settlement_failed"
)
