package x402

import "errors"

// Sentinel errors for payment operations.
var (
	// ErrMalformedHeader indicates the X-PAYMENT header could not be
	// decoded (invalid base64 or invalid JSON).
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrInvalidAmount indicates a price or amount string is not a valid
	// non-negative base-10 integer.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidNetwork indicates an unknown or unsupported network.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidRequirements indicates payment requirements are missing
	// required fields or are otherwise unusable.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrSigningFailed indicates the signing operation failed.
	ErrSigningFailed = errors.New("x402: payment signing failed")

	// ErrNoValidSigner indicates no configured signer can satisfy the
	// payment requirements.
	ErrNoValidSigner = errors.New("x402: no signer can satisfy payment requirements")

	// ErrBudgetExceeded indicates a spend would exceed the session budget.
	ErrBudgetExceeded = errors.New("x402: payment would exceed budget")

	// ErrFacilitatorUnavailable indicates the facilitator could not be
	// reached after exhausting the retry budget.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrProtocolDecode indicates the facilitator returned a response this
	// client could not interpret.
	ErrProtocolDecode = errors.New("x402: undecodable facilitator response")

	// ErrVerificationRejected indicates the facilitator rejected the
	// payment on verify. Never retried: the authorization itself is bad.
	ErrVerificationRejected = errors.New("x402: payment verification rejected")

	// ErrSettlementFailed indicates the facilitator reported
	// payment.failed. Terminal for the payload; a retry needs a fresh
	// nonce and validity window.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")
)

// ErrorCode classifies payment errors for programmatic handling.
type ErrorCode string

const (
	ErrCodeMalformedHeader        ErrorCode = "MALFORMED_HEADER"
	ErrCodeInvalidRequirements    ErrorCode = "INVALID_REQUIREMENTS"
	ErrCodeBudgetExceeded         ErrorCode = "BUDGET_EXCEEDED"
	ErrCodeSigningFailed          ErrorCode = "SIGNING_FAILED"
	ErrCodeFacilitatorUnavailable ErrorCode = "FACILITATOR_UNAVAILABLE"
	ErrCodeVerificationRejected   ErrorCode = "VERIFICATION_REJECTED"
	ErrCodeSettlementFailed       ErrorCode = "SETTLEMENT_FAILED"
)

// PaymentError provides structured error information alongside the
// sentinel it wraps.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Reason carries the facilitator's invalidReason or errorReason when
	// one was reported.
	Reason string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a PaymentError wrapping err.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

// WithReason attaches a facilitator-reported reason code to the error.
func (e *PaymentError) WithReason(reason string) *PaymentError {
	e.Reason = reason
	return e
}
