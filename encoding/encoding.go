// Package encoding serializes x402 payment data for transport: payloads
// for the X-PAYMENT request header and settlements for the
// X-PAYMENT-RESPONSE response header, as base64-encoded JSON.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	x402 "github.com/ismail-169/cronos-mcp"
)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for the X-PAYMENT header. Encoding is a pure function of the
// payload's fields; the asset field is always serialized because
// ExactEVMPayload carries it without omitempty.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	data, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayment converts a base64-encoded JSON string back to a
// PaymentPayload. Any decode failure -- invalid base64 or invalid JSON --
// is reported as an ErrMalformedHeader-wrapped error, never a panic.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("%w: invalid base64: %v", x402.ErrMalformedHeader, err)
	}

	if err := json.Unmarshal(data, &payment); err != nil {
		return payment, fmt.Errorf("%w: invalid JSON: %v", x402.ErrMalformedHeader, err)
	}

	return payment, nil
}

// EncodeSettlement converts a SettleResponse to a base64-encoded JSON
// string for the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement x402.SettleResponse) (string, error) {
	data, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement converts a base64-encoded JSON string back to a
// SettleResponse.
func DecodeSettlement(encoded string) (x402.SettleResponse, error) {
	var settlement x402.SettleResponse

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("%w: invalid base64: %v", x402.ErrMalformedHeader, err)
	}

	if err := json.Unmarshal(data, &settlement); err != nil {
		return settlement, fmt.Errorf("%w: invalid JSON: %v", x402.ErrMalformedHeader, err)
	}

	return settlement, nil
}
