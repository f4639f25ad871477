// Package validation checks payment requirements and payloads at the
// protocol boundary, before any signing or network call is made.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	x402 "github.com/ismail-169/cronos-mcp"
)

var (
	// evmAddressRegex matches 0x-prefixed 20-byte hex addresses.
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// nonceRegex matches 0x-prefixed 32-byte hex nonces.
	nonceRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

	// signatureRegex matches 0x-prefixed 65-byte hex signatures.
	signatureRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{130}$`)
)

// ValidateAmount checks that amount is a non-negative base-10 integer.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("%w: amount is empty", x402.ErrInvalidAmount)
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("%w: %q", x402.ErrInvalidAmount, amount)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("%w: negative amount %q", x402.ErrInvalidAmount, amount)
	}
	return nil
}

// ValidateAddress checks that address is a well-formed EVM address.
func ValidateAddress(address string) error {
	if !evmAddressRegex.MatchString(address) {
		return fmt.Errorf("%w: invalid address %q", x402.ErrInvalidRequirements, address)
	}
	return nil
}

// ValidateRequirements checks that requirements carry every field a
// payment needs. Called before issuing a challenge and before forwarding
// requirements to the facilitator.
func ValidateRequirements(req *x402.PaymentRequirements) error {
	if req == nil {
		return fmt.Errorf("%w: requirements are nil", x402.ErrInvalidRequirements)
	}
	if req.Scheme != x402.SchemeExact {
		return fmt.Errorf("%w: unsupported scheme %q", x402.ErrInvalidRequirements, req.Scheme)
	}
	if req.Network == "" {
		return fmt.Errorf("%w: network is empty", x402.ErrInvalidRequirements)
	}
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return err
	}
	if err := ValidateAddress(req.PayTo); err != nil {
		return fmt.Errorf("payTo: %w", err)
	}
	if err := ValidateAddress(req.Asset); err != nil {
		return fmt.Errorf("asset: %w", err)
	}
	if req.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: maxTimeoutSeconds must be positive", x402.ErrInvalidRequirements)
	}
	return nil
}

// ValidatePayload checks a decoded payment payload's shape. Malformed
// payloads are rejected here, before the facilitator is contacted.
func ValidatePayload(payment *x402.PaymentPayload) error {
	if payment == nil {
		return fmt.Errorf("%w: payload is nil", x402.ErrMalformedHeader)
	}
	if payment.X402Version != x402.X402Version {
		return fmt.Errorf("%w: unsupported version %d", x402.ErrMalformedHeader, payment.X402Version)
	}
	if payment.Scheme != x402.SchemeExact {
		return fmt.Errorf("%w: unsupported scheme %q", x402.ErrMalformedHeader, payment.Scheme)
	}
	if payment.Network == "" {
		return fmt.Errorf("%w: network is empty", x402.ErrMalformedHeader)
	}

	p := &payment.Payload
	if err := ValidateAddress(p.From); err != nil {
		return fmt.Errorf("%w: from: %v", x402.ErrMalformedHeader, err)
	}
	if err := ValidateAddress(p.To); err != nil {
		return fmt.Errorf("%w: to: %v", x402.ErrMalformedHeader, err)
	}
	if err := ValidateAmount(p.Value); err != nil {
		return fmt.Errorf("%w: value: %v", x402.ErrMalformedHeader, err)
	}
	if p.ValidBefore <= p.ValidAfter {
		return fmt.Errorf("%w: empty validity window", x402.ErrMalformedHeader)
	}
	if !nonceRegex.MatchString(p.Nonce) {
		return fmt.Errorf("%w: malformed nonce", x402.ErrMalformedHeader)
	}
	if !signatureRegex.MatchString(p.Signature) {
		return fmt.Errorf("%w: malformed signature", x402.ErrMalformedHeader)
	}
	if p.Asset == "" {
		return fmt.Errorf("%w: payload carries no asset", x402.ErrMalformedHeader)
	}
	return nil
}
