package x402

// Signer produces signed payment payloads from payment requirements.
// Implementations hold the caller's key material; signing performs no
// network I/O.
type Signer interface {
	// CanSign reports whether this signer can satisfy the requirements
	// (matching scheme and network).
	CanSign(requirements *PaymentRequirements) bool

	// Sign builds a fresh authorization for the requirements -- new random
	// nonce, new validity window -- and signs it. Each call produces a
	// payload usable for exactly one settlement attempt.
	Sign(requirements *PaymentRequirements) (*PaymentPayload, error)

	// Address returns the payer address the signer signs for.
	Address() string
}
