// Package evm implements the caller-side authorization signer for the
// exact scheme on EVM networks.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/internal/eip3009"
)

// Signer holds a private key and signs exact-scheme payment
// authorizations for one network. The EIP-712 domain parameters come from
// the NetworkConfig, never from the requirements: the server cannot be
// trusted to know what name/version the token contract registered.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    x402.NetworkConfig
	maxAmount  *big.Int
}

// Option configures a Signer.
type Option func(*Signer) error

// WithMaxAmount caps the per-payment amount the signer will authorize.
func WithMaxAmount(amount *big.Int) Option {
	return func(s *Signer) error {
		s.maxAmount = amount
		return nil
	}
}

// NewSigner creates a signer from a hex-encoded private key.
func NewSigner(network x402.NetworkConfig, privateKeyHex string, opts ...Option) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewSignerFromKey(network, privateKey, opts...)
}

// NewSignerFromKey creates a signer from an in-memory ECDSA key.
func NewSignerFromKey(network x402.NetworkConfig, key *ecdsa.PrivateKey, opts ...Option) (*Signer, error) {
	if err := network.Validate(); err != nil {
		return nil, err
	}

	s := &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		network:    network,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Address returns the payer address, 0x-prefixed.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Network returns the network configuration the signer is bound to.
func (s *Signer) Network() x402.NetworkConfig {
	return s.network
}

// CanSign reports whether the requirements name the scheme and network
// this signer serves.
func (s *Signer) CanSign(requirements *x402.PaymentRequirements) bool {
	if requirements == nil {
		return false
	}
	if requirements.Scheme != x402.SchemeExact {
		return false
	}
	return requirements.Network == s.network.Network
}

// Sign builds and signs a fresh authorization for the requirements. Each
// call generates a new random nonce and validity window, so the resulting
// payload is good for exactly one settlement attempt.
func (s *Signer) Sign(requirements *x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if !s.CanSign(requirements) {
		return nil, x402.ErrNoValidSigner
	}

	amount, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", x402.ErrInvalidAmount, requirements.MaxAmountRequired)
	}

	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, fmt.Errorf("%w: %s exceeds signer cap %s",
			x402.ErrBudgetExceeded, amount, s.maxAmount)
	}

	asset := requirements.Asset
	if asset == "" {
		return nil, fmt.Errorf("%w: requirements carry no asset", x402.ErrInvalidRequirements)
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}

	auth, err := eip3009.NewAuthorization(
		s.address,
		common.HexToAddress(requirements.PayTo),
		amount,
		timeout,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSigningFailed, err)
	}

	domain := eip3009.Domain{
		Name:              s.network.EIP712Name,
		Version:           s.network.EIP712Version,
		ChainID:           big.NewInt(s.network.ChainID),
		VerifyingContract: common.HexToAddress(asset),
	}

	signature, err := eip3009.Sign(s.privateKey, domain, auth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSigningFailed, err)
	}

	return &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     requirements.Network,
		Payload: x402.ExactEVMPayload{
			From:        s.address.Hex(),
			To:          common.HexToAddress(requirements.PayTo).Hex(),
			Value:       amount.String(),
			ValidAfter:  auth.ValidAfter.Int64(),
			ValidBefore: auth.ValidBefore.Int64(),
			Nonce:       auth.NonceHex(),
			Signature:   signature,
			Asset:       asset,
		},
	}, nil
}
