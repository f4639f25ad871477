package x402

import "fmt"

// Network identifier strings.
const (
	NetworkCronosMainnet = "cronos-mainnet"
	NetworkCronosTestnet = "cronos-testnet"
)

// NetworkConfig holds per-network configuration: the chain id, the
// settlement asset, and the EIP-712 domain parameters registered by that
// asset's contract.
//
// The domain parameters are the single most fragile piece of the protocol.
// They must match what the token contract registered on-chain, not the
// token's display name: a single mismatched field invalidates every
// signature produced, silently, until settlement fails. They live only
// here and are covered by a signature fixture test.
type NetworkConfig struct {
	// Network is the network identifier string (e.g. "cronos-testnet").
	Network string

	// ChainID is the EVM chain id.
	ChainID int64

	// USDCAddress is the EIP-3009 compatible USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for the asset.
	Decimals uint8

	// EIP712Name is the EIP-712 domain parameter "name".
	EIP712Name string

	// EIP712Version is the EIP-712 domain parameter "version".
	EIP712Version string
}

// Predefined network configurations.
var (
	// CronosMainnet settles against Stargate-bridged USDC.e, the only
	// EIP-3009 compatible USDC on Cronos mainnet.
	//
	// The registered domain is "Bridged USDC (Stargate)" version "1" --
	// NOT "USD Coin" version "2" as on most other chains.
	CronosMainnet = NetworkConfig{
		Network:       NetworkCronosMainnet,
		ChainID:       25,
		USDCAddress:   "0xf951eC28187D9E5Ca673Da8FE6757E6f0Be5F77C",
		Decimals:      6,
		EIP712Name:    "Bridged USDC (Stargate)",
		EIP712Version: "1",
	}

	// CronosTestnet settles against devUSDC.e on Cronos testnet.
	CronosTestnet = NetworkConfig{
		Network:       NetworkCronosTestnet,
		ChainID:       338,
		USDCAddress:   "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0",
		Decimals:      6,
		EIP712Name:    "Bridged USDC (Stargate)",
		EIP712Version: "1",
	}
)

var networkByName = map[string]NetworkConfig{
	NetworkCronosMainnet: CronosMainnet,
	NetworkCronosTestnet: CronosTestnet,
}

// GetNetworkConfig returns the configuration for a network identifier.
// Returns ErrInvalidNetwork for unrecognized networks.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	cfg, ok := networkByName[network]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
	}
	return cfg, nil
}

// Validate checks that the configuration carries everything signing and
// challenge construction need.
func (c NetworkConfig) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("%w: network name is empty", ErrInvalidNetwork)
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("%w: chain id must be positive, got %d", ErrInvalidNetwork, c.ChainID)
	}
	if c.USDCAddress == "" {
		return fmt.Errorf("%w: asset address is empty", ErrInvalidNetwork)
	}
	if c.EIP712Name == "" || c.EIP712Version == "" {
		return fmt.Errorf("%w: EIP-712 domain parameters are empty", ErrInvalidNetwork)
	}
	return nil
}
