// Package network holds the gateway's static, immutable-after-load
// network registry: chain family, chain id, USDC asset identifier,
// and EIP-712 domain parameters per configured network.
package network

import (
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/oysterprotocol/x402-gateway/internal/config"
)

// ChainFamily tags which family a network belongs to.
type ChainFamily string

const (
	FamilyEVM    ChainFamily = "evm"
	FamilySolana ChainFamily = "solana"
)

// EIP712Domain carries the Authorization message's signing domain.
type EIP712Domain struct {
	Name    string
	Version string
}

// Descriptor is one entry of the registry: a network's immutable
// chain parameters plus the operator's receiving address on it.
type Descriptor struct {
	Family ChainFamily

	// NetworkID is the wire network identifier advertised to clients,
	// e.g. "base-sepolia" or "solana-devnet".
	NetworkID string

	// ChainID is the EVM chain id as a decimal string; empty for Solana.
	ChainID string

	// Cluster is the Solana cluster label; empty for EVM.
	Cluster string

	// AssetAddress is the USDC contract address (EVM) or SPL mint (Solana).
	AssetAddress string

	// Decimals is the USDC asset's decimal precision (6).
	Decimals int

	// EIP712 carries the Authorization domain name/version for EVM
	// networks; zero value for Solana.
	EIP712 EIP712Domain

	// PaymentAddress is the operator's receiving wallet on this network.
	PaymentAddress string
}

// Registry is the immutable-after-load set of configured networks,
// keyed by network id and held in configuration order.
type Registry struct {
	byID  map[string]*Descriptor
	order []*Descriptor
}

// evmUSDC and solanaUSDC mirror the well-known USDC deployments that the
// reference x402 facilitator ecosystem advertises: contract address,
// EIP-712 domain name/version, for EVM networks, and SPL mint for
// Solana clusters. Grounded on other_examples/coinbase-x402__network.go's
// NetworkConfigs table and original_source/src/pricing.rs's
// get_evm_usdc/get_solana_usdc network lists.
var evmUSDC = map[string]struct {
	chainID string
	asset   string
	name    string
	version string
}{
	"base":           {"8453", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin", "2"},
	"base-sepolia":   {"84532", "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "USDC", "2"},
	"polygon":        {"137", "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", "USD Coin", "2"},
	"polygon-amoy":   {"80002", "0x41e94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", "USDC", "2"},
	"avalanche":      {"43114", "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", "USD Coin", "2"},
	"avalanche-fuji": {"43113", "0x5425890298aed601595a70AB815c96711a31Bc65", "USDC", "2"},
}

var solanaUSDC = map[string]struct {
	cluster string
	mint    string
}{
	"solana":        {"mainnet-beta", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"},
	"solana-devnet": {"devnet", "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"},
}

// New builds a Registry from configured networks, in the order given.
// A network name unknown to the default USDC tables is rejected: the
// gateway has no asset address to advertise for it.
func New(entries []config.NetworkConfig) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Descriptor, len(entries))}

	for _, e := range entries {
		d, err := describe(e)
		if err != nil {
			return nil, err
		}
		r.byID[d.NetworkID] = d
		r.order = append(r.order, d)
	}

	return r, nil
}

func describe(e config.NetworkConfig) (*Descriptor, error) {
	switch e.Type {
	case string(FamilyEVM):
		usdc, ok := evmUSDC[e.Network]
		if !ok {
			return nil, fmt.Errorf("unsupported EVM network: %s", e.Network)
		}
		return &Descriptor{
			Family:         FamilyEVM,
			NetworkID:      e.Network,
			ChainID:        usdc.chainID,
			AssetAddress:   usdc.asset,
			Decimals:       6,
			EIP712:         EIP712Domain{Name: usdc.name, Version: usdc.version},
			PaymentAddress: e.PaymentAddress,
		}, nil
	case string(FamilySolana):
		usdc, ok := solanaUSDC[e.Network]
		if !ok {
			return nil, fmt.Errorf("unsupported Solana network: %s", e.Network)
		}
		if _, err := base58.Decode(e.PaymentAddress); err != nil {
			return nil, fmt.Errorf("invalid Solana payment_address for %s: %w", e.Network, err)
		}
		return &Descriptor{
			Family:         FamilySolana,
			NetworkID:      e.Network,
			Cluster:        usdc.cluster,
			AssetAddress:   usdc.mint,
			Decimals:       6,
			PaymentAddress: e.PaymentAddress,
		}, nil
	default:
		return nil, fmt.Errorf("unknown network type: %s", e.Type)
	}
}

// Lookup returns the descriptor for a network id, if configured.
func (r *Registry) Lookup(networkID string) (*Descriptor, bool) {
	d, ok := r.byID[networkID]
	return d, ok
}

// All returns every configured descriptor in configuration order.
func (r *Registry) All() []*Descriptor {
	return r.order
}
