// Package chain defines the EVM networks the dashboard understands, the
// static token registry for each of them and the canonical token identity.
// All chain-specific values are hardcoded here - no external configuration needed.
package chain

import (
	"errors"
	"sort"
)

// Well-known chain IDs.
const (
	EthereumID uint64 = 1
	PolygonID  uint64 = 137
	ArbitrumID uint64 = 42161
)

// ErrUnsupportedChain is returned for chain IDs absent from the registry.
var ErrUnsupportedChain = errors.New("unsupported chain")

// Params contains the display and connection parameters of an EVM chain.
type Params struct {
	// Identity
	ChainID uint64 // EVM chain ID
	Name    string // Ethereum, Polygon, etc.

	// Native asset
	NativeSymbol string // ETH, MATIC
	NativeName   string // Ether, Polygon
	Decimals     uint8  // 18 for every supported chain

	// Links
	ExplorerURL string // block explorer base URL
	DefaultRPC  string // public JSON-RPC endpoint, overridable in config
}

// TxURL returns the explorer URL for a transaction hash.
func (p *Params) TxURL(hash string) string {
	return p.ExplorerURL + "/tx/" + hash
}

// AddressURL returns the explorer URL for an account or contract.
func (p *Params) AddressURL(address string) string {
	return p.ExplorerURL + "/address/" + address
}

// registry holds all chain parameters indexed by chain ID.
var registry = make(map[uint64]*Params)

// Register adds chain params to the registry.
func Register(params *Params) {
	registry[params.ChainID] = params
}

// Get returns chain params for a chain ID.
func Get(chainID uint64) (*Params, bool) {
	params, ok := registry[chainID]
	return params, ok
}

// List returns all registered chains ordered by chain ID.
func List() []*Params {
	out := make([]*Params, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// IsSupported returns true if the chain ID is registered.
func IsSupported(chainID uint64) bool {
	_, ok := registry[chainID]
	return ok
}

// Name returns the chain name, or "Unknown" for unregistered chains.
func Name(chainID uint64) string {
	if p, ok := registry[chainID]; ok {
		return p.Name
	}
	return "Unknown"
}

// NativeSymbol returns the symbol of the chain's native asset.
// Unregistered chains report ETH.
func NativeSymbol(chainID uint64) string {
	if p, ok := registry[chainID]; ok {
		return p.NativeSymbol
	}
	return "ETH"
}
