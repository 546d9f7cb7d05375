package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownToken is returned when a symbol is not registered on a chain.
var ErrUnknownToken = errors.New("unknown token")

// DefaultDecimals is assumed for tokens whose decimals are not known.
const DefaultDecimals uint8 = 18

// TokenInfo contains information about a token on a specific chain.
type TokenInfo struct {
	Symbol   string // Token symbol (USDT, USDC, etc.)
	Name     string // Full name
	Decimals uint8  // Token decimals
	Address  string // Contract address on this chain, or NativeAddress
	ChainID  uint64 // EVM chain ID
}

// IsNative reports whether the token is the chain's native asset.
func (t *TokenInfo) IsNative() bool {
	return t.Address == NativeAddress
}

// Identity returns the canonical identity of the token.
func (t *TokenInfo) Identity() Identity {
	return MustIdentity(t.ChainID, t.Address)
}

// tokenRegistry maps chainID -> symbol -> TokenInfo
var tokenRegistry = make(map[uint64]map[string]*TokenInfo)

// tokenOrder keeps registration order per chain for listings.
var tokenOrder = make(map[uint64][]string)

// quickAdd lists the symbols offered as one-click favorites per chain.
var quickAdd = map[uint64][]string{
	EthereumID: {"ETH", "USDC", "DAI", "USDT"},
	PolygonID:  {"MATIC", "USDC"},
	ArbitrumID: {"ETH", "USDC"},
}

func init() {
	// ==========================================================================
	// Ethereum Mainnet (chainID 1)
	// ==========================================================================
	registerToken(EthereumID, &TokenInfo{
		Symbol:   "ETH",
		Name:     "Ether",
		Decimals: 18,
		Address:  NativeAddress,
	})
	registerToken(EthereumID, &TokenInfo{
		Symbol:   "USDC",
		Name:     "USD Coin",
		Decimals: 6,
		Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	})
	registerToken(EthereumID, &TokenInfo{
		Symbol:   "DAI",
		Name:     "Dai Stablecoin",
		Decimals: 18,
		Address:  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
	})
	registerToken(EthereumID, &TokenInfo{
		Symbol:   "USDT",
		Name:     "Tether USD",
		Decimals: 6,
		Address:  "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	})
	registerToken(EthereumID, &TokenInfo{
		Symbol:   "WETH",
		Name:     "Wrapped Ether",
		Decimals: 18,
		Address:  "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	})
	registerToken(EthereumID, &TokenInfo{
		Symbol:   "WBTC",
		Name:     "Wrapped Bitcoin",
		Decimals: 8,
		Address:  "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599",
	})

	// ==========================================================================
	// Polygon (chainID 137)
	// ==========================================================================
	registerToken(PolygonID, &TokenInfo{
		Symbol:   "MATIC",
		Name:     "Polygon",
		Decimals: 18,
		Address:  NativeAddress,
	})
	registerToken(PolygonID, &TokenInfo{
		Symbol:   "USDC",
		Name:     "USD Coin (PoS)",
		Decimals: 6,
		Address:  "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
	})
	registerToken(PolygonID, &TokenInfo{
		Symbol:   "DAI",
		Name:     "Dai Stablecoin (PoS)",
		Decimals: 18,
		Address:  "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
	})
	registerToken(PolygonID, &TokenInfo{
		Symbol:   "USDT",
		Name:     "Tether USD (PoS)",
		Decimals: 6,
		Address:  "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
	})
	registerToken(PolygonID, &TokenInfo{
		Symbol:   "WMATIC",
		Name:     "Wrapped Matic",
		Decimals: 18,
		Address:  "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
	})
	registerToken(PolygonID, &TokenInfo{
		Symbol:   "WETH",
		Name:     "Wrapped Ether",
		Decimals: 18,
		Address:  "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
	})

	// ==========================================================================
	// Arbitrum One (chainID 42161)
	// ==========================================================================
	registerToken(ArbitrumID, &TokenInfo{
		Symbol:   "ETH",
		Name:     "Ether",
		Decimals: 18,
		Address:  NativeAddress,
	})
	registerToken(ArbitrumID, &TokenInfo{
		Symbol:   "USDC",
		Name:     "USD Coin (Arb1)",
		Decimals: 6,
		Address:  "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8",
	})
	registerToken(ArbitrumID, &TokenInfo{
		Symbol:   "DAI",
		Name:     "Dai Stablecoin",
		Decimals: 18,
		Address:  "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	})
	registerToken(ArbitrumID, &TokenInfo{
		Symbol:   "USDT",
		Name:     "Tether USD",
		Decimals: 6,
		Address:  "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
	})
	registerToken(ArbitrumID, &TokenInfo{
		Symbol:   "ARB",
		Name:     "Arbitrum",
		Decimals: 18,
		Address:  "0x912CE59144191C1204E64559FE8253a0e49E6548",
	})
	registerToken(ArbitrumID, &TokenInfo{
		Symbol:   "WETH",
		Name:     "Wrapped Ether",
		Decimals: 18,
		Address:  "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
	})
	registerToken(ArbitrumID, &TokenInfo{
		Symbol:   "WBTC",
		Name:     "Wrapped Bitcoin",
		Decimals: 8,
		Address:  "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f",
	})
}

// registerToken adds a token to the registry, canonicalizing its address.
func registerToken(chainID uint64, token *TokenInfo) {
	addr, err := NormalizeAddress(token.Address)
	if err != nil {
		panic(fmt.Sprintf("chain: bad registry address for %s on %d: %v", token.Symbol, chainID, err))
	}
	token.Address = addr
	token.ChainID = chainID
	if tokenRegistry[chainID] == nil {
		tokenRegistry[chainID] = make(map[string]*TokenInfo)
	}
	tokenRegistry[chainID][token.Symbol] = token
	tokenOrder[chainID] = append(tokenOrder[chainID], token.Symbol)
}

// GetToken returns token info for a symbol on a chain. Symbols are matched
// case-insensitively.
func GetToken(chainID uint64, symbol string) (*TokenInfo, bool) {
	tokens, ok := tokenRegistry[chainID]
	if !ok {
		return nil, false
	}
	token, ok := tokens[strings.ToUpper(symbol)]
	return token, ok
}

// GetTokenByAddress returns token info for a contract address on a chain.
func GetTokenByAddress(chainID uint64, address string) (*TokenInfo, bool) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, false
	}
	for _, token := range tokenRegistry[chainID] {
		if token.Address == addr {
			return token, true
		}
	}
	return nil, false
}

// ListTokens returns all tokens on a chain in registration order.
func ListTokens(chainID uint64) []*TokenInfo {
	symbols := tokenOrder[chainID]
	out := make([]*TokenInfo, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, tokenRegistry[chainID][s])
	}
	return out
}

// ChainTokens is like ListTokens but falls back to the Ethereum mainnet list
// for chains without a registry.
func ChainTokens(chainID uint64) []*TokenInfo {
	if _, ok := tokenRegistry[chainID]; !ok {
		return ListTokens(EthereumID)
	}
	return ListTokens(chainID)
}

// IsTokenSupported returns true if the token is registered on the chain.
func IsTokenSupported(chainID uint64, symbol string) bool {
	_, ok := GetToken(chainID, symbol)
	return ok
}

// GetTokenDecimals returns the decimals for a token, or DefaultDecimals if
// the token is not registered.
func GetTokenDecimals(chainID uint64, symbol string) uint8 {
	if token, ok := GetToken(chainID, symbol); ok {
		return token.Decimals
	}
	return DefaultDecimals
}

// ResolveSymbol maps a symbol on a chain to its identity.
func ResolveSymbol(chainID uint64, symbol string) (Identity, error) {
	token, ok := GetToken(chainID, symbol)
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s on chain %d", ErrUnknownToken, symbol, chainID)
	}
	return token.Identity(), nil
}

// IsNativeSymbol reports whether symbol is the native asset of some
// registered chain.
func IsNativeSymbol(symbol string) bool {
	s := strings.ToUpper(symbol)
	for _, p := range registry {
		if p.NativeSymbol == s {
			return true
		}
	}
	return false
}

// QuickAddTokens returns the one-click favorite suggestions for a chain.
func QuickAddTokens(chainID uint64) []*TokenInfo {
	symbols := quickAdd[chainID]
	out := make([]*TokenInfo, 0, len(symbols))
	for _, s := range symbols {
		if token, ok := GetToken(chainID, s); ok {
			out = append(out, token)
		}
	}
	return out
}
