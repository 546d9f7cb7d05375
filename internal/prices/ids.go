package prices

import (
	"sort"
	"strings"
)

// defaultIDs maps token symbols to CoinGecko ids. Wrapped natives share the
// id of the asset they wrap only where the market does.
var defaultIDs = map[string]string{
	"ETH":    "ethereum",
	"WETH":   "weth",
	"USDC":   "usd-coin",
	"DAI":    "dai",
	"USDT":   "tether",
	"WBTC":   "wrapped-bitcoin",
	"MATIC":  "matic-network",
	"WMATIC": "matic-network",
	"ARB":    "arbitrum",
}

// Registry resolves token symbols to price-lookup ids. It is read-only after
// construction.
type Registry struct {
	ids map[string]string
}

// NewRegistry returns a registry with the default mappings plus extra.
// Symbols are matched case-insensitively; extra wins over defaults.
func NewRegistry(extra map[string]string) *Registry {
	r := &Registry{ids: make(map[string]string, len(defaultIDs)+len(extra))}
	for sym, id := range defaultIDs {
		r.ids[sym] = id
	}
	for sym, id := range extra {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || id == "" {
			continue
		}
		r.ids[sym] = id
	}
	return r
}

// DefaultRegistry returns a registry with the built-in mappings.
func DefaultRegistry() *Registry {
	return NewRegistry(nil)
}

// ID returns the price-lookup id for symbol.
func (r *Registry) ID(symbol string) (string, bool) {
	id, ok := r.ids[strings.ToUpper(strings.TrimSpace(symbol))]
	return id, ok
}

// IDs resolves symbols to a deduplicated id list in first-seen order.
// Unknown symbols are left out.
func (r *Registry) IDs(symbols ...string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		id, ok := r.ID(sym)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Symbols returns every registered symbol, sorted.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.ids))
	for sym := range r.ids {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
