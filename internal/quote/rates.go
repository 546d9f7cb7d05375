package quote

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Pair is a directed swap pair.
type Pair struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

func (p Pair) String() string { return p.From + "->" + p.To }

// RateTable holds directed exchange rates. Rates are used exactly as
// configured; the reverse direction is never derived.
type RateTable struct {
	mu    sync.RWMutex
	rates map[Pair]decimal.Decimal
}

// NewRateTable returns an empty table.
func NewRateTable() *RateTable {
	return &RateTable{rates: make(map[Pair]decimal.Decimal)}
}

// defaultRates is the demo table: units of To per unit of From.
var defaultRates = map[string]map[string]string{
	"ETH":   {"USDC": "2500", "DAI": "2500", "USDT": "2500", "MATIC": "2000"},
	"MATIC": {"ETH": "0.0005", "USDC": "0.8", "DAI": "0.8", "USDT": "0.8"},
	"USDC":  {"ETH": "0.0004", "DAI": "1", "USDT": "1", "MATIC": "1.25"},
	"DAI":   {"ETH": "0.0004", "USDC": "1", "USDT": "1", "MATIC": "1.25"},
	"USDT":  {"ETH": "0.0004", "USDC": "1", "DAI": "1", "MATIC": "1.25"},
}

// DefaultRates returns a table with the built-in demo rates.
func DefaultRates() *RateTable {
	t, err := fromMap(defaultRates)
	if err != nil {
		panic(fmt.Sprintf("quote: bad default rates: %v", err))
	}
	return t
}

// LoadRates reads a YAML rate table:
//
//	ETH:
//	  USDC: "2500"
//	  DAI: "2500"
func LoadRates(r io.Reader) (*RateTable, error) {
	var raw map[string]map[string]string
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse rate table: %w", err)
	}
	return fromMap(raw)
}

// LoadRatesFile reads a YAML rate table from path.
func LoadRatesFile(path string) (*RateTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rate table: %w", err)
	}
	defer f.Close()
	return LoadRates(f)
}

func fromMap(raw map[string]map[string]string) (*RateTable, error) {
	t := NewRateTable()
	for from, row := range raw {
		for to, s := range row {
			rate, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("rate %s->%s: %w", from, to, err)
			}
			if err := t.Set(from, to, rate); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Set registers the rate for from->to. Rates must be positive.
func (t *RateTable) Set(from, to string, rate decimal.Decimal) error {
	p := Pair{From: normalizeSymbol(from), To: normalizeSymbol(to)}
	if p.From == "" || p.To == "" {
		return fmt.Errorf("rate %s: empty symbol", p)
	}
	if p.From == p.To {
		return fmt.Errorf("rate %s: same token", p)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("rate %s: must be positive, got %s", p, rate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[p] = rate
	return nil
}

// Rate returns the rate for from->to. Symbols are case-insensitive.
func (t *RateTable) Rate(from, to string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rate, ok := t.rates[Pair{From: normalizeSymbol(from), To: normalizeSymbol(to)}]
	return rate, ok
}

// Pairs returns every registered pair, sorted.
func (t *RateTable) Pairs() []Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Pair, 0, len(t.rates))
	for p := range t.rates {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Len returns the number of pairs.
func (t *RateTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rates)
}
