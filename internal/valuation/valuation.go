// Package valuation combines favorites, prices and balances into per-token
// and aggregate USD valuations. Everything here is a pure function of its
// inputs; nothing is persisted.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/favorites"
	"github.com/Klingon-tech/klingfolio/internal/prices"
)

// QuantitySource tells where a valuation's quantity came from.
type QuantitySource string

const (
	QuantityBalance     QuantitySource = "balance"
	QuantityPlaceholder QuantitySource = "placeholder"
	QuantityUnknown     QuantitySource = "unknown"
)

// Unavailable is displayed instead of a value for unpriced or
// unknown-quantity tokens.
const Unavailable = "unavailable"

// PriceResolver maps a token symbol to its price-lookup id.
type PriceResolver interface {
	ID(symbol string) (string, bool)
}

// Valuation is the derived USD view of one token.
type Valuation struct {
	Identity chain.Identity `json:"identity"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`

	Quantity       decimal.Decimal `json:"quantity"`
	QuantitySource QuantitySource  `json:"quantity_source"`

	PriceID      string          `json:"price_id,omitempty"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd"`
	Priced       bool            `json:"priced"`
	Stale        bool            `json:"stale"`

	// TotalUSD is Quantity x UnitPriceUSD, or zero when the token is not
	// counted.
	TotalUSD decimal.Decimal `json:"total_usd"`
	Display  string          `json:"display"`
}

// Counted reports whether the valuation contributes to the aggregate.
func (v Valuation) Counted() bool {
	return v.Priced && v.QuantitySource != QuantityUnknown
}

// Quantities is the balance input of Valuate. The zero value means no
// balances were requested: every favorite gets the placeholder, if any.
type Quantities struct {
	// Balances holds quantities read from chain.
	Balances map[chain.Identity]decimal.Decimal

	// Read marks chains whose balances were read successfully. A favorite
	// on such a chain without an entry in Balances holds zero.
	Read map[uint64]bool

	// Failed marks chains whose balance read failed. Quantities there are
	// unknown; neither zero nor the placeholder is used.
	Failed map[uint64]bool
}

// ReadQuantities returns Quantities for a successful read of chains.
func ReadQuantities(balances map[chain.Identity]decimal.Decimal, chains ...uint64) Quantities {
	q := Quantities{Balances: balances, Read: make(map[uint64]bool, len(chains))}
	for _, id := range chains {
		q.Read[id] = true
	}
	return q
}

// resolve returns the quantity of id and where it came from.
func (q Quantities) resolve(id chain.Identity, placeholder decimal.NullDecimal) (decimal.Decimal, QuantitySource) {
	if qty, ok := q.Balances[id]; ok {
		return qty, QuantityBalance
	}
	switch {
	case q.Failed[id.ChainID()]:
		return decimal.Zero, QuantityUnknown
	case q.Read[id.ChainID()]:
		return decimal.Zero, QuantityBalance
	case placeholder.Valid:
		return placeholder.Decimal, QuantityPlaceholder
	default:
		return decimal.Zero, QuantityUnknown
	}
}

// Engine values favorites. The zero value has no resolver and prices
// nothing.
type Engine struct {
	resolver    PriceResolver
	placeholder decimal.NullDecimal
}

// NewEngine creates an engine. When placeholder is valid it is used as the
// quantity of favorites whose balance was not requested; otherwise such
// favorites have an unknown quantity and are left out of totals.
func NewEngine(resolver PriceResolver, placeholder decimal.NullDecimal) *Engine {
	return &Engine{resolver: resolver, placeholder: placeholder}
}

// Placeholder returns the configured placeholder quantity.
func (e *Engine) Placeholder() decimal.NullDecimal {
	return e.placeholder
}

// PriceIDs returns the deduplicated price ids for favs in order. Symbols
// without a mapping are left out.
func (e *Engine) PriceIDs(favs []favorites.Token) []string {
	if e.resolver == nil {
		return []string{}
	}
	seen := make(map[string]bool, len(favs))
	out := make([]string, 0, len(favs))
	for _, f := range favs {
		id, ok := e.resolver.ID(f.Symbol)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Valuate returns one valuation per favorite, in order. A favorite whose
// price is absent is flagged unpriced with a zero total; a missing price is
// never read as a zero price.
func (e *Engine) Valuate(favs []favorites.Token, priceMap map[string]prices.Entry, quantities Quantities) []Valuation {
	out := make([]Valuation, 0, len(favs))
	for _, f := range favs {
		out = append(out, e.valuate(f, priceMap, quantities))
	}
	return out
}

func (e *Engine) valuate(f favorites.Token, priceMap map[string]prices.Entry, quantities Quantities) Valuation {
	id := f.Identity()
	v := Valuation{
		Identity:     id,
		Symbol:       f.Symbol,
		Name:         f.Name,
		UnitPriceUSD: decimal.Zero,
		TotalUSD:     decimal.Zero,
	}

	v.Quantity, v.QuantitySource = quantities.resolve(id, e.placeholder)

	if e.resolver != nil {
		if priceID, ok := e.resolver.ID(f.Symbol); ok {
			v.PriceID = priceID
			if entry, ok := priceMap[priceID]; ok {
				v.UnitPriceUSD = entry.USD
				v.Priced = true
				v.Stale = entry.Stale
			}
		}
	}

	if v.Counted() {
		v.TotalUSD = v.Quantity.Mul(v.UnitPriceUSD)
		v.Display = FormatUSD(v.TotalUSD)
	} else {
		v.Display = Unavailable
	}
	return v
}

// Aggregate sums TotalUSD in slice order. Uncounted entries contribute zero.
func Aggregate(vs []Valuation) decimal.Decimal {
	total := decimal.Zero
	for _, v := range vs {
		if v.Counted() {
			total = total.Add(v.TotalUSD)
		}
	}
	return total
}

// Summary describes a set of valuations.
type Summary struct {
	TotalUSD        decimal.Decimal `json:"total_usd"`
	Display         string          `json:"display"`
	Count           int             `json:"count"`
	Priced          int             `json:"priced"`
	Unpriced        int             `json:"unpriced"`
	UnknownQuantity int             `json:"unknown_quantity"`
	Stale           int             `json:"stale"`
}

// Summarize aggregates vs and counts the entries by state.
func Summarize(vs []Valuation) Summary {
	total := Aggregate(vs)
	s := Summary{
		TotalUSD: total,
		Display:  FormatUSD(total),
		Count:    len(vs),
	}
	for _, v := range vs {
		if v.Priced {
			s.Priced++
		} else {
			s.Unpriced++
		}
		if v.QuantitySource == QuantityUnknown {
			s.UnknownQuantity++
		}
		if v.Stale {
			s.Stale++
		}
	}
	return s
}
