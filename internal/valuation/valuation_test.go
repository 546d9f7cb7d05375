package valuation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/favorites"
	"github.com/Klingon-tech/klingfolio/internal/prices"
)

const daiAddr = "0x6b175474e89094c44da98b954eedeac495271d0f"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testFavorites() []favorites.Token {
	added := time.UnixMilli(1_700_000_000_000)
	return []favorites.Token{
		{Address: chain.NativeAddress, Symbol: "ETH", Name: "Ether", Decimals: 18, ChainID: 1, AddedAt: added},
		{Address: daiAddr, Symbol: "DAI", Name: "Dai", Decimals: 18, ChainID: 1, AddedAt: added},
		{Address: "0x1111111111111111111111111111111111111111", Symbol: "PEPE2", Name: "Unlisted", Decimals: 18, ChainID: 1, AddedAt: added},
	}
}

func TestValuateEmptyPrices(t *testing.T) {
	engine := NewEngine(prices.DefaultRegistry(), decimal.NewNullDecimal(dec("1")))

	vs := engine.Valuate(testFavorites(), map[string]prices.Entry{}, Quantities{})

	if len(vs) != 3 {
		t.Fatalf("len = %d, want 3", len(vs))
	}
	for _, v := range vs {
		if v.Priced {
			t.Errorf("%s: Priced = true, want false", v.Symbol)
		}
		if !v.TotalUSD.IsZero() {
			t.Errorf("%s: TotalUSD = %s, want 0", v.Symbol, v.TotalUSD)
		}
		if v.Display != Unavailable {
			t.Errorf("%s: Display = %q, want %q", v.Symbol, v.Display, Unavailable)
		}
	}
	if got := Aggregate(vs); !got.IsZero() {
		t.Errorf("Aggregate() = %s, want 0", got)
	}
}

func TestValuateQuantityResolution(t *testing.T) {
	priceMap := map[string]prices.Entry{
		"ethereum": {USD: dec("2500")},
		"dai":      {USD: dec("1.0002"), Stale: true},
	}
	quantities := map[chain.Identity]decimal.Decimal{
		chain.NativeIdentity(1): dec("2"),
	}

	tests := []struct {
		name        string
		placeholder decimal.NullDecimal
		wantDAI     QuantitySource
		wantTotal   string
	}{
		{
			name:      "no placeholder leaves quantity unknown",
			wantDAI:   QuantityUnknown,
			wantTotal: "5000",
		},
		{
			name:        "placeholder fills missing balances",
			placeholder: decimal.NewNullDecimal(dec("10")),
			wantDAI:     QuantityPlaceholder,
			wantTotal:   "5010.002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(prices.DefaultRegistry(), tt.placeholder)
			vs := engine.Valuate(testFavorites(), priceMap, Quantities{Balances: quantities})

			eth, dai, unlisted := vs[0], vs[1], vs[2]
			if eth.QuantitySource != QuantityBalance || !eth.TotalUSD.Equal(dec("5000")) {
				t.Errorf("ETH = %s x %s (%s), want 2 x 2500 from balance", eth.Quantity, eth.UnitPriceUSD, eth.QuantitySource)
			}
			if eth.Display != "$5,000.00" {
				t.Errorf("ETH Display = %q", eth.Display)
			}
			if dai.QuantitySource != tt.wantDAI {
				t.Errorf("DAI QuantitySource = %s, want %s", dai.QuantitySource, tt.wantDAI)
			}
			if !dai.Priced || !dai.Stale {
				t.Errorf("DAI Priced = %v Stale = %v, want both true", dai.Priced, dai.Stale)
			}
			if unlisted.Priced || unlisted.PriceID != "" {
				t.Errorf("unlisted token priced: %+v", unlisted)
			}
			if got := Aggregate(vs); !got.Equal(dec(tt.wantTotal)) {
				t.Errorf("Aggregate() = %s, want %s", got, tt.wantTotal)
			}
		})
	}
}

func TestValuateBalanceReadOutcomes(t *testing.T) {
	priceMap := map[string]prices.Entry{
		"ethereum": {USD: dec("2500")},
		"dai":      {USD: dec("1")},
	}
	placeholder := decimal.NewNullDecimal(dec("1"))
	balances := map[chain.Identity]decimal.Decimal{chain.NativeIdentity(1): dec("2")}

	tests := []struct {
		name       string
		quantities Quantities
		wantETH    QuantitySource
		wantDAI    QuantitySource
		wantDAIQty string
		wantTotal  string
	}{
		{
			name:       "balances not requested use placeholder",
			quantities: Quantities{},
			wantETH:    QuantityPlaceholder,
			wantDAI:    QuantityPlaceholder,
			wantDAIQty: "1",
			wantTotal:  "2501",
		},
		{
			name:       "failed read is unknown despite placeholder",
			quantities: Quantities{Failed: map[uint64]bool{1: true}},
			wantETH:    QuantityUnknown,
			wantDAI:    QuantityUnknown,
			wantDAIQty: "0",
			wantTotal:  "0",
		},
		{
			name:       "successful read without a row is zero",
			quantities: ReadQuantities(balances, 1),
			wantETH:    QuantityBalance,
			wantDAI:    QuantityBalance,
			wantDAIQty: "0",
			wantTotal:  "5000",
		},
		{
			name:       "read of another chain keeps placeholder",
			quantities: ReadQuantities(nil, 137),
			wantETH:    QuantityPlaceholder,
			wantDAI:    QuantityPlaceholder,
			wantDAIQty: "1",
			wantTotal:  "2501",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(prices.DefaultRegistry(), placeholder)
			vs := engine.Valuate(testFavorites(), priceMap, tt.quantities)

			eth, dai := vs[0], vs[1]
			if eth.QuantitySource != tt.wantETH {
				t.Errorf("ETH QuantitySource = %s, want %s", eth.QuantitySource, tt.wantETH)
			}
			if dai.QuantitySource != tt.wantDAI {
				t.Errorf("DAI QuantitySource = %s, want %s", dai.QuantitySource, tt.wantDAI)
			}
			if !dai.Quantity.Equal(dec(tt.wantDAIQty)) {
				t.Errorf("DAI Quantity = %s, want %s", dai.Quantity, tt.wantDAIQty)
			}
			if got := Aggregate(vs); !got.Equal(dec(tt.wantTotal)) {
				t.Errorf("Aggregate() = %s, want %s", got, tt.wantTotal)
			}
		})
	}
}

func TestValuateKeepsOrderAndMissingPriceIsNotZero(t *testing.T) {
	engine := NewEngine(prices.DefaultRegistry(), decimal.NullDecimal{})
	favs := testFavorites()
	quantities := map[chain.Identity]decimal.Decimal{
		favs[1].Identity(): dec("3"),
	}

	vs := engine.Valuate(favs, map[string]prices.Entry{"ethereum": {USD: dec("2000")}}, Quantities{Balances: quantities})

	for i, v := range vs {
		if v.Symbol != favs[i].Symbol {
			t.Errorf("vs[%d] = %s, want %s", i, v.Symbol, favs[i].Symbol)
		}
	}
	dai := vs[1]
	if dai.Priced || dai.Counted() || dai.PriceID != "dai" {
		t.Errorf("DAI = %+v, want unpriced with price id", dai)
	}
}

func TestPriceIDs(t *testing.T) {
	engine := NewEngine(prices.DefaultRegistry(), decimal.NullDecimal{})
	favs := append(testFavorites(), favorites.Token{Address: chain.NativeAddress, Symbol: "ETH", ChainID: 42161})

	got := engine.PriceIDs(favs)

	want := []string{"ethereum", "dai"}
	if len(got) != len(want) {
		t.Fatalf("PriceIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PriceIDs()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	var zero Engine
	if ids := zero.PriceIDs(favs); len(ids) != 0 {
		t.Errorf("zero Engine PriceIDs() = %v", ids)
	}
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	vs := []Valuation{
		{Priced: true, QuantitySource: QuantityBalance, TotalUSD: dec("0.1")},
		{Priced: true, QuantitySource: QuantityBalance, TotalUSD: dec("0.2")},
		{Priced: true, QuantitySource: QuantityPlaceholder, TotalUSD: dec("1e18")},
		{Priced: false, TotalUSD: dec("99")},
	}
	reversed := []Valuation{vs[3], vs[2], vs[1], vs[0]}

	a, b := Aggregate(vs), Aggregate(reversed)
	if !a.Equal(b) {
		t.Errorf("Aggregate differs by order: %s vs %s", a, b)
	}
	if !a.Equal(dec("1000000000000000000.3")) {
		t.Errorf("Aggregate() = %s", a)
	}
}

func TestSummarize(t *testing.T) {
	engine := NewEngine(prices.DefaultRegistry(), decimal.NullDecimal{})
	vs := engine.Valuate(testFavorites(), map[string]prices.Entry{
		"ethereum": {USD: dec("2500"), Stale: true},
	}, Quantities{Balances: map[chain.Identity]decimal.Decimal{chain.NativeIdentity(1): dec("0.5")}})

	s := Summarize(vs)

	if s.Count != 3 || s.Priced != 1 || s.Unpriced != 2 || s.UnknownQuantity != 2 || s.Stale != 1 {
		t.Errorf("Summarize() = %+v", s)
	}
	if s.Display != "$1,250.00" {
		t.Errorf("Display = %q, want $1,250.00", s.Display)
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"1234.567", "$1,234.57"},
		{"0.004", "$0.00"},
		{"0.005", "$0.01"},
		{"1000000", "$1,000,000.00"},
		{"-12.5", "-$12.50"},
	}

	for _, tt := range tests {
		if got := FormatUSD(dec(tt.in)); got != tt.want {
			t.Errorf("FormatUSD(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
