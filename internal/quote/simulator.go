// Package quote simulates swap quotes from a static table of directed rates.
// No liquidity is consulted and no swap is ever executed.
package quote

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/metrics"
	"github.com/Klingon-tech/klingfolio/pkg/helpers"
	"github.com/Klingon-tech/klingfolio/pkg/logging"
)

// Quote errors
var (
	// ErrUnavailable is an expected outcome: no quote exists for the input.
	ErrUnavailable = errors.New("quote unavailable")

	// ErrSuperseded is returned to a debounced request replaced by a newer one.
	ErrSuperseded = errors.New("quote request superseded")
)

// DefaultSlippagePercent is the slippage applied to the minimum output.
const DefaultSlippagePercent = 0.5

// maxPriceImpactPercent bounds the simulated price impact.
const maxPriceImpactPercent = 2.0

// amountPlaces is the precision of amount strings in a Result.
const amountPlaces = 6

// Request is one quote request.
type Request struct {
	From     string `json:"from"`
	To       string `json:"to"`
	AmountIn string `json:"amount_in"`
	ChainID  uint64 `json:"chain_id"`

	// SlippagePercent overrides the simulator's slippage for this request.
	SlippagePercent *float64 `json:"slippage_percent,omitempty"`
}

// Result is a simulated quote.
type Result struct {
	RequestID string `json:"request_id,omitempty"`

	From     string `json:"from"`
	To       string `json:"to"`
	ChainID  uint64 `json:"chain_id"`
	AmountIn string `json:"amount_in"`

	AmountOut       string `json:"amount_out"`
	AmountOutMin    string `json:"amount_out_min"`
	ExchangeRate    string `json:"exchange_rate"`
	SlippagePercent string `json:"slippage_percent"`

	// PriceImpactPercent is a random display value in [0, 2), not derived
	// from any market data. PriceImpactSimulated is always true.
	PriceImpactPercent   float64 `json:"price_impact_percent"`
	PriceImpactSimulated bool    `json:"price_impact_simulated"`

	Path []string `json:"path"`
}

// Config configures a Simulator.
type Config struct {
	Rates *RateTable

	// SlippageFraction is applied to the minimum output (0.005 = 0.5%).
	// Defaults to DefaultSlippagePercent when not valid.
	SlippageFraction decimal.NullDecimal

	// Rand returns a value in [0, 1) for the simulated price impact.
	// Defaults to math/rand/v2.
	Rand func() float64

	Logger *logging.Logger
}

// Simulator produces quotes. It holds no per-request state.
type Simulator struct {
	rates    *RateTable
	slippage decimal.Decimal
	rand     func() float64
	log      *logging.Logger
}

// NewSimulator creates a simulator.
func NewSimulator(cfg *Config) *Simulator {
	s := &Simulator{
		rates: cfg.Rates,
		rand:  cfg.Rand,
		log:   cfg.Logger,
	}
	if s.rates == nil {
		s.rates = DefaultRates()
	}
	if cfg.SlippageFraction.Valid {
		s.slippage = cfg.SlippageFraction.Decimal
	} else {
		s.slippage = percentToFraction(DefaultSlippagePercent)
	}
	if s.rand == nil {
		s.rand = rand.Float64
	}
	if s.log == nil {
		s.log = logging.GetDefault().Component("quote")
	}
	return s
}

// Rates returns the simulator's rate table.
func (s *Simulator) Rates() *RateTable { return s.rates }

// SlippageFraction returns the default slippage fraction.
func (s *Simulator) SlippageFraction() decimal.Decimal { return s.slippage }

func percentToFraction(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Div(decimal.NewFromInt(100))
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// Quote computes amountOut = amountIn x rate(from, to) and
// amountOutMin = amountOut x (1 - slippage). Input without a quote (non
// positive amount, unknown pair or chain) returns an error matching
// ErrUnavailable.
func (s *Simulator) Quote(req Request) (res *Result, err error) {
	defer func() {
		outcome := "quoted"
		if err != nil {
			outcome = "unavailable"
			s.log.Debug("Quote unavailable", "from", req.From, "to", req.To, "amount", req.AmountIn, "reason", err)
		}
		metrics.QuotesTotal.WithLabelValues(outcome).Inc()
	}()

	from, to := normalizeSymbol(req.From), normalizeSymbol(req.To)

	amountIn, ok := helpers.ParsePositive(req.AmountIn)
	if !ok {
		return nil, unavailable("amount %q is not a positive number", req.AmountIn)
	}
	if from == "" || to == "" {
		return nil, unavailable("token symbol is required")
	}
	if from == to {
		return nil, unavailable("cannot swap %s for itself", from)
	}
	if !chain.IsSupported(req.ChainID) {
		return nil, unavailable("chain %d is not supported", req.ChainID)
	}

	slippage := s.slippage
	if req.SlippagePercent != nil {
		p := *req.SlippagePercent
		if math.IsNaN(p) || p < 0 || p >= 100 {
			return nil, unavailable("slippage %v%% out of range", p)
		}
		slippage = percentToFraction(p)
	}

	rate, ok := s.rates.Rate(from, to)
	if !ok {
		return nil, unavailable("no rate for %s->%s", from, to)
	}

	amountOut := amountIn.Mul(rate)
	amountOutMin := amountOut.Mul(decimal.NewFromInt(1).Sub(slippage))

	return &Result{
		From:                 from,
		To:                   to,
		ChainID:              req.ChainID,
		AmountIn:             amountIn.String(),
		AmountOut:            amountOut.StringFixed(amountPlaces),
		AmountOutMin:         amountOutMin.StringFixed(amountPlaces),
		ExchangeRate:         ExchangeRate(amountIn, amountOut),
		SlippagePercent:      slippage.Mul(decimal.NewFromInt(100)).String(),
		PriceImpactPercent:   s.priceImpact(),
		PriceImpactSimulated: true,
		Path:                 []string{from, to},
	}, nil
}

// priceImpact draws the simulated price impact, truncated to two decimals.
func (s *Simulator) priceImpact() float64 {
	v := s.rand()
	if v < 0 || v >= 1 || math.IsNaN(v) {
		v = 0
	}
	return math.Floor(v*maxPriceImpactPercent*100) / 100
}
