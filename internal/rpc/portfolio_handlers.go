package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingfolio/internal/balances"
	"github.com/Klingon-tech/klingfolio/internal/portfolio"
	"github.com/Klingon-tech/klingfolio/internal/prices"
	"github.com/Klingon-tech/klingfolio/internal/quote"
)

// ========================================
// Price and balance handlers
// ========================================

// PricesGetParams selects prices by id, by symbol, or both.
type PricesGetParams struct {
	IDs     []string `json:"ids"`
	Symbols []string `json:"symbols"`
}

// PricesGetResult is the response for prices_get. Missing lists ids with no
// price at all; they are unknown, not zero.
type PricesGetResult struct {
	Prices  map[string]prices.Entry `json:"prices"`
	Missing []string                `json:"missing,omitempty"`
}

func (s *Server) pricesGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PricesGetParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}

	ids := append(p.IDs, s.registry.IDs(p.Symbols...)...)
	entries, err := s.prices.GetPrices(ctx, ids)
	if err != nil {
		missing := prices.MissingIDs(err)
		if missing == nil {
			return nil, err
		}
		s.log.Warn("Prices unavailable", "ids", missing, "error", err)
		return &PricesGetResult{Prices: entries, Missing: missing}, nil
	}
	return &PricesGetResult{Prices: entries}, nil
}

// OwnerParams selects an owner on a chain.
type OwnerParams struct {
	Owner   string `json:"owner"`
	ChainID uint64 `json:"chain_id"`
}

func (s *Server) balancesGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p OwnerParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if s.balances == nil {
		return nil, fmt.Errorf("%w: no balance source configured", balances.ErrBalanceFetchFailed)
	}
	return s.balances.GetBalances(ctx, p.Owner, p.ChainID)
}

// ========================================
// Portfolio handlers
// ========================================

func (s *Server) portfolioValuate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p portfolio.ValuateRequest
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	return s.portfolio.Valuate(ctx, p)
}

func (s *Server) portfolioTotal(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p portfolio.ValuateRequest
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	return s.portfolio.TotalValue(ctx, p)
}

func (s *Server) portfolioAssets(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p OwnerParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	return s.portfolio.AssetOverview(ctx, p.Owner, p.ChainID)
}

// ========================================
// Swap quote handlers
// ========================================

// SwapQuoteParams is the input of swap_quote. Requests sharing a non-empty
// Session are debounced: only the last one within the quiet period is
// answered.
type SwapQuoteParams struct {
	quote.Request
	Session string `json:"session,omitempty"`
}

// SwapQuoteResult is the response for swap_quote. An unavailable quote is a
// normal result, not an error.
type SwapQuoteResult struct {
	Available  bool          `json:"available"`
	Superseded bool          `json:"superseded,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Quote      *quote.Result `json:"quote,omitempty"`
}

func (s *Server) swapQuote(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapQuoteParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}

	var (
		res *quote.Result
		err error
	)
	if p.Session != "" {
		res, err = s.debounce.Quote(ctx, p.Session, p.Request)
	} else {
		res, err = s.quotes.Quote(p.Request)
	}

	switch {
	case err == nil:
		return &SwapQuoteResult{Available: true, Quote: res}, nil
	case errors.Is(err, quote.ErrUnavailable):
		return &SwapQuoteResult{Reason: err.Error()}, nil
	case errors.Is(err, quote.ErrSuperseded):
		return &SwapQuoteResult{Superseded: true, Reason: err.Error()}, nil
	default:
		return nil, err
	}
}

func (s *Server) swapPairs(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"pairs": s.quotes.Rates().Pairs()}, nil
}

// MinAmountOutParams is the input of swap_minAmountOut.
type MinAmountOutParams struct {
	AmountOut       string  `json:"amount_out"`
	SlippagePercent float64 `json:"slippage_percent"`
}

func (s *Server) swapMinAmountOut(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p MinAmountOutParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	out, err := quote.CalculateMinAmountOut(p.AmountOut, p.SlippagePercent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return map[string]string{"amount_out_min": out}, nil
}

// DeadlineParams is the input of swap_deadline. Minutes defaults to the
// configured deadline.
type DeadlineParams struct {
	Minutes int `json:"minutes"`
}

func (s *Server) swapDeadline(ctx context.Context, params json.RawMessage) (interface{}, error) {
	p := DeadlineParams{Minutes: s.deadline}
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.Minutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive", errInvalidParams)
	}
	return map[string]int64{"deadline": quote.CalculateDeadline(time.Now(), p.Minutes)}, nil
}

// CheckBalanceParams is the input of swap_checkBalance.
type CheckBalanceParams struct {
	Required string `json:"required"`
	Current  string `json:"current"`
}

func (s *Server) swapCheckBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CheckBalanceParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	return quote.CheckBalance(p.Required, p.Current), nil
}
