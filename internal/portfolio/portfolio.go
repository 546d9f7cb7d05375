// Package portfolio is the dashboard service. It ties the favorites store,
// price cache and balance source together and hands the results to the
// valuation engine.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingfolio/internal/balances"
	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/favorites"
	"github.com/Klingon-tech/klingfolio/internal/metrics"
	"github.com/Klingon-tech/klingfolio/internal/prices"
	"github.com/Klingon-tech/klingfolio/internal/valuation"
	"github.com/Klingon-tech/klingfolio/pkg/logging"
)

// PriceService returns USD prices by price id.
type PriceService interface {
	GetPrices(ctx context.Context, ids []string) (map[string]prices.Entry, error)
}

// Config configures a Service.
type Config struct {
	Favorites *favorites.Store
	Prices    PriceService
	Registry  *prices.Registry

	// Balances is optional. Without it every quantity comes from the
	// engine's placeholder, or is unknown.
	Balances balances.Source

	// Placeholder is the quantity used for favorites without a balance.
	Placeholder decimal.NullDecimal

	Clock  func() time.Time
	Logger *logging.Logger
}

// Service serves the dashboard views.
type Service struct {
	favorites *favorites.Store
	prices    PriceService
	registry  *prices.Registry
	balances  balances.Source
	engine    *valuation.Engine
	now       func() time.Time
	log       *logging.Logger
}

// New creates a service.
func New(cfg *Config) (*Service, error) {
	if cfg.Favorites == nil {
		return nil, errors.New("portfolio: favorites store is required")
	}
	if cfg.Prices == nil {
		return nil, errors.New("portfolio: price service is required")
	}

	s := &Service{
		favorites: cfg.Favorites,
		prices:    cfg.Prices,
		registry:  cfg.Registry,
		balances:  cfg.Balances,
		now:       cfg.Clock,
		log:       cfg.Logger,
	}
	if s.registry == nil {
		s.registry = prices.DefaultRegistry()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logging.GetDefault().Component("portfolio")
	}
	s.engine = valuation.NewEngine(s.registry, cfg.Placeholder)

	s.updateCountMetrics()
	s.favorites.OnChange(func(favorites.Change) { s.updateCountMetrics() })
	return s, nil
}

// Favorites returns the underlying store.
func (s *Service) Favorites() *favorites.Store { return s.favorites }

// Engine returns the valuation engine.
func (s *Service) Engine() *valuation.Engine { return s.engine }

func (s *Service) updateCountMetrics() {
	metrics.SetFavoriteCounts(s.favorites.CountByChain(), chain.Name)
}

// =============================================================================
// Favorites
// =============================================================================

// AddFavorite adds a favorite. A duplicate is logged and reported with
// added=false and the existing record; it is not an error.
func (s *Service) AddFavorite(in favorites.NewToken) (tok favorites.Token, added bool, err error) {
	tok, err = s.favorites.Add(in)
	if errors.Is(err, favorites.ErrDuplicateFavorite) {
		s.log.Warn("Token already in favorites", "symbol", in.Symbol, "address", in.Address, "chain", in.ChainID)
		existing, _ := s.favorites.Get(in.Address, in.ChainID)
		return existing, false, nil
	}
	if err != nil {
		return favorites.Token{}, false, err
	}
	return tok, true, nil
}

// QuickAdd adds a registry token by symbol.
func (s *Service) QuickAdd(symbol string, chainID uint64) (favorites.Token, bool, error) {
	info, ok := chain.GetToken(chainID, symbol)
	if !ok {
		return favorites.Token{}, false, fmt.Errorf("%w: %s on chain %d", chain.ErrUnknownToken, symbol, chainID)
	}
	return s.AddFavorite(favorites.NewToken{
		Address:  info.Address,
		Symbol:   info.Symbol,
		Name:     info.Name,
		Decimals: info.Decimals,
		ChainID:  chainID,
	})
}

// AddFromAsset adds the token of a balance row.
func (s *Service) AddFromAsset(row balances.Row) (favorites.Token, bool, error) {
	name := row.Name
	if name == "" {
		name = row.Symbol
	}
	return s.AddFavorite(favorites.NewToken{
		Address:  row.Address,
		Symbol:   row.Symbol,
		Name:     name,
		Decimals: row.Decimals,
		ChainID:  row.ChainID,
	})
}

// QuickAddOption is a one-click suggestion with its current state.
type QuickAddOption struct {
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Decimals   uint8  `json:"decimals"`
	IsFavorite bool   `json:"is_favorite"`
}

// QuickAddOptions lists the one-click suggestions for a chain.
func (s *Service) QuickAddOptions(chainID uint64) []QuickAddOption {
	tokens := chain.QuickAddTokens(chainID)
	out := make([]QuickAddOption, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, QuickAddOption{
			Symbol:     t.Symbol,
			Name:       t.Name,
			Address:    t.Address,
			Decimals:   t.Decimals,
			IsFavorite: s.favorites.IsFavorite(t.Address, chainID),
		})
	}
	return out
}

// Counts summarizes the favorites collection.
type Counts struct {
	Total        int            `json:"total"`
	ByChain      map[uint64]int `json:"by_chain"`
	HasFavorites bool           `json:"has_favorites"`
}

// Counts returns the number of favorites overall and per chain.
func (s *Service) Counts() Counts {
	byChain := s.favorites.CountByChain()
	total := 0
	for _, n := range byChain {
		total += n
	}
	return Counts{Total: total, ByChain: byChain, HasFavorites: total > 0}
}

// ChainView is the favorites of one chain.
type ChainView struct {
	ChainID   uint64            `json:"chain_id"`
	ChainName string            `json:"chain_name"`
	Favorites []favorites.Token `json:"favorites"`
	PriceIDs  []string          `json:"price_ids"`
}

// ChainFavorites returns the favorites of chainID and the price ids they
// need.
func (s *Service) ChainFavorites(chainID uint64) ChainView {
	favs := s.favorites.ListByChain(chainID)
	return ChainView{
		ChainID:   chainID,
		ChainName: chain.Name(chainID),
		Favorites: favs,
		PriceIDs:  s.engine.PriceIDs(favs),
	}
}

// PriceIDs returns the price ids needed by every favorite.
func (s *Service) PriceIDs() []string {
	return s.engine.PriceIDs(s.favorites.List())
}

// =============================================================================
// Valuation
// =============================================================================

// ValuateRequest selects what to value. ChainID 0 selects every chain;
// an empty Owner values without balances.
type ValuateRequest struct {
	ChainID uint64 `json:"chain_id,omitempty"`
	Owner   string `json:"owner,omitempty"`
}

// Report is a valuation of favorites.
type Report struct {
	Valuations []valuation.Valuation `json:"valuations"`
	Summary    valuation.Summary     `json:"summary"`

	// MissingPrices lists ids without any price, cached or fresh.
	MissingPrices []string `json:"missing_prices,omitempty"`

	// BalanceErrors maps chains whose balances could not be read to the
	// reason. Quantities on those chains are unknown.
	BalanceErrors map[uint64]string `json:"balance_errors,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Valuate values the selected favorites. Price and balance failures
// degrade the report instead of failing it.
func (s *Service) Valuate(ctx context.Context, req ValuateRequest) (*Report, error) {
	var favs []favorites.Token
	if req.ChainID == 0 {
		favs = s.favorites.List()
	} else {
		favs = s.favorites.ListByChain(req.ChainID)
	}

	priceMap, missing, err := s.fetchPrices(ctx, s.engine.PriceIDs(favs))
	if err != nil {
		return nil, err
	}

	quantities, balanceErrs := s.quantities(ctx, req.Owner, chainsOf(favs))

	vs := s.engine.Valuate(favs, priceMap, quantities)
	return &Report{
		Valuations:    vs,
		Summary:       valuation.Summarize(vs),
		MissingPrices: missing,
		BalanceErrors: balanceErrs,
		GeneratedAt:   s.now(),
	}, nil
}

// TotalValue returns only the summary of Valuate.
func (s *Service) TotalValue(ctx context.Context, req ValuateRequest) (valuation.Summary, error) {
	report, err := s.Valuate(ctx, req)
	if err != nil {
		return valuation.Summary{}, err
	}
	return report.Summary, nil
}

// fetchPrices returns what the cache has. A partial failure is logged and
// reported as missing ids; only cancellation fails the call.
func (s *Service) fetchPrices(ctx context.Context, ids []string) (map[string]prices.Entry, []string, error) {
	priceMap, err := s.prices.GetPrices(ctx, ids)
	if err == nil {
		return priceMap, nil, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}

	missing := prices.MissingIDs(err)
	s.log.Warn("Prices unavailable", "ids", missing, "error", err)
	if priceMap == nil {
		priceMap = map[string]prices.Entry{}
	}
	return priceMap, missing, nil
}

// quantities reads owner's balances on chains. Without an owner or a
// balance source nothing is read and the placeholder applies. A chain whose
// read fails has unknown quantities; a chain read successfully gives zero to
// favorites it holds no row for.
func (s *Service) quantities(ctx context.Context, owner string, chains []uint64) (valuation.Quantities, map[uint64]string) {
	if owner == "" || s.balances == nil {
		return valuation.Quantities{}, nil
	}

	q := valuation.Quantities{
		Balances: make(map[chain.Identity]decimal.Decimal),
		Read:     make(map[uint64]bool),
		Failed:   make(map[uint64]bool),
	}
	var errs map[uint64]string
	for _, id := range chains {
		b, err := s.balances.GetBalances(ctx, owner, id)
		if err != nil {
			s.log.Warn("Balances unavailable", "owner", owner, "chain", id, "error", err)
			if errs == nil {
				errs = make(map[uint64]string)
			}
			errs[id] = err.Error()
			q.Failed[id] = true
			continue
		}
		q.Read[id] = true
		for k, v := range b.Quantities() {
			q.Balances[k] = v
		}
	}
	return q, errs
}

func chainsOf(favs []favorites.Token) []uint64 {
	seen := make(map[uint64]bool)
	var out []uint64
	for _, f := range favs {
		if !seen[f.ChainID] {
			seen[f.ChainID] = true
			out = append(out, f.ChainID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// Asset overview
// =============================================================================

// Asset is one balance row with its valuation.
type Asset struct {
	balances.Row
	IsFavorite bool                `json:"is_favorite"`
	Valuation  valuation.Valuation `json:"valuation"`
}

// Overview is the wallet view of one chain.
type Overview struct {
	Owner         string            `json:"owner"`
	ChainID       uint64            `json:"chain_id"`
	Assets        []Asset           `json:"assets"`
	Summary       valuation.Summary `json:"summary"`
	MissingPrices []string          `json:"missing_prices,omitempty"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// AssetOverview values every balance of owner on chainID. A balance failure
// fails the overview; a price failure leaves assets unpriced.
func (s *Service) AssetOverview(ctx context.Context, owner string, chainID uint64) (*Overview, error) {
	if s.balances == nil {
		return nil, fmt.Errorf("%w: no balance source configured", balances.ErrBalanceFetchFailed)
	}
	b, err := s.balances.GetBalances(ctx, owner, chainID)
	if err != nil {
		return nil, err
	}

	tokens := make([]favorites.Token, 0, len(b.Rows))
	for _, row := range b.Rows {
		tokens = append(tokens, favorites.Token{
			Address:  row.Address,
			Symbol:   row.Symbol,
			Name:     row.Name,
			Decimals: row.Decimals,
			ChainID:  row.ChainID,
		})
	}

	priceMap, missing, err := s.fetchPrices(ctx, s.engine.PriceIDs(tokens))
	if err != nil {
		return nil, err
	}

	vs := s.engine.Valuate(tokens, priceMap, valuation.ReadQuantities(b.Quantities(), chainID))
	assets := make([]Asset, 0, len(b.Rows))
	for i, row := range b.Rows {
		assets = append(assets, Asset{
			Row:        row,
			IsFavorite: s.favorites.IsFavorite(row.Address, row.ChainID),
			Valuation:  vs[i],
		})
	}

	return &Overview{
		Owner:         b.Owner,
		ChainID:       chainID,
		Assets:        assets,
		Summary:       valuation.Summarize(vs),
		MissingPrices: missing,
		FetchedAt:     b.FetchedAt,
	}, nil
}
