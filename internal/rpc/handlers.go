package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/favorites"
	"github.com/Klingon-tech/klingfolio/internal/portfolio"
)

// ========================================
// Node handlers
// ========================================

// NodeStatusResult is the response for node_status.
type NodeStatusResult struct {
	Running      bool   `json:"running"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	WSClients    int    `json:"ws_clients"`
	Favorites    int    `json:"favorites"`
	CachedPrices int    `json:"cached_prices"`
}

func (s *Server) nodeStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &NodeStatusResult{
		Running:      true,
		Version:      Version,
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		WSClients:    s.wsHub.ClientCount(),
		Favorites:    s.favorites.Count(),
		CachedPrices: s.prices.Len(),
	}, nil
}

// ========================================
// Chain registry handlers
// ========================================

// ChainInfo describes a supported chain.
type ChainInfo struct {
	ChainID      uint64 `json:"chain_id"`
	Name         string `json:"name"`
	NativeSymbol string `json:"native_symbol"`
	NativeName   string `json:"native_name"`
	Decimals     uint8  `json:"decimals"`
	ExplorerURL  string `json:"explorer_url"`
}

func (s *Server) chainsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	chains := chain.List()
	result := make([]ChainInfo, 0, len(chains))
	for _, p := range chains {
		result = append(result, ChainInfo{
			ChainID:      p.ChainID,
			Name:         p.Name,
			NativeSymbol: p.NativeSymbol,
			NativeName:   p.NativeName,
			Decimals:     p.Decimals,
			ExplorerURL:  p.ExplorerURL,
		})
	}
	return map[string]interface{}{"chains": result}, nil
}

// ChainParams selects a chain.
type ChainParams struct {
	ChainID uint64 `json:"chain_id"`
}

// TokenInfo describes a registry token.
type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Native   bool   `json:"native"`
	PriceID  string `json:"price_id,omitempty"`
}

func (s *Server) tokensList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ChainParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.ChainID == 0 {
		p.ChainID = chain.EthereumID
	}

	// Unknown chains fall back to the mainnet list.
	tokens := chain.ChainTokens(p.ChainID)
	result := make([]TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		priceID, _ := s.registry.ID(t.Symbol)
		result = append(result, TokenInfo{
			Symbol:   t.Symbol,
			Name:     t.Name,
			Address:  t.Address,
			Decimals: t.Decimals,
			Native:   t.IsNative(),
			PriceID:  priceID,
		})
	}
	return map[string]interface{}{"chain_id": p.ChainID, "tokens": result}, nil
}

// ========================================
// Favorites handlers
// ========================================

// TokenRefParams identifies a favorite.
type TokenRefParams struct {
	Address string `json:"address"`
	ChainID uint64 `json:"chain_id"`
}

// FavoriteAddResult is the response for favorites_add and
// favorites_quickAdd. Added is false when the token was already a favorite.
type FavoriteAddResult struct {
	Added bool            `json:"added"`
	Token favorites.Token `json:"token"`
}

func (s *Server) favoritesAdd(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p favorites.NewToken
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.Decimals == 0 && !hasField(params, "decimals") {
		p.Decimals = chain.DefaultDecimals
	}

	tok, added, err := s.portfolio.AddFavorite(p)
	if err != nil {
		return nil, err
	}
	return &FavoriteAddResult{Added: added, Token: tok}, nil
}

func (s *Server) favoritesRemove(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TokenRefParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	removed, err := s.favorites.Remove(p.Address, p.ChainID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"removed": removed}, nil
}

// FavoriteUpdateParams is the input of favorites_update. Identity fields
// select the favorite; they are never changed.
type FavoriteUpdateParams struct {
	TokenRefParams
	favorites.Patch
}

func (s *Server) favoritesUpdate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p FavoriteUpdateParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	tok, updated, err := s.favorites.Update(p.Address, p.ChainID, p.Patch)
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{"updated": updated}
	if updated {
		result["token"] = tok
	}
	return result, nil
}

func (s *Server) favoritesIsFavorite(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TokenRefParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	return map[string]bool{"is_favorite": s.favorites.IsFavorite(p.Address, p.ChainID)}, nil
}

func (s *Server) favoritesList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	favs := s.favorites.List()
	return map[string]interface{}{"favorites": favs, "count": len(favs)}, nil
}

func (s *Server) favoritesListByChain(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ChainParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.ChainID == 0 {
		return nil, fmt.Errorf("%w: chain_id is required", errInvalidParams)
	}
	return s.portfolio.ChainFavorites(p.ChainID), nil
}

func (s *Server) favoritesClear(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := s.favorites.Clear(); err != nil {
		return nil, err
	}
	return map[string]bool{"cleared": true}, nil
}

// QuickAddParams is the input of favorites_quickAdd.
type QuickAddParams struct {
	Symbol  string `json:"symbol"`
	ChainID uint64 `json:"chain_id"`
}

func (s *Server) favoritesQuickAdd(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p QuickAddParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	tok, added, err := s.portfolio.QuickAdd(p.Symbol, p.ChainID)
	if err != nil {
		return nil, err
	}
	return &FavoriteAddResult{Added: added, Token: tok}, nil
}

func (s *Server) favoritesQuickAddOptions(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ChainParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	return map[string][]portfolio.QuickAddOption{"options": s.portfolio.QuickAddOptions(p.ChainID)}, nil
}

func (s *Server) favoritesCounts(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.portfolio.Counts(), nil
}

// hasField reports whether the params object carries key.
func hasField(params json.RawMessage, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(params, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
