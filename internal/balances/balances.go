// Package balances reads wallet balances for the registered tokens of a
// chain. It is the quantity collaborator of the valuation engine.
package balances

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingfolio/internal/chain"
)

// Balance errors
var (
	ErrBalanceFetchFailed = errors.New("balance fetch failed")
	ErrUnsupportedChain   = chain.ErrUnsupportedChain
)

// Source returns the balances held by owner on a chain.
type Source interface {
	GetBalances(ctx context.Context, owner string, chainID uint64) (*Balances, error)
}

// Row is one token balance.
type Row struct {
	Address  string          `json:"address"` // canonical, or chain.NativeAddress
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Decimals uint8           `json:"decimals"`
	ChainID  uint64          `json:"chain_id"`
	Raw      *big.Int        `json:"raw"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Identity returns the row's token identity.
func (r Row) Identity() chain.Identity {
	return chain.MustIdentity(r.ChainID, r.Address)
}

// IsNative reports whether the row is the chain's native asset.
func (r Row) IsNative() bool {
	return r.Address == chain.NativeAddress
}

// Balances is a balance snapshot for one owner on one chain. The native row,
// when present, comes first; tokens follow in registry order.
type Balances struct {
	Owner     string    `json:"owner"`
	ChainID   uint64    `json:"chain_id"`
	Rows      []Row     `json:"rows"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Quantities indexes the snapshot by token identity.
func (b *Balances) Quantities() map[chain.Identity]decimal.Decimal {
	if b == nil {
		return map[chain.Identity]decimal.Decimal{}
	}
	out := make(map[chain.Identity]decimal.Decimal, len(b.Rows))
	for _, r := range b.Rows {
		out[r.Identity()] = r.Quantity
	}
	return out
}

// Native returns the native asset row, if present.
func (b *Balances) Native() (Row, bool) {
	for _, r := range b.Rows {
		if r.IsNative() {
			return r, true
		}
	}
	return Row{}, false
}

// Tokens returns the non-native rows.
func (b *Balances) Tokens() []Row {
	out := make([]Row, 0, len(b.Rows))
	for _, r := range b.Rows {
		if !r.IsNative() {
			out = append(out, r)
		}
	}
	return out
}
