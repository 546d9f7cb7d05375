// Package prices fetches USD prices from an external source and caches them
// per price-lookup id with a staleness window.
package prices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPriceFetchFailed is matched by every error reporting ids without a price.
var ErrPriceFetchFailed = errors.New("price fetch failed")

var errNoPrice = errors.New("no price returned by source")

// Source fetches USD prices for price-lookup ids. Ids the source does not
// know are omitted from the result.
//
//go:generate mockgen -package=prices_test -destination=mock_source_test.go -source=source.go Source
type Source interface {
	Name() string
	FetchPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error)
}

// Entry is a cached USD price.
type Entry struct {
	USD       decimal.Decimal `json:"usd"`
	FetchedAt time.Time       `json:"fetched_at"`

	// Stale is set when the entry is older than the staleness window and is
	// served as last-known-good.
	Stale bool `json:"stale"`
}

// FetchError lists the ids for which no price is available at all, cached
// or fresh. It matches ErrPriceFetchFailed.
type FetchError struct {
	IDs []string
	Err error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s for %s", ErrPriceFetchFailed, strings.Join(e.IDs, ","))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPriceFetchFailed}
	}
	return []error{ErrPriceFetchFailed, e.Err}
}

// MissingIDs returns the ids reported by a *FetchError inside err.
func MissingIDs(err error) []string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.IDs
	}
	return nil
}
