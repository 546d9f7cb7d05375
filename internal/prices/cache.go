package prices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingfolio/internal/metrics"
	"github.com/Klingon-tech/klingfolio/internal/storage"
	"github.com/Klingon-tech/klingfolio/pkg/logging"
)

// Cache defaults.
const (
	DefaultStalenessWindow = 60 * time.Second
	DefaultTimeout         = 5 * time.Second
)

// SnapshotStore persists last-known prices across restarts.
type SnapshotStore interface {
	SavePrices(records []*storage.PriceRecord) error
	LoadPrices() ([]*storage.PriceRecord, error)
	PruneOldPrices(cutoff time.Time) (int64, error)
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	Source Source

	// StalenessWindow is the age below which an entry is served without
	// a new external call.
	StalenessWindow time.Duration

	// Timeout is the hard timeout of one external call. A timeout is a
	// fetch failure.
	Timeout time.Duration

	// Store keeps a snapshot of fetched prices. Optional.
	Store SnapshotStore

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger *logging.Logger
}

// Cache serves USD prices per id, refreshing entries older than the
// staleness window. Concurrent requests for ids that are already being
// fetched wait for that fetch instead of issuing another one.
type Cache struct {
	source  Source
	window  time.Duration
	timeout time.Duration
	store   SnapshotStore
	now     func() time.Time
	log     *logging.Logger

	mu       sync.Mutex
	entries  map[string]Entry
	inflight map[string]*call

	listenersMu sync.RWMutex
	listeners   []func(map[string]Entry)
}

// call is one in-flight external fetch shared by every waiter on its ids.
type call struct {
	done chan struct{}
	err  error
}

// NewCache creates a price cache.
func NewCache(cfg *CacheConfig) *Cache {
	c := &Cache{
		source:   cfg.Source,
		window:   cfg.StalenessWindow,
		timeout:  cfg.Timeout,
		store:    cfg.Store,
		now:      cfg.Clock,
		log:      cfg.Logger,
		entries:  make(map[string]Entry),
		inflight: make(map[string]*call),
	}
	if c.window <= 0 {
		c.window = DefaultStalenessWindow
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = logging.GetDefault().Component("prices")
	}
	return c
}

// StalenessWindow returns the configured staleness window.
func (c *Cache) StalenessWindow() time.Duration { return c.window }

// Restore seeds the cache from the snapshot store. Restored entries keep
// their original fetch time, so they are stale unless very recent.
func (c *Cache) Restore() (int, error) {
	if c.store == nil {
		return 0, nil
	}
	records, err := c.store.LoadPrices()
	if err != nil {
		return 0, fmt.Errorf("failed to load price snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, r := range records {
		usd, err := decimal.NewFromString(r.USD)
		if err != nil || usd.IsNegative() {
			c.log.Warn("Skipping invalid price snapshot", "id", r.PriceID, "usd", r.USD)
			continue
		}
		if cur, ok := c.entries[r.PriceID]; ok && cur.FetchedAt.After(r.FetchedAt) {
			continue
		}
		c.entries[r.PriceID] = Entry{USD: usd, FetchedAt: r.FetchedAt}
		n++
	}
	return n, nil
}

// Prune drops snapshot records older than maxAge from the store.
func (c *Cache) Prune(maxAge time.Duration) (int64, error) {
	if c.store == nil {
		return 0, nil
	}
	return c.store.PruneOldPrices(c.now().Add(-maxAge))
}

// OnUpdate registers a listener called with the entries written by each
// successful fetch.
func (c *Cache) OnUpdate(fn func(map[string]Entry)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Cache) notify(updated map[string]Entry) {
	c.listenersMu.RLock()
	listeners := c.listeners
	c.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(updated)
	}
}

// GetPrices returns an entry for every requested id that has a price.
// Fresh entries are served from the cache; the rest are fetched. When the
// fetch fails, previously cached entries are returned with Stale set, and
// ids with no price at all are reported in a *FetchError alongside the
// partial result. Empty input makes no external call.
func (c *Cache) GetPrices(ctx context.Context, ids []string) (map[string]Entry, error) {
	return c.get(ctx, ids, false)
}

// Refresh fetches ids regardless of their age and returns the resulting
// entries, with the same partial-failure semantics as GetPrices.
func (c *Cache) Refresh(ctx context.Context, ids []string) (map[string]Entry, error) {
	return c.get(ctx, ids, true)
}

// Peek returns cached entries for ids without any external call.
func (c *Cache) Peek(ids []string) map[string]Entry {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Entry, len(ids))
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			e.Stale = !c.fresh(e, now)
			out[id] = e
		}
	}
	return out
}

// Len returns the number of cached ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) fresh(e Entry, now time.Time) bool {
	return now.Sub(e.FetchedAt) < c.window
}

func (c *Cache) get(ctx context.Context, ids []string, force bool) (map[string]Entry, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return map[string]Entry{}, nil
	}

	now := c.now()
	var (
		missing []string
		waits   []*call
		seen    = make(map[*call]bool)
	)

	c.mu.Lock()
	for _, id := range ids {
		if inflight, ok := c.inflight[id]; ok {
			if !seen[inflight] {
				seen[inflight] = true
				waits = append(waits, inflight)
			}
			metrics.PriceCacheLookupsTotal.WithLabelValues("coalesced").Inc()
			continue
		}
		e, ok := c.entries[id]
		switch {
		case ok && !force && c.fresh(e, now):
			metrics.PriceCacheLookupsTotal.WithLabelValues("hit").Inc()
			continue
		case ok:
			metrics.PriceCacheLookupsTotal.WithLabelValues("stale").Inc()
		default:
			metrics.PriceCacheLookupsTotal.WithLabelValues("miss").Inc()
		}
		missing = append(missing, id)
	}

	var own *call
	if len(missing) > 0 {
		own = &call{done: make(chan struct{})}
		for _, id := range missing {
			c.inflight[id] = own
		}
	}
	c.mu.Unlock()

	var cause error
	if own != nil {
		c.fetch(ctx, missing, own)
		cause = own.err
	}

wait:
	for _, w := range waits {
		select {
		case <-w.done:
			if cause == nil {
				cause = w.err
			}
		case <-ctx.Done():
			if cause == nil {
				cause = ctx.Err()
			}
			break wait
		}
	}

	return c.collect(ids, cause)
}

// fetch performs one external call for ids and publishes the result. The
// call is detached from ctx cancellation so that waiters sharing it are not
// failed by the caller going away; it is bounded by the cache timeout.
func (c *Cache) fetch(ctx context.Context, ids []string, own *call) {
	defer func() {
		c.mu.Lock()
		for _, id := range ids {
			if c.inflight[id] == own {
				delete(c.inflight, id)
			}
		}
		c.mu.Unlock()
		close(own.done)
	}()

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	started := time.Now()
	got, err := c.source.FetchPrices(fetchCtx, ids)
	metrics.ObservePriceFetch(c.source.Name(), started, err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		own.err = fmt.Errorf("%s: %w", c.source.Name(), err)
		c.log.Warn("Price fetch failed", "source", c.source.Name(), "ids", ids, "error", err)
		return
	}

	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}

	fetchedAt := c.now()
	updated := make(map[string]Entry, len(got))

	c.mu.Lock()
	for id, usd := range got {
		if !requested[id] {
			continue
		}
		if usd.IsNegative() {
			c.log.Warn("Ignoring negative price", "id", id, "usd", usd)
			continue
		}
		e := Entry{USD: usd, FetchedAt: fetchedAt}
		c.entries[id] = e
		updated[id] = e
	}
	c.mu.Unlock()

	c.log.Debug("Prices fetched", "source", c.source.Name(), "requested", len(ids), "received", len(updated))

	if len(updated) == 0 {
		return
	}
	c.saveSnapshot(updated)
	c.notify(updated)
}

func (c *Cache) saveSnapshot(updated map[string]Entry) {
	if c.store == nil {
		return
	}
	records := make([]*storage.PriceRecord, 0, len(updated))
	for id, e := range updated {
		records = append(records, &storage.PriceRecord{
			PriceID:   id,
			USD:       e.USD.String(),
			FetchedAt: e.FetchedAt,
			Source:    c.source.Name(),
		})
	}
	if err := c.store.SavePrices(records); err != nil {
		c.log.Warn("Failed to save price snapshot", "error", err)
	}
}

func (c *Cache) collect(ids []string, cause error) (map[string]Entry, error) {
	now := c.now()

	c.mu.Lock()
	out := make(map[string]Entry, len(ids))
	var unknown []string
	for _, id := range ids {
		e, ok := c.entries[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		e.Stale = !c.fresh(e, now)
		out[id] = e
	}
	c.mu.Unlock()

	if len(unknown) > 0 {
		if cause == nil {
			cause = errNoPrice
		}
		return out, &FetchError{IDs: unknown, Err: cause}
	}
	return out, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
