package prices

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Klingon-tech/klingfolio/internal/metrics"
	"github.com/Klingon-tech/klingfolio/pkg/logging"
)

const refreshJob = "refresh_prices"

// RefresherConfig configures the background refresher.
type RefresherConfig struct {
	// Schedule is a cron spec, e.g. "@every 30s" or "*/5 * * * *".
	Schedule string

	// IDs returns the ids to keep warm, typically the favorites' price ids.
	IDs func() []string

	// SnapshotRetention prunes persisted prices older than this. Zero
	// disables pruning.
	SnapshotRetention time.Duration

	// Logger defaults to the "price-refresher" component of the default
	// logger.
	Logger *logging.Logger
}

// DefaultRefresherConfig returns the default configuration.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Schedule:          "@every 30s",
		SnapshotRetention: 7 * 24 * time.Hour,
	}
}

// Refresher periodically refreshes prices so readers are served fresh
// entries without waiting on the source.
type Refresher struct {
	cache  *Cache
	config RefresherConfig
	cron   *cron.Cron
	log    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRefresher creates a refresher. The schedule is validated here.
func NewRefresher(cache *Cache, cfg RefresherConfig) (*Refresher, error) {
	if cfg.IDs == nil {
		return nil, fmt.Errorf("refresher requires an id supplier")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetDefault().Component("price-refresher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Refresher{
		cache:  cache,
		config: cfg,
		cron:   cron.New(),
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := r.cron.AddFunc(cfg.Schedule, r.run); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.Schedule, err)
	}
	return r, nil
}

// Start starts the schedule.
func (r *Refresher) Start() {
	r.cron.Start()
	r.log.Info("Price refresher started", "schedule", r.config.Schedule)
}

// Stop stops the schedule and waits for a running job to finish.
func (r *Refresher) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
	r.log.Info("Price refresher stopped")
}

func (r *Refresher) run() {
	if err := r.RunOnce(r.ctx); err != nil {
		r.log.Warn("Price refresh failed", "error", err)
	}
}

// RunOnce refreshes the current id set and prunes old snapshots.
func (r *Refresher) RunOnce(ctx context.Context) error {
	started := time.Now()

	ids := r.config.IDs()
	var err error
	if len(ids) > 0 {
		_, err = r.cache.Refresh(ctx, ids)
	}
	metrics.UpdateJobMetrics(refreshJob, started, err)

	if r.config.SnapshotRetention > 0 {
		if n, perr := r.cache.Prune(r.config.SnapshotRetention); perr != nil {
			r.log.Warn("Failed to prune price snapshots", "error", perr)
		} else if n > 0 {
			r.log.Debug("Pruned price snapshots", "count", n)
		}
	}

	if err != nil {
		return err
	}
	r.log.Debug("Prices refreshed", "ids", len(ids), "duration", time.Since(started))
	return nil
}
