package main

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingfolio/internal/balances"
	"github.com/Klingon-tech/klingfolio/internal/config"
	"github.com/Klingon-tech/klingfolio/internal/favorites"
	"github.com/Klingon-tech/klingfolio/internal/portfolio"
	"github.com/Klingon-tech/klingfolio/internal/prices"
	"github.com/Klingon-tech/klingfolio/internal/quote"
	"github.com/Klingon-tech/klingfolio/internal/storage"
	"github.com/Klingon-tech/klingfolio/pkg/logging"
)

// app holds the services shared by the daemon and the CLI commands.
type app struct {
	cfg *config.Config
	log *logging.Logger

	store     *storage.Storage
	favorites *favorites.Store
	registry  *prices.Registry
	prices    *prices.Cache
	balances  *balances.EVM
	quotes    *quote.Simulator
	portfolio *portfolio.Service

	closers []io.Closer
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configFile != "" {
		cfg, err = config.LoadConfigFile(flags.configFile, flags.dataDir)
	} else {
		cfg, err = config.LoadConfig(flags.dataDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}

// setupLogging installs the default logger. The returned closer is nil
// unless a log file is configured.
func setupLogging(cfg *config.Config, stderr io.Writer) (*logging.Logger, io.Closer, error) {
	var (
		out    = stderr
		closer io.Closer
	)
	if cfg.Logging.File != "" {
		w, c, err := logging.OpenFile(storage.ExpandPath(cfg.Logging.File))
		if err != nil {
			return nil, nil, err
		}
		out, closer = w, c
	}

	log := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
		Output:     out,
	})
	logging.SetDefault(log)
	return log, closer, nil
}

// newApp loads configuration and builds every service. Nothing here touches
// the network: price and balance sources connect on first use.
func newApp(flags *globalFlags, stderr io.Writer) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	log, logCloser, err := setupLogging(cfg, stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	dataDir := cfg.ExpandedDataDir()
	a.store, err = storage.New(&storage.Config{DataDir: dataDir})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.closers = append(a.closers, a.store)
	log.Debug("Storage initialized", "path", a.store.Path())

	var persister favorites.Persister
	switch cfg.Storage.Backend {
	case config.StorageFile:
		persister = favorites.NewFilePersister(favorites.DefaultFilePath(dataDir))
	default:
		persister = favorites.NewSettingsPersister(a.store, favorites.StorageKey)
	}
	a.favorites, err = favorites.New(&favorites.Config{
		Persister: persister,
		Logger:    log.Component("favorites"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}

	a.registry = prices.DefaultRegistry()
	a.prices = prices.NewCache(&prices.CacheConfig{
		Source: prices.NewCoinGecko(
			prices.WithBaseURL(cfg.Prices.Endpoint),
			prices.WithAPIKey(cfg.Prices.APIKey),
			prices.WithRetries(cfg.Prices.Retries, 500*time.Millisecond),
		),
		StalenessWindow: cfg.Prices.StalenessWindow,
		Timeout:         cfg.Prices.Timeout,
		Store:           a.store,
		Logger:          log.Component("prices"),
	})
	if n, err := a.prices.Restore(); err != nil {
		log.Warn("Failed to restore price snapshot", "error", err)
	} else if n > 0 {
		log.Debug("Restored price snapshot", "prices", n)
	}

	a.balances = balances.NewEVM(&balances.EVMConfig{
		Dial:          balances.DialRPC(cfg.ChainRPC),
		DustThreshold: cfg.DustThreshold(),
		Timeout:       cfg.Balances.Timeout,
		Logger:        log.Component("balances"),
	})

	a.quotes, err = newSimulator(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.portfolio, err = portfolio.New(&portfolio.Config{
		Favorites:   a.favorites,
		Prices:      a.prices,
		Registry:    a.registry,
		Balances:    a.balances,
		Placeholder: cfg.Placeholder(),
		Logger:      log.Component("portfolio"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newSimulator builds the quote simulator from the configured rate table.
func newSimulator(cfg *config.Config, log *logging.Logger) (*quote.Simulator, error) {
	rates := quote.DefaultRates()
	if cfg.Quote.RatesFile != "" {
		var err error
		rates, err = quote.LoadRatesFile(storage.ExpandPath(cfg.Quote.RatesFile))
		if err != nil {
			return nil, fmt.Errorf("failed to load rates: %w", err)
		}
		log.Debug("Loaded rate table", "path", cfg.Quote.RatesFile, "pairs", rates.Len())
	}

	return quote.NewSimulator(&quote.Config{
		Rates:            rates,
		SlippageFraction: decimal.NewNullDecimal(cfg.SlippageFraction()),
		Logger:           log.Component("quote"),
	}), nil
}

// Close releases storage, chain clients and the log file, in reverse order.
func (a *app) Close() {
	if a.balances != nil {
		a.balances.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.log != nil {
			a.log.Error("Error during shutdown", "error", err)
		}
	}
	a.closers = nil
}
