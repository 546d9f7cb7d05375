// Package config loads the klingfolio configuration file and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/storage"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Environment variables that override file values.
const (
	EnvLogLevel        = "KLINGFOLIO_LOG_LEVEL"
	EnvRPCAddr         = "KLINGFOLIO_RPC_ADDR"
	EnvCoinGeckoAPIKey = "KLINGFOLIO_COINGECKO_API_KEY"
	EnvPricesEndpoint  = "KLINGFOLIO_PRICES_ENDPOINT"
	EnvSlippagePercent = "KLINGFOLIO_SLIPPAGE_PERCENT"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageFile   = "file"
)

// Config holds all configuration for the daemon and CLI.
type Config struct {
	// DataDir is the directory for the database, favorites file and logs.
	DataDir string `yaml:"data_dir"`

	RPC       RPCConfig       `yaml:"rpc"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Prices    PricesConfig    `yaml:"prices"`
	Quote     QuoteConfig     `yaml:"quote"`
	Valuation ValuationConfig `yaml:"valuation"`
	Balances  BalancesConfig  `yaml:"balances"`

	// Chains overrides per-chain settings, keyed by chain ID.
	Chains map[uint64]*ChainConfig `yaml:"chains,omitempty"`
}

// RPCConfig holds JSON-RPC server settings.
type RPCConfig struct {
	// Addr is the listen address of the JSON-RPC / websocket server.
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr only).
	File string `yaml:"file"`
}

// StorageConfig selects where favorites are persisted.
type StorageConfig struct {
	// Backend is "sqlite" (settings table) or "file" (JSON document).
	Backend string `yaml:"backend"`
}

// PricesConfig holds price source and cache settings.
type PricesConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`

	// Timeout is the hard timeout of one price request. A timeout counts
	// as a fetch failure.
	Timeout time.Duration `yaml:"timeout"`

	// StalenessWindow is how long a cached price is served without refresh.
	StalenessWindow time.Duration `yaml:"staleness_window"`

	// Retries is the number of extra attempts after a failed request.
	Retries int `yaml:"retries"`

	// RefreshSchedule is a cron spec for background refresh of favorite
	// prices. Empty disables the refresher.
	RefreshSchedule string `yaml:"refresh_schedule"`
}

// QuoteConfig holds swap quote simulation settings.
type QuoteConfig struct {
	// SlippagePercent is the single slippage parameter used for minimum
	// output, in percent (0.5 = 0.5%).
	SlippagePercent float64 `yaml:"slippage_percent"`

	// Debounce is the quiescence period before the last quote request runs.
	Debounce time.Duration `yaml:"debounce"`

	// DeadlineMinutes is used for the swap deadline helper.
	DeadlineMinutes int `yaml:"deadline_minutes"`

	// RatesFile is an optional YAML rate table replacing the built-in rates.
	RatesFile string `yaml:"rates_file"`
}

// ValuationConfig holds valuation settings.
type ValuationConfig struct {
	// PlaceholderQuantity is used for favorites without a known balance.
	// Empty means the quantity is unknown and the token is excluded from totals.
	PlaceholderQuantity string `yaml:"placeholder_quantity"`
}

// BalancesConfig holds balance collaborator settings.
type BalancesConfig struct {
	// DustThreshold hides token balances at or below this amount.
	DustThreshold string `yaml:"dust_threshold"`

	// Timeout bounds one balance lookup across all tokens of a chain.
	Timeout time.Duration `yaml:"timeout"`
}

// ChainConfig holds per-chain overrides.
type ChainConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	chains := make(map[uint64]*ChainConfig)
	for _, p := range chain.List() {
		chains[p.ChainID] = &ChainConfig{RPCURL: p.DefaultRPC}
	}

	return &Config{
		DataDir: "~/.klingfolio",
		RPC: RPCConfig{
			Addr: "127.0.0.1:8090",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Storage: StorageConfig{
			Backend: StorageSQLite,
		},
		Prices: PricesConfig{
			Endpoint:        "https://api.coingecko.com/api/v3",
			Timeout:         5 * time.Second,
			StalenessWindow: 60 * time.Second,
			Retries:         2,
			RefreshSchedule: "@every 30s",
		},
		Quote: QuoteConfig{
			SlippagePercent: 0.5,
			Debounce:        400 * time.Millisecond,
			DeadlineMinutes: 20,
		},
		Valuation: ValuationConfig{
			PlaceholderQuantity: "",
		},
		Balances: BalancesConfig{
			DustThreshold: "0.01",
			Timeout:       10 * time.Second,
		},
		Chains: chains,
	}
}

// ConfigPath returns the config file path inside a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(storage.ExpandPath(dataDir), ConfigFileName)
}

// LoadConfig loads configuration from a YAML file in dataDir.
// If the file doesn't exist, it creates one with default values.
// Environment overrides are applied after the file is read.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}

	return LoadConfigFile(configPath, dataDir)
}

// LoadConfigFile loads configuration from the YAML file at path, which must
// exist. dataDir is used when the file does not set data_dir.
func LoadConfigFile(path, dataDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# klingfolio configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides values from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvRPCAddr); v != "" {
		c.RPC.Addr = v
	}
	if v := os.Getenv(EnvCoinGeckoAPIKey); v != "" {
		c.Prices.APIKey = v
	}
	if v := os.Getenv(EnvPricesEndpoint); v != "" {
		c.Prices.Endpoint = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvSlippagePercent); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Quote.SlippagePercent = f
		}
	}
}

// Validate checks the configuration for values the services cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Prices.Timeout <= 0 {
		errs = append(errs, errors.New("prices.timeout must be positive"))
	}
	if c.Prices.StalenessWindow <= 0 {
		errs = append(errs, errors.New("prices.staleness_window must be positive"))
	}
	if c.Prices.Retries < 0 {
		errs = append(errs, errors.New("prices.retries must not be negative"))
	}
	if c.Prices.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.Prices.RefreshSchedule); err != nil {
			errs = append(errs, fmt.Errorf("prices.refresh_schedule: %w", err))
		}
	}
	if c.Quote.SlippagePercent < 0 || c.Quote.SlippagePercent >= 100 {
		errs = append(errs, fmt.Errorf("quote.slippage_percent %v out of range [0, 100)", c.Quote.SlippagePercent))
	}
	if c.Quote.Debounce < 0 {
		errs = append(errs, errors.New("quote.debounce must not be negative"))
	}
	if c.Valuation.PlaceholderQuantity != "" {
		if _, err := decimal.NewFromString(c.Valuation.PlaceholderQuantity); err != nil {
			errs = append(errs, fmt.Errorf("valuation.placeholder_quantity: %w", err))
		}
	}
	if c.Balances.DustThreshold != "" {
		if _, err := decimal.NewFromString(c.Balances.DustThreshold); err != nil {
			errs = append(errs, fmt.Errorf("balances.dust_threshold: %w", err))
		}
	}
	switch c.Storage.Backend {
	case StorageSQLite, StorageFile:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be %q or %q", c.Storage.Backend, StorageSQLite, StorageFile))
	}

	return errors.Join(errs...)
}

// SlippageFraction returns the configured slippage as a fraction (0.005 for 0.5%).
func (c *Config) SlippageFraction() decimal.Decimal {
	return decimal.NewFromFloat(c.Quote.SlippagePercent).Div(decimal.NewFromInt(100))
}

// Placeholder returns the placeholder quantity, if one is configured.
func (c *Config) Placeholder() decimal.NullDecimal {
	if c.Valuation.PlaceholderQuantity == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(c.Valuation.PlaceholderQuantity)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// DustThreshold returns the balance dust threshold.
func (c *Config) DustThreshold() decimal.Decimal {
	d, err := decimal.NewFromString(c.Balances.DustThreshold)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ChainRPC returns the RPC URL for a chain: the configured override, or the
// chain's default endpoint.
func (c *Config) ChainRPC(chainID uint64) string {
	if cc, ok := c.Chains[chainID]; ok && cc != nil && cc.RPCURL != "" {
		return cc.RPCURL
	}
	if p, ok := chain.Get(chainID); ok {
		return p.DefaultRPC
	}
	return ""
}

// ExpandedDataDir returns DataDir with ~ expanded.
func (c *Config) ExpandedDataDir() string {
	return storage.ExpandPath(c.DataDir)
}
