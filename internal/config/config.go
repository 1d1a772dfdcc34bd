// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/katz-bot/internal/breaker"
	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/flipper"
	"github.com/rovshanmuradov/katz-bot/internal/logger"
	"github.com/rovshanmuradov/katz-bot/internal/queue"
	"github.com/rovshanmuradov/katz-bot/internal/ratelimit"
)

// EnvPrefix is prepended to every environment override, e.g. KATZ_STORAGE_DSN.
const EnvPrefix = "KATZ"

type NetworkConfig struct {
	RPCURLs []string `mapstructure:"rpc_urls"`
	// GasEstimate is the native amount reserved per trade when checking balances.
	GasEstimate float64 `mapstructure:"gas_estimate"`
}

type QueueConfig struct {
	GasRefreshInterval time.Duration `mapstructure:"gas_refresh_interval"`
	GasRetries         uint          `mapstructure:"gas_retries"`
	TradeTimeout       time.Duration `mapstructure:"trade_timeout"`
	HistoryLimit       int           `mapstructure:"history_limit"`
}

type FlipperConfig struct {
	Network          string        `mapstructure:"network"`
	MinLiquidity     float64       `mapstructure:"min_liquidity"`
	MinHolders       int           `mapstructure:"min_holders"`
	MaxPositions     int           `mapstructure:"max_positions"`
	ProfitTarget     float64       `mapstructure:"profit_target"`
	StopLoss         float64       `mapstructure:"stop_loss"`
	TimeLimit        time.Duration `mapstructure:"time_limit"`
	GasBuffer        float64       `mapstructure:"gas_buffer"`
	BuyAmount        float64       `mapstructure:"buy_amount"`
	IntakeBase       time.Duration `mapstructure:"intake_base"`
	IntakeStep       time.Duration `mapstructure:"intake_step"`
	IntakeMax        time.Duration `mapstructure:"intake_max"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres or mongo.
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type PriceFeedConfig struct {
	// Mode is poll or ws.
	Mode         string        `mapstructure:"mode"`
	WSURL        string        `mapstructure:"ws_url"`
	APIURL       string        `mapstructure:"api_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type TradingConfig struct {
	SlippageBps int64 `mapstructure:"slippage_bps"`
}

type Config struct {
	Networks                 map[string]NetworkConfig    `mapstructure:"networks"`
	Breakers                 map[string]breaker.Config   `mapstructure:"breakers"`
	RateLimits               map[string]ratelimit.Config `mapstructure:"rate_limits"`
	RateLimitCleanupInterval time.Duration               `mapstructure:"rate_limit_cleanup_interval"`
	Queue                    QueueConfig                 `mapstructure:"queue"`
	Flipper                  FlipperConfig               `mapstructure:"flipper"`
	Storage                  StorageConfig               `mapstructure:"storage"`
	Telegram                 TelegramConfig              `mapstructure:"telegram"`
	PriceFeed                PriceFeedConfig             `mapstructure:"price_feed"`
	Trading                  TradingConfig               `mapstructure:"trading"`
	WalletsFile              string                      `mapstructure:"wallets_file"`
	JournalDir               string                      `mapstructure:"journal_dir"`
	MetricsAddr              string                      `mapstructure:"metrics_addr"`
	HealthInterval           time.Duration               `mapstructure:"health_interval"`
	Log                      logger.Config               `mapstructure:"log"`
	DebugLogging             bool                        `mapstructure:"debug_logging"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"

	FeedPoll = "poll"
	FeedWS   = "ws"
)

func defaults() map[string]interface{} {
	fc := flipper.DefaultConfig()
	qc := queue.DefaultConfig()
	lc := logger.DefaultConfig()
	return map[string]interface{}{
		"rate_limit_cleanup_interval": time.Minute,
		"queue.gas_refresh_interval":  qc.GasRefreshInterval,
		"queue.gas_retries":           qc.GasRetries,
		"queue.trade_timeout":         qc.TradeTimeout,
		"queue.history_limit":         qc.HistoryLimit,
		"flipper.network":             string(fc.Network),
		"flipper.min_liquidity":       fc.Monitor.MinLiquidity,
		"flipper.min_holders":         fc.Monitor.MinHolders,
		"flipper.max_positions":       fc.Monitor.MaxPositions,
		"flipper.profit_target":       fc.Monitor.ProfitTarget,
		"flipper.stop_loss":           fc.Monitor.StopLoss,
		"flipper.time_limit":          fc.Monitor.TimeLimit,
		"flipper.gas_buffer":          fc.Monitor.GasBuffer.InexactFloat64(),
		"flipper.buy_amount":          fc.Monitor.BuyAmount.InexactFloat64(),
		"flipper.intake_base":         fc.Intake.Base,
		"flipper.intake_step":         fc.Intake.Step,
		"flipper.intake_max":          fc.Intake.Max,
		"flipper.snapshot_interval":   fc.SnapshotInterval,
		"storage.driver":              DriverMemory,
		"storage.database":            "katz",
		"storage.dsn":                 "",
		"telegram.token":              "",
		"telegram.chat_id":            0,
		"price_feed.ws_url":           "",
		"price_feed.api_url":          "",
		"wallets_file":                "",
		"debug_logging":               false,
		"price_feed.mode":             FeedPoll,
		"price_feed.poll_interval":    2 * time.Second,
		"trading.slippage_bps":        100,
		"journal_dir":                 "trades",
		"metrics_addr":                ":9090",
		"health_interval":             30 * time.Second,
		"log.file":                    lc.File,
		"log.max_size":                lc.MaxSize,
		"log.max_age":                 lc.MaxAge,
		"log.max_backups":             lc.MaxBackups,
		"log.compress":                lc.Compress,
	}
}

// LoadConfig reads path (json, yaml or toml by extension) and applies KATZ_
// environment overrides. An empty path uses defaults and the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)
	cfg.Log.Debug = cfg.DebugLogging

	return &cfg, validateConfig(&cfg)
}

// loadEnvironmentVariables covers the keys AutomaticEnv cannot reach because
// they live under maps or are lists.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	for _, n := range domain.SupportedNetworks() {
		raw := v.GetString(strings.ToUpper(string(n)) + "_RPC_URLS")
		if raw == "" {
			continue
		}
		urls := splitList(raw)
		if len(urls) == 0 {
			continue
		}
		if cfg.Networks == nil {
			cfg.Networks = make(map[string]NetworkConfig)
		}
		nc := cfg.Networks[string(n)]
		nc.RPCURLs = urls
		cfg.Networks[string(n)] = nc
	}
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if clean := strings.TrimSpace(s); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	for name, nc := range cfg.Networks {
		if _, err := domain.ParseNetwork(name); err != nil {
			return fmt.Errorf("networks: %w", err)
		}
		for _, u := range nc.RPCURLs {
			if err := validateURLWithCache(u, "http", "ws"); err != nil {
				return fmt.Errorf("networks.%s: invalid rpc url %q", name, u)
			}
		}
		if nc.GasEstimate < 0 {
			return fmt.Errorf("networks.%s: gas_estimate must be >= 0", name)
		}
	}

	for name, bc := range cfg.BreakerConfigs() {
		if err := bc.Validate(); err != nil {
			return fmt.Errorf("breakers.%s: %w", name, err)
		}
	}
	for action, rc := range cfg.RateLimits {
		if err := rc.Validate(); err != nil {
			return fmt.Errorf("rate_limits.%s: %w", action, err)
		}
	}
	if cfg.RateLimitCleanupInterval <= 0 {
		return errors.New("invalid rate_limit_cleanup_interval")
	}

	if err := validateQueue(cfg.Queue); err != nil {
		return err
	}
	fc, err := cfg.FlipperSettings()
	if err != nil {
		return err
	}
	if err := fc.Monitor.Validate(); err != nil {
		return fmt.Errorf("flipper: %w", err)
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverMongo:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage: dsn is required for driver %q", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver)
	}

	switch cfg.PriceFeed.Mode {
	case FeedPoll:
		if cfg.PriceFeed.PollInterval <= 0 {
			return errors.New("price_feed: invalid poll_interval")
		}
	case FeedWS:
		if err := validateURLWithCache(cfg.PriceFeed.WSURL, "ws"); err != nil {
			return errors.New("price_feed: invalid WebSocket URL protocol")
		}
	default:
		return fmt.Errorf("price_feed: unknown mode %q", cfg.PriceFeed.Mode)
	}
	if cfg.PriceFeed.APIURL != "" {
		if err := validateURLWithCache(cfg.PriceFeed.APIURL, "http"); err != nil {
			return errors.New("price_feed: invalid api_url")
		}
	}

	if (cfg.Telegram.Token == "") != (cfg.Telegram.ChatID == 0) {
		return errors.New("telegram: token and chat_id must be set together")
	}
	if cfg.Trading.SlippageBps < 0 || cfg.Trading.SlippageBps >= 10000 {
		return errors.New("trading: slippage_bps must be in [0, 10000)")
	}
	if cfg.HealthInterval <= 0 {
		return errors.New("invalid health_interval")
	}
	return nil
}

func validateQueue(q QueueConfig) error {
	if q.GasRefreshInterval <= 0 {
		return errors.New("queue: invalid gas_refresh_interval")
	}
	if q.TradeTimeout <= 0 {
		return errors.New("queue: invalid trade_timeout")
	}
	if q.HistoryLimit < 0 {
		return errors.New("queue: invalid history_limit")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocols ...string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return errors.New("invalid URL format")
	}
	for _, p := range protocols {
		if strings.HasPrefix(parsed.Scheme, p) {
			urlCache.Store(rawURL, parsed)
			return nil
		}
	}
	return errors.New("invalid URL protocol")
}

// BreakerConfigs overlays configured breakers on the built-in ones. Zero
// fields keep the built-in value.
func (c *Config) BreakerConfigs() map[string]breaker.Config {
	out := breaker.DefaultConfigs()
	for name, bc := range c.Breakers {
		base, ok := out[name]
		if !ok {
			base = breaker.DefaultConfig()
		}
		if bc.FailureThreshold != 0 {
			base.FailureThreshold = bc.FailureThreshold
		}
		if bc.ResetTimeout != 0 {
			base.ResetTimeout = bc.ResetTimeout
		}
		if bc.HalfOpenRetries != 0 {
			base.HalfOpenRetries = bc.HalfOpenRetries
		}
		if bc.RateLimitAction != "" {
			base.RateLimitAction = bc.RateLimitAction
		}
		out[name] = base
	}
	return out
}

// RateLimitConfigs overlays configured limits on the built-in ones.
func (c *Config) RateLimitConfigs() map[string]ratelimit.Config {
	out := ratelimit.DefaultConfigs()
	for action, rc := range c.RateLimits {
		out[action] = rc
	}
	return out
}

// ChainURLs returns the RPC endpoints per network.
func (c *Config) ChainURLs() map[domain.Network][]string {
	out := make(map[domain.Network][]string, len(c.Networks))
	for name, nc := range c.Networks {
		if len(nc.RPCURLs) > 0 {
			out[domain.Network(name)] = nc.RPCURLs
		}
	}
	return out
}

// QueueSettings converts the queue section, using the configured networks
// when any are set.
func (c *Config) QueueSettings() queue.Config {
	qc := queue.DefaultConfig()
	qc.GasRefreshInterval = c.Queue.GasRefreshInterval
	qc.GasRetries = c.Queue.GasRetries
	qc.TradeTimeout = c.Queue.TradeTimeout
	qc.HistoryLimit = c.Queue.HistoryLimit
	for name, nc := range c.Networks {
		if nc.GasEstimate > 0 {
			qc.GasEstimates[domain.Network(name)] = decimal.NewFromFloat(nc.GasEstimate)
		}
	}
	return qc
}

// FlipperSettings converts the flipper section into engine settings.
func (c *Config) FlipperSettings() (flipper.Config, error) {
	f := c.Flipper
	network, err := domain.ParseNetwork(f.Network)
	if err != nil {
		return flipper.Config{}, fmt.Errorf("flipper: %w", err)
	}
	return flipper.Config{
		Monitor: flipper.MonitorConfig{
			MinLiquidity: f.MinLiquidity,
			MinHolders:   f.MinHolders,
			MaxPositions: f.MaxPositions,
			ProfitTarget: f.ProfitTarget,
			StopLoss:     f.StopLoss,
			TimeLimit:    f.TimeLimit,
			GasBuffer:    decimal.NewFromFloat(f.GasBuffer),
			BuyAmount:    decimal.NewFromFloat(f.BuyAmount),
		},
		Intake: flipper.IntakeConfig{
			Base: f.IntakeBase,
			Step: f.IntakeStep,
			Max:  f.IntakeMax,
		},
		Network:          network,
		SnapshotInterval: f.SnapshotInterval,
	}, nil
}
