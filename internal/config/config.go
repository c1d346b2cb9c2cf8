// Package config provides configuration management for the alert daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"market-alerts/internal/analysis/indicators"
	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/pkg/utils"
)

// Priority policies applied when more instruments want a timer than
// MaxInstruments allows.
const (
	PriorityActivityThenRecency = "activity_then_recency"
	PriorityRecency             = "recency"
)

// Config holds all application configuration.
type Config struct {
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	MarketData    MarketDataConfig   `mapstructure:"marketdata"`
	Indicators    IndicatorsConfig   `mapstructure:"indicators"`
	Lifecycle     LifecycleConfig    `mapstructure:"lifecycle"`
	TradingHours  TradingHoursConfig `mapstructure:"trading_hours"`
	Store         StoreConfig        `mapstructure:"store"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// MonitorConfig holds scheduler configuration.
type MonitorConfig struct {
	ActiveInterval    time.Duration `mapstructure:"active_interval"`
	IdleInterval      time.Duration `mapstructure:"idle_interval"`
	ActivityTimeout   time.Duration `mapstructure:"activity_timeout"`
	MaxInstruments    int           `mapstructure:"max_instruments"`
	Priority          string        `mapstructure:"priority"`
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	ActivityBuffer    int           `mapstructure:"activity_buffer"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	DispatchTimeout   time.Duration `mapstructure:"dispatch_timeout"`
}

// MarketDataConfig holds market data cache and provider configuration.
type MarketDataConfig struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	CandleInterval string        `mapstructure:"candle_interval"` // minute, 5minute, 15minute, day...
	WindowLength   int           `mapstructure:"window_length"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second
	RateBurst      int           `mapstructure:"rate_burst"`
	Shards         int           `mapstructure:"shards"`
}

// IndicatorsConfig holds the engine-wide indicator defaults.
type IndicatorsConfig struct {
	RSIPeriod          int     `mapstructure:"rsi_period"`
	RSIOverbought      float64 `mapstructure:"rsi_overbought"`
	RSIOversold        float64 `mapstructure:"rsi_oversold"`
	RSIThreshold       float64 `mapstructure:"rsi_threshold"`
	MACDFast           int     `mapstructure:"macd_fast"`
	MACDSlow           int     `mapstructure:"macd_slow"`
	MACDSignal         int     `mapstructure:"macd_signal"`
	CrossFast          int     `mapstructure:"cross_fast"`
	CrossSlow          int     `mapstructure:"cross_slow"`
	CrossMAType        string  `mapstructure:"cross_ma_type"`
	TrendFast          int     `mapstructure:"trend_fast"`
	TrendSlow          int     `mapstructure:"trend_slow"`
	TrendMAType        string  `mapstructure:"trend_ma_type"`
	BBPeriod           int     `mapstructure:"bb_period"`
	BBStdDev           float64 `mapstructure:"bb_std_dev"`
	BBSqueeze          float64 `mapstructure:"bb_squeeze"`
	BBExpansion        float64 `mapstructure:"bb_expansion"`
	WilliamsPeriod     int     `mapstructure:"williams_period"`
	WilliamsOverbought float64 `mapstructure:"williams_overbought"`
	WilliamsOversold   float64 `mapstructure:"williams_oversold"`
	WilliamsThreshold  float64 `mapstructure:"williams_threshold"`
	TouchTolerance     float64 `mapstructure:"touch_tolerance"`
}

// LifecycleConfig holds persistence retry configuration.
type LifecycleConfig struct {
	PersistAttempts   int           `mapstructure:"persist_attempts"`
	PersistBackoff    time.Duration `mapstructure:"persist_backoff"`
	PersistMaxBackoff time.Duration `mapstructure:"persist_max_backoff"`
}

// TradingHoursConfig describes the session used by trading-hours-only alerts.
// Leaving open and close empty means the market never closes.
type TradingHoursConfig struct {
	Timezone string   `mapstructure:"timezone"`
	Open     string   `mapstructure:"open"`
	Close    string   `mapstructure:"close"`
	Days     []string `mapstructure:"days"`
}

// StoreConfig holds alert store configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogChannel     `mapstructure:"log"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
}

// BreakerConfig pauses a channel after consecutive delivery failures.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"` // 0 disables
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// WebhookConfig holds webhook notification configuration.
// URL is the fallback destination when an alert names none.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
// ChatID is the fallback destination when an alert names none.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// LogChannel enables the log notification channel.
type LogChannel struct {
	Enabled bool `mapstructure:"enabled"`
}

// TerminalConfig enables the terminal notification channel.
type TerminalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Bell    bool `mapstructure:"bell"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	JSON       bool   `mapstructure:"json"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// MetricsConfig holds the HTTP listener serving metrics and activity events.
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	Path         string `mapstructure:"path"`
	ActivityPath string `mapstructure:"activity_path"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite KiteCredentials `mapstructure:"kite"`
}

// KiteCredentials holds Kite Connect API credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/market-alerts"
	}
	return filepath.Join(home, ".config", "market-alerts")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are created from templates and loading continues with their contents.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "alerts.db")
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(configDir, "logs", "alertd.log")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitor.active_interval", "10s")
	v.SetDefault("monitor.idle_interval", "60s")
	v.SetDefault("monitor.activity_timeout", "5m")
	v.SetDefault("monitor.max_instruments", 500)
	v.SetDefault("monitor.priority", PriorityActivityThenRecency)
	v.SetDefault("monitor.discovery_interval", "30s")
	v.SetDefault("monitor.activity_buffer", 1024)
	v.SetDefault("monitor.fetch_timeout", "5s")
	v.SetDefault("monitor.dispatch_timeout", "10s")

	v.SetDefault("marketdata.cache_ttl", "20s")
	v.SetDefault("marketdata.candle_interval", "5minute")
	v.SetDefault("marketdata.window_length", 250)
	v.SetDefault("marketdata.rate_limit", 3.0)
	v.SetDefault("marketdata.rate_burst", 3)
	v.SetDefault("marketdata.shards", 16)

	v.SetDefault("indicators.rsi_period", 14)
	v.SetDefault("indicators.rsi_overbought", 70.0)
	v.SetDefault("indicators.rsi_oversold", 30.0)
	v.SetDefault("indicators.rsi_threshold", 50.0)
	v.SetDefault("indicators.macd_fast", 12)
	v.SetDefault("indicators.macd_slow", 26)
	v.SetDefault("indicators.macd_signal", 9)
	v.SetDefault("indicators.cross_fast", 9)
	v.SetDefault("indicators.cross_slow", 21)
	v.SetDefault("indicators.cross_ma_type", "ema")
	v.SetDefault("indicators.trend_fast", 50)
	v.SetDefault("indicators.trend_slow", 200)
	v.SetDefault("indicators.trend_ma_type", "sma")
	v.SetDefault("indicators.bb_period", 20)
	v.SetDefault("indicators.bb_std_dev", 2.0)
	v.SetDefault("indicators.bb_squeeze", 0.05)
	v.SetDefault("indicators.bb_expansion", 0.15)
	v.SetDefault("indicators.williams_period", 14)
	v.SetDefault("indicators.williams_overbought", -20.0)
	v.SetDefault("indicators.williams_oversold", -80.0)
	v.SetDefault("indicators.williams_threshold", -50.0)
	v.SetDefault("indicators.touch_tolerance", 0.005)

	v.SetDefault("lifecycle.persist_attempts", 3)
	v.SetDefault("lifecycle.persist_backoff", "200ms")
	v.SetDefault("lifecycle.persist_max_backoff", "2s")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.log.enabled", true)
	v.SetDefault("notifications.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notifications.breaker.failure_threshold", 5)
	v.SetDefault("notifications.breaker.cooldown", "1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9108")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.activity_path", "/activity")
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Use restricted permissions for credentials file
			return createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALERTS_KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("ALERTS_KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}
	if v := os.Getenv("ALERTS_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("ALERTS_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
	}
	if v := os.Getenv("ALERTS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ALERTS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	m := c.Monitor
	if m.ActiveInterval <= 0 || m.IdleInterval <= 0 {
		return invalid("monitor intervals must be positive")
	}
	if m.ActiveInterval > m.IdleInterval {
		return invalid("active_interval (%s) must not exceed idle_interval (%s)", m.ActiveInterval, m.IdleInterval)
	}
	if m.ActivityTimeout <= 0 {
		return invalid("activity_timeout must be positive")
	}
	if m.MaxInstruments <= 0 {
		return invalid("max_instruments must be positive")
	}
	if m.Priority != PriorityActivityThenRecency && m.Priority != PriorityRecency {
		return invalid("invalid priority: %s (must be '%s' or '%s')", m.Priority, PriorityActivityThenRecency, PriorityRecency)
	}
	if m.DiscoveryInterval < 0 {
		return invalid("discovery_interval must be non-negative")
	}
	if m.ActivityBuffer <= 0 {
		return invalid("activity_buffer must be positive")
	}
	if m.FetchTimeout <= 0 || m.DispatchTimeout <= 0 {
		return invalid("fetch_timeout and dispatch_timeout must be positive")
	}

	md := c.MarketData
	if md.CacheTTL <= 0 {
		return invalid("cache_ttl must be positive")
	}
	if md.WindowLength < 2 {
		return invalid("window_length must be at least 2")
	}
	if md.RateLimit <= 0 || md.RateBurst <= 0 {
		return invalid("rate_limit and rate_burst must be positive")
	}

	if c.Lifecycle.PersistAttempts <= 0 {
		return invalid("persist_attempts must be positive")
	}

	if _, err := c.Session(); err != nil {
		return invalid("trading_hours: %v", err)
	}

	return nil
}

// Session returns the configured trading session.
func (c *Config) Session() (utils.TradingSession, error) {
	th := c.TradingHours
	return utils.ParseSession(th.Timezone, th.Open, th.Close, th.Days)
}

func invalid(format string, args ...interface{}) error {
	return apperrors.Wrapf(apperrors.ErrConfigInvalid, format, args...)
}

// IndicatorDefaults converts the [indicators] section for the engine.
func (c *Config) IndicatorDefaults() indicators.Defaults {
	ic := c.Indicators
	return indicators.Defaults{
		RSIPeriod:          ic.RSIPeriod,
		RSIOverbought:      ic.RSIOverbought,
		RSIOversold:        ic.RSIOversold,
		RSIThreshold:       ic.RSIThreshold,
		MACDFast:           ic.MACDFast,
		MACDSlow:           ic.MACDSlow,
		MACDSignal:         ic.MACDSignal,
		CrossFast:          ic.CrossFast,
		CrossSlow:          ic.CrossSlow,
		CrossMAType:        models.MAType(ic.CrossMAType),
		TrendFast:          ic.TrendFast,
		TrendSlow:          ic.TrendSlow,
		TrendMAType:        models.MAType(ic.TrendMAType),
		BBPeriod:           ic.BBPeriod,
		BBStdDev:           ic.BBStdDev,
		BBSqueeze:          ic.BBSqueeze,
		BBExpansion:        ic.BBExpansion,
		WilliamsPeriod:     ic.WilliamsPeriod,
		WilliamsOverbought: ic.WilliamsOverbought,
		WilliamsOversold:   ic.WilliamsOversold,
		WilliamsThreshold:  ic.WilliamsThreshold,
		TouchTolerance:     ic.TouchTolerance,
	}
}
