package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "market-alerts/internal/errors"
)

func TestLoad_CreatesTemplatesAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, name := range []string{"config.toml", "credentials.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to be created: %v", name, err)
		}
	}

	if cfg.Monitor.ActiveInterval != 10*time.Second || cfg.Monitor.IdleInterval != time.Minute {
		t.Errorf("unexpected intervals %v / %v", cfg.Monitor.ActiveInterval, cfg.Monitor.IdleInterval)
	}
	if cfg.MarketData.CacheTTL != 20*time.Second {
		t.Errorf("cache_ttl = %v, want 20s", cfg.MarketData.CacheTTL)
	}
	if cfg.Monitor.Priority != PriorityActivityThenRecency {
		t.Errorf("priority = %q", cfg.Monitor.Priority)
	}
	if b := cfg.Notifications.Breaker; b.FailureThreshold != 5 || b.Cooldown != time.Minute {
		t.Errorf("breaker = %+v", b)
	}
	if cfg.Store.Path != filepath.Join(dir, "alerts.db") {
		t.Errorf("store path = %q", cfg.Store.Path)
	}

	d := cfg.IndicatorDefaults()
	if d.TrendFast != 50 || d.TrendSlow != 200 || d.CrossFast != 9 || d.CrossSlow != 21 {
		t.Errorf("unexpected MA defaults %+v", d)
	}

	session, err := cfg.Session()
	if err != nil || session.AlwaysOpen() {
		t.Errorf("template should configure NSE hours, got %+v err=%v", session, err)
	}
}

func TestLoad_FileOverridesAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := `
[monitor]
active_interval = "5s"
idle_interval = "2m"
priority = "recency"

[trading_hours]
open = ""
close = ""
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ALERTS_KITE_ACCESS_TOKEN", "token-from-env")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Monitor.ActiveInterval != 5*time.Second || cfg.Monitor.IdleInterval != 2*time.Minute {
		t.Errorf("file values not applied: %+v", cfg.Monitor)
	}
	if cfg.Monitor.MaxInstruments != 500 {
		t.Errorf("defaults should fill unset keys, got %d", cfg.Monitor.MaxInstruments)
	}
	if cfg.Credentials.Kite.AccessToken != "token-from-env" {
		t.Errorf("env override not applied")
	}
	session, _ := cfg.Session()
	if !session.AlwaysOpen() {
		t.Errorf("empty trading hours should be always open")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Monitor: MonitorConfig{
				ActiveInterval:  10 * time.Second,
				IdleInterval:    time.Minute,
				ActivityTimeout: 5 * time.Minute,
				MaxInstruments:  10,
				Priority:        PriorityRecency,
				ActivityBuffer:  8,
				FetchTimeout:    time.Second,
				DispatchTimeout: time.Second,
			},
			MarketData: MarketDataConfig{CacheTTL: time.Second, WindowLength: 50, RateLimit: 1, RateBurst: 1},
			Lifecycle:  LifecycleConfig{PersistAttempts: 3},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := map[string]func(c *Config){
		"active above idle": func(c *Config) { c.Monitor.ActiveInterval = 2 * time.Minute },
		"unknown priority":  func(c *Config) { c.Monitor.Priority = "random" },
		"zero cap":          func(c *Config) { c.Monitor.MaxInstruments = 0 },
		"zero ttl":          func(c *Config) { c.MarketData.CacheTTL = 0 },
		"bad session":       func(c *Config) { c.TradingHours = TradingHoursConfig{Open: "25:00", Close: "26:00"} },
		"zero attempts":     func(c *Config) { c.Lifecycle.PersistAttempts = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			err := c.Validate()
			if !apperrors.Is(err, apperrors.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}
