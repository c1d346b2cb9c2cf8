package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Market Alerts Configuration

[monitor]
# Tick period for instruments with recent user activity
active_interval = "10s"
# Tick period for instruments nobody is looking at
idle_interval = "60s"
# How long a user counts as active on an instrument after the last event
activity_timeout = "5m"
# Hard cap on concurrently monitored instruments
max_instruments = 500
# Over-cap priority: "activity_then_recency" or "recency"
priority = "activity_then_recency"
# How often newly created alerts are picked up ("0s" disables)
discovery_interval = "30s"
# Pending activity events before new ones are dropped
activity_buffer = 1024
fetch_timeout = "5s"
dispatch_timeout = "10s"

[marketdata]
cache_ttl = "20s"
# Kite candle interval: minute, 3minute, 5minute, 15minute, 30minute, 60minute, day
candle_interval = "5minute"
window_length = 250
# Provider requests per second
rate_limit = 3.0
rate_burst = 3
shards = 16

[indicators]
rsi_period = 14
rsi_overbought = 70.0
rsi_oversold = 30.0
macd_fast = 12
macd_slow = 26
macd_signal = 9
# ma_cross_above / ma_cross_below
cross_fast = 9
cross_slow = 21
cross_ma_type = "ema"
# ma_golden_cross / ma_death_cross
trend_fast = 50
trend_slow = 200
trend_ma_type = "sma"
bb_period = 20
bb_std_dev = 2.0
bb_squeeze = 0.05
bb_expansion = 0.15
williams_period = 14
williams_overbought = -20.0
williams_oversold = -80.0

[lifecycle]
persist_attempts = 3
persist_backoff = "200ms"
persist_max_backoff = "2s"

[trading_hours]
# Leave open/close empty for markets that never close
timezone = "Asia/Kolkata"
open = "09:15"
close = "15:30"
days = ["mon", "tue", "wed", "thu", "fri"]

[store]
# SQLite database path (defaults to alerts.db in the config directory)
path = ""

[notifications]
enabled = true

[notifications.breaker]
# Consecutive failures before a channel is paused (0 = never)
failure_threshold = 5
cooldown = "1m"

[notifications.log]
enabled = true

[notifications.terminal]
# Prints triggered alerts to stdout while "alertd run" is attached to a terminal
enabled = false
bell = true

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[logging]
level = "info"
console = true
json = false
file = true

[metrics]
enabled = true
addr = ":9108"
path = "/metrics"
activity_path = "/activity"
`

const credentialsTemplate = `# Market Alerts Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[kite]
api_key = ""
api_secret = ""
access_token = ""
`

func createTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}

	return nil
}
