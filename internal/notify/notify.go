// Package notify delivers triggered alerts to notification channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-alerts/internal/config"
	"market-alerts/internal/logging"
	"market-alerts/internal/metrics"
	"market-alerts/internal/models"
	"market-alerts/internal/resilience"
	"market-alerts/pkg/utils"
)

// AlertContext is everything a channel may render about one trigger.
type AlertContext struct {
	AlertID      string
	UserID       string
	Symbol       string
	Variant      models.Variant
	RecordID     string
	TriggeredAt  time.Time
	Observation  models.Observation
	TriggerCount int
	MaxTriggers  int
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Success   bool
	Err       error
	Timestamp time.Time
}

// Dispatcher delivers one alert to one channel target. Implementations
// report failures in Result instead of returning errors.
type Dispatcher interface {
	Send(ctx context.Context, target models.ChannelTarget, ac AlertContext) Result
}

// Channel is one delivery transport. Destination is the opaque target id
// stored on the alert; channels may fall back to a configured default.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, destination string, n Notification) error
}

// Notification is a rendered alert message.
type Notification struct {
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Router dispatches to channels by name.
type Router struct {
	mu         sync.RWMutex
	channels   map[string]Channel
	breakers   map[string]*resilience.Breaker
	breakerCfg resilience.Config
	now        func() time.Time
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewRouter creates a router with no channels.
func NewRouter(m *metrics.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		channels: make(map[string]Channel),
		breakers: make(map[string]*resilience.Breaker),
		now:      time.Now,
		metrics:  m,
		log:      logger.With().Str("component", "notify").Logger(),
	}
}

// NewRouterFromConfig creates a router with the channels cfg enables.
func NewRouterFromConfig(cfg config.NotificationConfig, m *metrics.Metrics, logger zerolog.Logger) *Router {
	r := NewRouter(m, logger)
	r.SetBreaker(resilience.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	})
	if !cfg.Enabled {
		return r
	}

	if cfg.Log.Enabled {
		r.AddChannel(NewLogChannel(logger))
	}
	if cfg.Terminal.Enabled {
		r.AddChannel(NewTerminalChannel(nil, cfg.Terminal.Bell))
	}
	if cfg.Webhook.Enabled {
		r.AddChannel(NewWebhookChannel(cfg.Webhook))
	}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		r.AddChannel(NewTelegramChannel(cfg.Telegram))
		r.log.Debug().Str("bot_token", logging.MaskSecret(cfg.Telegram.BotToken)).Msg("Telegram channel enabled")
	}
	return r
}

// SetBreaker guards channels added afterwards with a circuit breaker.
// A zero FailureThreshold leaves them unguarded.
func (r *Router) SetBreaker(cfg resilience.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerCfg = cfg
}

// AddChannel registers ch under its name, replacing any previous one.
func (r *Router) AddChannel(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
	r.breakers[ch.Name()] = resilience.New(ch.Name(), r.breakerCfg)
}

// Channels returns the registered channel names.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Send renders ac and delivers it to target's channel.
func (r *Router) Send(ctx context.Context, target models.ChannelTarget, ac AlertContext) Result {
	start := r.now()
	name := strings.ToLower(strings.TrimSpace(target.Channel))

	r.mu.RLock()
	ch, ok := r.channels[name]
	breaker := r.breakers[name]
	r.mu.RUnlock()

	var err error
	switch {
	case !ok:
		err = fmt.Errorf("channel %q is not configured", target.Channel)
	default:
		if err = breaker.Allow(); err != nil {
			break
		}
		err = ch.Deliver(ctx, target.Destination, FormatAlert(ac))
		if breaker.Record(err) == resilience.StateOpen && err != nil {
			r.log.Warn().Str("channel", name).Err(err).Msg("Channel failing, pausing deliveries")
		}
	}

	res := Result{Success: err == nil, Err: err, Timestamp: r.now()}
	r.metrics.Dispatch(name, res.Success)
	logging.LogDispatch(r.log, ac.AlertID, name, res.Success, res.Timestamp.Sub(start), err)
	return res
}

// FormatAlert renders a trigger as a human readable notification.
func FormatAlert(ac AlertContext) Notification {
	obs := ac.Observation
	title := fmt.Sprintf("%s Alert Triggered: %s", variantEmoji(ac.Variant), ac.Symbol)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Symbol: %s\n", ac.Symbol))
	sb.WriteString(fmt.Sprintf("Condition: %s\n", describeVariant(ac.Variant)))
	sb.WriteString(fmt.Sprintf("Current Price: %s\n", utils.FormatPrice(obs.Price)))
	if v, ok := obs.Values["change_percent"]; ok {
		sb.WriteString(fmt.Sprintf("Change: %s\n", utils.FormatPercent(v)))
	}
	for _, key := range detailKeys(ac.Variant) {
		if v, ok := obs.Values[key]; ok {
			sb.WriteString(fmt.Sprintf("%s: %.2f\n", key, v))
		}
	}
	if ac.MaxTriggers > 0 {
		sb.WriteString(fmt.Sprintf("Trigger: %d of %d\n", ac.TriggerCount, ac.MaxTriggers))
	}
	if obs.Stale {
		sb.WriteString("Note: market data was stale\n")
	}
	sb.WriteString(fmt.Sprintf("Triggered at: %s", ac.TriggeredAt.Format("2006-01-02 15:04:05 MST")))

	data := map[string]interface{}{
		"alert_id":      ac.AlertID,
		"user_id":       ac.UserID,
		"symbol":        ac.Symbol,
		"variant":       string(ac.Variant),
		"record_id":     ac.RecordID,
		"tick_id":       obs.TickID,
		"price":         obs.Price,
		"values":        obs.Values,
		"trigger_count": ac.TriggerCount,
		"max_triggers":  ac.MaxTriggers,
	}

	return Notification{
		Title:     title,
		Message:   sb.String(),
		Data:      data,
		Timestamp: ac.TriggeredAt,
	}
}

func variantEmoji(v models.Variant) string {
	switch v {
	case models.VariantPriceAbove, models.VariantMACDBullishCrossover, models.VariantMACrossAbove,
		models.VariantMAGoldenCross, models.VariantMASupportBounce:
		return "📈"
	case models.VariantPriceBelow, models.VariantMACDBearishCrossover, models.VariantMACrossBelow,
		models.VariantMADeathCross, models.VariantMAResistanceReject:
		return "📉"
	default:
		return "⚠️"
	}
}

func describeVariant(v models.Variant) string {
	return strings.ReplaceAll(string(v), "_", " ")
}

func detailKeys(v models.Variant) []string {
	s := string(v)
	switch {
	case strings.HasPrefix(s, "rsi_"):
		return []string{"rsi"}
	case strings.HasPrefix(s, "macd_"):
		return []string{"macd", "macd_signal", "macd_histogram"}
	case strings.HasPrefix(s, "ma_"):
		return []string{"ma_fast", "ma_slow"}
	case strings.HasPrefix(s, "bb_"):
		return []string{"bb_upper", "bb_middle", "bb_lower", "bb_bandwidth"}
	case strings.HasPrefix(s, "williams_"):
		return []string{"williams_r"}
	case v == models.VariantVolumeSpike:
		return []string{"volume", "avg_volume"}
	case v == models.VariantPriceAbove || v == models.VariantPriceBelow:
		return []string{"target_price"}
	}
	return nil
}
