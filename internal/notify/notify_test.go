package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-alerts/internal/config"
	"market-alerts/internal/models"
	"market-alerts/internal/resilience"
)

func sampleContext() AlertContext {
	return AlertContext{
		AlertID:     "alert-1",
		UserID:      "user-1",
		Symbol:      "BTCUSDT",
		Variant:     models.VariantPriceAbove,
		RecordID:    "rec-1",
		TriggeredAt: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		Observation: models.Observation{
			TickID: "tick-1",
			Price:  64250.5,
			Values: map[string]float64{"price": 64250.5, "target_price": 64000},
		},
		TriggerCount: 1,
		MaxTriggers:  3,
	}
}

func TestWebhookChannel_PostsJSON(t *testing.T) {
	var mu sync.Mutex
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	router := NewRouter(nil, zerolog.Nop())
	router.AddChannel(NewWebhookChannel(config.WebhookConfig{}))

	res := router.Send(context.Background(), models.ChannelTarget{Channel: "webhook", Destination: srv.URL}, sampleContext())
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	data, _ := got["data"].(map[string]interface{})
	if data["alert_id"] != "alert-1" || data["tick_id"] != "tick-1" {
		t.Fatalf("payload missing alert context: %v", got)
	}
	if !strings.Contains(got["title"].(string), "BTCUSDT") {
		t.Fatalf("title should name the symbol: %v", got["title"])
	}
}

func TestWebhookChannel_FallbackAndFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookConfig{URL: srv.URL})
	err := ch.Deliver(context.Background(), "", FormatAlert(sampleContext()))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error from fallback url, got %v", err)
	}

	if err := NewWebhookChannel(config.WebhookConfig{}).Deliver(context.Background(), "", Notification{}); err == nil {
		t.Fatal("expected error without any url")
	}
}

func TestTelegramChannel_SendsToChat(t *testing.T) {
	var path, chatID, mode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		chatID, _ = body["chat_id"].(string)
		mode, _ = body["parse_mode"].(string)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewTelegramChannel(config.TelegramConfig{BotToken: "123:abc", ChatID: "999", APIBase: srv.URL + "/"})
	if err := ch.Deliver(context.Background(), "42", FormatAlert(sampleContext())); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Errorf("unexpected path %q", path)
	}
	if chatID != "42" || mode != "HTML" {
		t.Errorf("chat_id=%q parse_mode=%q", chatID, mode)
	}

	if err := ch.Deliver(context.Background(), "", FormatAlert(sampleContext())); err != nil {
		t.Fatal(err)
	}
	if chatID != "999" {
		t.Errorf("expected fallback chat id, got %q", chatID)
	}
}

func TestTelegramChannel_ErrorHidesToken(t *testing.T) {
	ch := NewTelegramChannel(config.TelegramConfig{BotToken: "secret-token", APIBase: "http://127.0.0.1:1"})
	err := ch.Deliver(context.Background(), "1", Notification{Title: "t"})
	if err == nil {
		t.Fatal("expected connection error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("error leaks bot token: %v", err)
	}
}

func TestRouter_UnknownChannelFails(t *testing.T) {
	router := NewRouter(nil, zerolog.Nop())
	res := router.Send(context.Background(), models.ChannelTarget{Channel: "pager"}, sampleContext())
	if res.Success || res.Err == nil {
		t.Fatal("unconfigured channel must produce a failed result")
	}
	if res.Timestamp.IsZero() {
		t.Fatal("result must carry a timestamp")
	}
}

func TestRouterFromConfig_EnablesChannels(t *testing.T) {
	cfg := config.NotificationConfig{
		Enabled:  true,
		Log:      config.LogChannel{Enabled: true},
		Webhook:  config.WebhookConfig{Enabled: true},
		Telegram: config.TelegramConfig{Enabled: true},
	}
	router := NewRouterFromConfig(cfg, nil, zerolog.Nop())
	names := strings.Join(router.Channels(), ",")
	if !strings.Contains(names, "log") || !strings.Contains(names, "webhook") {
		t.Fatalf("expected log and webhook, got %s", names)
	}
	if strings.Contains(names, "telegram") {
		t.Fatal("telegram without a bot token must stay disabled")
	}

	cfg.Enabled = false
	if n := len(NewRouterFromConfig(cfg, nil, zerolog.Nop()).Channels()); n != 0 {
		t.Fatalf("disabled notifications should register no channels, got %d", n)
	}
}

func TestTerminalChannel_PrintsBox(t *testing.T) {
	var buf bytes.Buffer
	router := NewRouter(nil, zerolog.Nop())
	router.AddChannel(NewTerminalChannel(&buf, false))

	res := router.Send(context.Background(), models.ChannelTarget{Channel: "Terminal"}, sampleContext())
	if !res.Success {
		t.Fatal(res.Err)
	}
	out := buf.String()
	for _, want := range []string{"BTCUSDT", "64,250.50", "Trigger: 1 of 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("terminal output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatAlert_IndicatorDetails(t *testing.T) {
	ac := sampleContext()
	ac.Variant = models.VariantRSIOverbought
	ac.Observation.Values = map[string]float64{"rsi": 78.2}
	ac.Observation.Stale = true

	n := FormatAlert(ac)
	if !strings.Contains(n.Message, "rsi: 78.20") {
		t.Errorf("message should include rsi: %s", n.Message)
	}
	if !strings.Contains(n.Message, "stale") {
		t.Errorf("message should flag stale data: %s", n.Message)
	}
	if !strings.Contains(n.Message, "rsi overbought") {
		t.Errorf("message should describe the condition: %s", n.Message)
	}
}

type failingChannel struct{ calls int }

func (c *failingChannel) Name() string { return "flaky" }

func (c *failingChannel) Deliver(ctx context.Context, destination string, n Notification) error {
	c.calls++
	return errors.New("upstream down")
}

func TestRouter_BreakerPausesFailingChannel(t *testing.T) {
	router := NewRouter(nil, zerolog.Nop())
	router.SetBreaker(resilience.Config{FailureThreshold: 2, Cooldown: time.Hour})
	ch := &failingChannel{}
	router.AddChannel(ch)

	target := models.ChannelTarget{Channel: "flaky"}
	for i := 0; i < 4; i++ {
		if res := router.Send(context.Background(), target, sampleContext()); res.Success {
			t.Fatal("delivery should fail")
		}
	}
	if ch.calls != 2 {
		t.Fatalf("channel called %d times, want 2 before the breaker opened", ch.calls)
	}
	res := router.Send(context.Background(), target, sampleContext())
	if !errors.Is(res.Err, resilience.ErrOpen) {
		t.Fatalf("Err = %v, want ErrOpen", res.Err)
	}
}
