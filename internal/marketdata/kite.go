package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"market-alerts/internal/models"
	"market-alerts/pkg/utils"
)

// KiteConfig holds configuration for the Kite Connect provider.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	// SessionPath is a session.json written by a login tool; used when
	// AccessToken is empty.
	SessionPath     string
	DefaultExchange string
	Timeout         time.Duration
}

// KiteProvider implements Provider on Zerodha Kite Connect.
type KiteProvider struct {
	client          *kiteconnect.Client
	defaultExchange string
	tokens          map[string]int
	mu              sync.RWMutex
}

// sessionData represents a persisted Kite session.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewKiteProvider creates a Kite provider. It fails when no access token is
// configured and no unexpired session can be loaded.
func NewKiteProvider(cfg KiteConfig) (*KiteProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("kite api_key is required")
	}
	token := cfg.AccessToken
	if token == "" && cfg.SessionPath != "" {
		t, err := loadSession(cfg.SessionPath)
		if err != nil {
			return nil, fmt.Errorf("loading kite session: %w", err)
		}
		token = t
	}
	if token == "" {
		return nil, fmt.Errorf("kite access_token is required")
	}

	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(token)
	if cfg.Timeout > 0 {
		client.SetHTTPClient(&http.Client{Timeout: cfg.Timeout})
	}

	exchange := cfg.DefaultExchange
	if exchange == "" {
		exchange = "NSE"
	}

	return &KiteProvider{
		client:          client,
		defaultExchange: exchange,
		tokens:          make(map[string]int),
	}, nil
}

func loadSession(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return "", err
	}

	// Kite tokens expire at 6 AM IST the next day
	if time.Now().After(session.ExpiresAt) {
		return "", fmt.Errorf("session expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}
	return session.AccessToken, nil
}

// qualify returns EXCHANGE:SYMBOL.
func (k *KiteProvider) qualify(symbol string) string {
	if strings.Contains(symbol, ":") {
		return symbol
	}
	return k.defaultExchange + ":" + symbol
}

// Quote fetches the real-time quote for a symbol.
func (k *KiteProvider) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, err
	}

	key := k.qualify(symbol)
	quotes, err := k.client.GetQuote(key)
	if err != nil {
		return models.Quote{}, fmt.Errorf("failed to get quote: %w", err)
	}

	q, ok := quotes[key]
	if !ok {
		return models.Quote{}, fmt.Errorf("quote not found for symbol: %s", key)
	}

	var changePct float64
	if q.OHLC.Close != 0 {
		changePct = (q.LastPrice - q.OHLC.Close) / q.OHLC.Close * 100
	}

	return models.Quote{
		Symbol:        symbol,
		Price:         q.LastPrice,
		Volume:        int64(q.Volume),
		ChangePercent: changePct,
		Timestamp:     q.LastTradeTime.Time,
	}, nil
}

// Candles fetches the trailing candle window for a symbol.
func (k *KiteProvider) Candles(ctx context.Context, symbol, interval string, length int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, err := k.instrumentToken(ctx, k.qualify(symbol))
	if err != nil {
		return nil, err
	}

	to := time.Now()
	from := to.Add(-lookbackFor(interval, length))

	data, err := k.client.GetHistoricalData(token, interval, from, to, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get historical data: %w", err)
	}

	if len(data) > length {
		data = data[len(data)-length:]
	}

	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}

	return candles, nil
}

func (k *KiteProvider) instrumentToken(ctx context.Context, key string) (int, error) {
	k.mu.RLock()
	token, ok := k.tokens[key]
	k.mu.RUnlock()
	if ok {
		return token, nil
	}

	// The instrument dump is large; retry transient failures before giving up.
	instruments, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (kiteconnect.Instruments, error) {
		return k.client.GetInstruments()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get instruments: %w", err)
	}

	k.mu.Lock()
	for _, inst := range instruments {
		k.tokens[inst.Exchange+":"+inst.Tradingsymbol] = inst.InstrumentToken
	}
	token, ok = k.tokens[key]
	k.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("instrument not found: %s", key)
	}
	return token, nil
}

// lookbackFor returns a from-offset that yields at least length candles of
// interval, allowing for closed hours and weekends.
func lookbackFor(interval string, length int) time.Duration {
	var step time.Duration
	var limit time.Duration
	switch interval {
	case "minute":
		step, limit = time.Minute, 60*24*time.Hour
	case "3minute":
		step, limit = 3*time.Minute, 100*24*time.Hour
	case "5minute":
		step, limit = 5*time.Minute, 100*24*time.Hour
	case "10minute":
		step, limit = 10*time.Minute, 100*24*time.Hour
	case "15minute":
		step, limit = 15*time.Minute, 200*24*time.Hour
	case "30minute":
		step, limit = 30*time.Minute, 200*24*time.Hour
	case "60minute":
		step, limit = time.Hour, 400*24*time.Hour
	default:
		step, limit = 24*time.Hour, 2000*24*time.Hour
	}

	var span time.Duration
	if step < 24*time.Hour {
		// ~6h15m of trading per calendar day, 5 days out of 7
		perDay := int((375 * time.Minute) / step)
		if perDay < 1 {
			perDay = 1
		}
		days := (length/perDay + 1) * 7 / 5
		span = time.Duration(days+3) * 24 * time.Hour
	} else {
		span = time.Duration(length*7/5+10) * 24 * time.Hour
	}

	if span > limit {
		span = limit
	}
	return span
}
