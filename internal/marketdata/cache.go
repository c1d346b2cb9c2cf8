package marketdata

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/metrics"
	"market-alerts/internal/models"
)

// CacheConfig holds market data cache configuration.
type CacheConfig struct {
	TTL            time.Duration
	CandleInterval string
	WindowLength   int
	Shards         int
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]models.MarketData
}

// Cache serves market data per symbol, refreshing from the provider when
// an entry is older than TTL. Concurrent refreshes of one symbol are
// collapsed into a single provider round trip.
type Cache struct {
	provider Provider
	cfg      CacheConfig
	shards   []*shard
	group    singleflight.Group
	now      func() time.Time
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewCache creates a cache in front of provider.
func NewCache(provider Provider, cfg CacheConfig, m *metrics.Metrics, logger zerolog.Logger) *Cache {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 20 * time.Second
	}
	if cfg.WindowLength <= 0 {
		cfg.WindowLength = 250
	}
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "5minute"
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]models.MarketData)}
	}

	return &Cache{
		provider: provider,
		cfg:      cfg,
		shards:   shards,
		now:      time.Now,
		metrics:  m,
		log:      logger.With().Str("component", "marketdata").Logger(),
	}
}

// SetClock replaces the cache's time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Cache) shardFor(symbol string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *Cache) lookup(symbol string) (models.MarketData, bool) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	md, ok := s.entries[symbol]
	s.mu.RUnlock()
	return md, ok
}

func (c *Cache) store(md models.MarketData) {
	s := c.shardFor(md.Symbol)
	s.mu.Lock()
	s.entries[md.Symbol] = md
	s.mu.Unlock()
}

// Get returns market data for symbol. On a refresh failure a previously
// cached value is returned with Stale set; without one the error wraps
// ErrDataUnavailable.
func (c *Cache) Get(ctx context.Context, symbol string) (models.MarketData, error) {
	symbol = models.NormalizeSymbol(symbol)

	cached, ok := c.lookup(symbol)
	if ok && c.now().Sub(cached.FetchedAt) < c.cfg.TTL {
		c.metrics.Cache("hit")
		return cached, nil
	}

	v, err, _ := c.group.Do(symbol, func() (interface{}, error) {
		return c.refresh(ctx, symbol)
	})
	if err == nil {
		c.metrics.Cache("miss")
		return v.(models.MarketData), nil
	}

	// Another flight may have refreshed the entry in the meantime.
	if cached, ok = c.lookup(symbol); ok {
		c.metrics.Cache("stale")
		c.log.Warn().Err(err).Str("symbol", symbol).
			Time("fetched_at", cached.FetchedAt).
			Msg("Refresh failed, serving stale market data")
		cached.Stale = true
		return cached, nil
	}

	c.metrics.Cache("unavailable")
	return models.MarketData{}, apperrors.NewDataError("marketdata", symbol, "refresh failed with nothing cached",
		apperrors.Wrap(apperrors.ErrDataUnavailable, err.Error()))
}

func (c *Cache) refresh(ctx context.Context, symbol string) (models.MarketData, error) {
	quote, err := c.provider.Quote(ctx, symbol)
	if err != nil {
		return models.MarketData{}, apperrors.Wrap(err, "quote")
	}
	window, err := c.provider.Candles(ctx, symbol, c.cfg.CandleInterval, c.cfg.WindowLength)
	if err != nil {
		return models.MarketData{}, apperrors.Wrap(err, "candles")
	}

	md := models.MarketData{
		Symbol:        symbol,
		Price:         quote.Price,
		Volume:        quote.Volume,
		ChangePercent: quote.ChangePercent,
		Window:        window,
		FetchedAt:     c.now(),
	}
	c.store(md)
	return md, nil
}

// Invalidate drops the cached entry of symbol.
func (c *Cache) Invalidate(symbol string) {
	symbol = models.NormalizeSymbol(symbol)
	s := c.shardFor(symbol)
	s.mu.Lock()
	delete(s.entries, symbol)
	s.mu.Unlock()
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
