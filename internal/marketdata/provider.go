// Package marketdata fetches quotes and candle windows from a provider and
// caches them per symbol.
package marketdata

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// Provider is the external market data source.
type Provider interface {
	// Quote returns the current price, volume and signed 24h change.
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	// Candles returns up to length candles of interval, oldest first.
	Candles(ctx context.Context, symbol, interval string, length int) ([]models.Candle, error)
}

// RateLimitedProvider bounds the request rate and latency of a Provider.
type RateLimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
	timeout time.Duration
}

// NewRateLimitedProvider wraps next with a token bucket of rps requests per
// second and burst, and a per-request timeout.
func NewRateLimitedProvider(next Provider, rps float64, burst int, timeout time.Duration) *RateLimitedProvider {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
	}
}

// Quote waits for a token and fetches a quote.
func (p *RateLimitedProvider) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	if err := p.wait(ctx); err != nil {
		return models.Quote{}, err
	}
	q, err := p.next.Quote(ctx, symbol)
	return q, p.classify(ctx, err)
}

// Candles waits for a token and fetches a candle window.
func (p *RateLimitedProvider) Candles(ctx context.Context, symbol, interval string, length int) ([]models.Candle, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	c, err := p.next.Candles(ctx, symbol, interval, length)
	return c, p.classify(ctx, err)
}

func (p *RateLimitedProvider) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *RateLimitedProvider) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		// Wait fails fast when the deadline is shorter than the queue.
		return apperrors.Wrap(apperrors.ErrRateLimited, err.Error())
	}
	return nil
}

func (p *RateLimitedProvider) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return apperrors.Wrap(apperrors.ErrTimeout, err.Error())
	}
	return err
}
