// Package models provides domain models for the alert monitoring core.
package models

import (
	"strings"
	"time"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Quote represents the current market state of an instrument.
type Quote struct {
	Symbol        string
	Price         float64
	Volume        int64
	ChangePercent float64 // signed, over the trailing 24h / previous session
	Timestamp     time.Time
}

// MarketData is what the cache hands to one evaluation cycle.
// Window is oldest-first and must be treated as read-only.
type MarketData struct {
	Symbol        string
	Price         float64
	Volume        int64
	ChangePercent float64
	Window        []Candle
	FetchedAt     time.Time
	Stale         bool
}

// NormalizeSymbol trims and upper-cases an instrument symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
