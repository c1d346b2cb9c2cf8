// Package indicators provides technical indicator calculations over OHLCV
// windows. Every function is pure and degrades to a flagged partial value
// instead of failing on short windows.
package indicators

import (
	"market-alerts/internal/models"
)

// Engine builds indicator snapshots for alerts.
type Engine struct {
	defaults Defaults
}

// NewEngine creates a new indicator engine. Zero fields of defaults are
// filled from DefaultDefaults.
func NewEngine(defaults Defaults) *Engine {
	return &Engine{defaults: fillDefaults(defaults)}
}

func fillDefaults(d Defaults) Defaults {
	std := DefaultDefaults()
	d.RSIPeriod = orInt(d.RSIPeriod, std.RSIPeriod)
	d.RSIOverbought = orFloat(d.RSIOverbought, std.RSIOverbought)
	d.RSIOversold = orFloat(d.RSIOversold, std.RSIOversold)
	d.RSIThreshold = orFloat(d.RSIThreshold, std.RSIThreshold)
	d.MACDFast = orInt(d.MACDFast, std.MACDFast)
	d.MACDSlow = orInt(d.MACDSlow, std.MACDSlow)
	d.MACDSignal = orInt(d.MACDSignal, std.MACDSignal)
	d.CrossFast = orInt(d.CrossFast, std.CrossFast)
	d.CrossSlow = orInt(d.CrossSlow, std.CrossSlow)
	d.TrendFast = orInt(d.TrendFast, std.TrendFast)
	d.TrendSlow = orInt(d.TrendSlow, std.TrendSlow)
	d.BBPeriod = orInt(d.BBPeriod, std.BBPeriod)
	d.BBStdDev = orFloat(d.BBStdDev, std.BBStdDev)
	d.BBSqueeze = orFloat(d.BBSqueeze, std.BBSqueeze)
	d.BBExpansion = orFloat(d.BBExpansion, std.BBExpansion)
	d.WilliamsPeriod = orInt(d.WilliamsPeriod, std.WilliamsPeriod)
	d.WilliamsOverbought = orFloat(d.WilliamsOverbought, std.WilliamsOverbought)
	d.WilliamsOversold = orFloat(d.WilliamsOversold, std.WilliamsOversold)
	d.WilliamsThreshold = orFloat(d.WilliamsThreshold, std.WilliamsThreshold)
	d.TouchTolerance = orFloat(d.TouchTolerance, std.TouchTolerance)
	if d.CrossMAType == "" {
		d.CrossMAType = std.CrossMAType
	}
	if d.TrendMAType == "" {
		d.TrendMAType = std.TrendMAType
	}
	return d
}

// Defaults returns the engine's resolved defaults.
func (e *Engine) Defaults() Defaults {
	return e.defaults
}

// ConfigFor resolves the snapshot config an alert is evaluated with.
func (e *Engine) ConfigFor(a *models.Alert) Config {
	return ConfigFor(a.Variant, a.Indicator, e.defaults)
}

// LevelsFor resolves the thresholds an alert compares against.
func (e *Engine) LevelsFor(a *models.Alert) Levels {
	return LevelsFor(a.Variant, a.Indicator, e.defaults)
}

// Compute builds the snapshot for window under cfg. Previous values come from
// prev when it was computed with the same config, otherwise from the window
// without its last candle.
func (e *Engine) Compute(window []models.Candle, cfg Config, prev *Snapshot) Snapshot {
	snap := Snapshot{
		Config:  cfg,
		Current: computeValues(window, cfg),
	}

	switch {
	case prev != nil && prev.Config.Key() == cfg.Key():
		snap.Previous = prev.Current
		snap.HasPrevious = true
	case len(window) >= 2:
		snap.Previous = computeValues(window[:len(window)-1], cfg)
		snap.HasPrevious = true
	}

	closes := closePrices(window)
	snap.Trend = TrendStrength(snap.Current.FastMA, snap.Current.SlowMA)
	snap.Volatility = Volatility(closes, cfg.BBPeriod)
	snap.Momentum = Momentum(closes, cfg.RSIPeriod)
	return snap
}

func computeValues(window []models.Candle, cfg Config) Values {
	if len(window) == 0 {
		return Values{
			RSI:       Result{Value: 50},
			WilliamsR: Result{Value: -50},
		}
	}

	closes := closePrices(window)
	highs := highPrices(window)
	lows := lowPrices(window)
	last := window[len(window)-1]

	return Values{
		Close:     last.Close,
		High:      last.High,
		Low:       last.Low,
		RSI:       RSI(closes, cfg.RSIPeriod),
		MACD:      MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
		FastMA:    MovingAverage(closes, cfg.MAFast, cfg.MAType),
		SlowMA:    MovingAverage(closes, cfg.MASlow, cfg.MAType),
		Bands:     Bollinger(closes, cfg.BBPeriod, cfg.BBStdDev, cfg.BBSqueeze),
		WilliamsR: WilliamsR(highs, lows, closes, cfg.WilliamsPeriod),
	}
}
