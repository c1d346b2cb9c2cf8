package indicators

import (
	"math"

	"market-alerts/internal/models"
)

// Result is a single indicator value. Sufficient is false when the window was
// shorter than the requested period and the value came from a shorter
// sub-window or a neutral default.
type Result struct {
	Value      float64
	Sufficient bool
}

// sum calculates the sum of a slice of float64.
func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// mean calculates the arithmetic mean of a slice of float64.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// stdDev calculates the population standard deviation of a slice of float64.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// effectivePeriod shrinks period to the available length.
func effectivePeriod(period, available int) (int, bool) {
	if period <= 0 || available <= 0 {
		return 0, false
	}
	if available < period {
		return available, false
	}
	return period, true
}

// tail returns the last n values.
func tail(values []float64, n int) []float64 {
	if n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

// closePrices extracts close prices from candles.
func closePrices(candles []models.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}

// highPrices extracts high prices from candles.
func highPrices(candles []models.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.High
	}
	return prices
}

// lowPrices extracts low prices from candles.
func lowPrices(candles []models.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Low
	}
	return prices
}

// highest returns the highest value in a slice.
func highest(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	h := values[0]
	for _, v := range values[1:] {
		if v > h {
			h = v
		}
	}
	return h
}

// lowest returns the lowest value in a slice.
func lowest(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	l := values[0]
	for _, v := range values[1:] {
		if v < l {
			l = v
		}
	}
	return l
}

// AverageVolume returns the mean volume of the lookback candles preceding the
// last one, together with the last candle's volume.
func AverageVolume(candles []models.Candle, lookback int) (avg Result, last int64) {
	if len(candles) == 0 {
		return Result{}, 0
	}
	last = candles[len(candles)-1].Volume
	prior := candles[:len(candles)-1]
	p, ok := effectivePeriod(lookback, len(prior))
	if p == 0 {
		return Result{}, last
	}
	var total float64
	for _, c := range prior[len(prior)-p:] {
		total += float64(c.Volume)
	}
	return Result{Value: total / float64(p), Sufficient: ok}, last
}
