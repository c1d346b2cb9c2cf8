package indicators

import "market-alerts/internal/models"

// SMASeries calculates a simple moving average series. Values before the
// first full period are zero.
func SMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	result := make([]float64, len(values))
	running := sum(values[:period])
	result[period-1] = running / float64(period)
	for i := period; i < len(values); i++ {
		running += values[i] - values[i-period]
		result[i] = running / float64(period)
	}
	return result
}

// EMASeries calculates an exponential moving average series seeded with the
// SMA of the first period values.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values))
	k := 2.0 / float64(period+1)

	result[period-1] = mean(values[:period])
	for i := period; i < len(values); i++ {
		result[i] = values[i]*k + result[i-1]*(1-k)
	}

	return result
}

// SMA is the mean of the trailing period values.
func SMA(values []float64, period int) Result {
	p, ok := effectivePeriod(period, len(values))
	if p == 0 {
		return Result{}
	}
	return Result{Value: mean(tail(values, p)), Sufficient: ok}
}

// EMA is the last value of the EMA series.
func EMA(values []float64, period int) Result {
	p, ok := effectivePeriod(period, len(values))
	if p == 0 {
		return Result{}
	}
	series := EMASeries(values, p)
	return Result{Value: series[len(series)-1], Sufficient: ok}
}

// MovingAverage dispatches on the configured average type.
func MovingAverage(values []float64, period int, maType models.MAType) Result {
	if maType == models.MATypeEMA {
		return EMA(values, period)
	}
	return SMA(values, period)
}

// MACDResult holds the latest MACD values.
type MACDResult struct {
	Line          float64
	Signal        float64
	Histogram     float64
	PrevHistogram float64
	HasPrev       bool
	Sufficient    bool
}

// MACD calculates Moving Average Convergence Divergence.
// With a short window the periods are shrunk to what is available.
func MACD(values []float64, fast, slow, signal int) MACDResult {
	n := len(values)
	if n < 2 || fast <= 0 || slow <= 0 || signal <= 0 {
		return MACDResult{}
	}
	sufficient := n >= slow+signal-1

	slowP, _ := effectivePeriod(slow, n)
	fastP, _ := effectivePeriod(fast, slowP)
	signalP, _ := effectivePeriod(signal, n-slowP+1)

	fastEMA := EMASeries(values, fastP)
	slowEMA := EMASeries(values, slowP)

	// MACD Line = Fast EMA - Slow EMA
	start := slowP - 1
	line := make([]float64, n-start)
	for i := start; i < n; i++ {
		line[i-start] = fastEMA[i] - slowEMA[i]
	}

	// Signal Line = EMA of MACD Line
	signalEMA := EMASeries(line, signalP)
	last := len(line) - 1

	res := MACDResult{
		Line:       line[last],
		Signal:     signalEMA[last],
		Histogram:  line[last] - signalEMA[last],
		Sufficient: sufficient,
	}
	if last-1 >= signalP-1 {
		res.PrevHistogram = line[last-1] - signalEMA[last-1]
		res.HasPrev = true
	}
	return res
}

// TrendStrength is the fast/slow moving average spread as a percentage of
// the slow average. Positive values mean the fast average is on top.
func TrendStrength(fastMA, slowMA Result) Result {
	if slowMA.Value == 0 {
		return Result{}
	}
	return Result{
		Value:      (fastMA.Value - slowMA.Value) / slowMA.Value * 100,
		Sufficient: fastMA.Sufficient && slowMA.Sufficient,
	}
}
