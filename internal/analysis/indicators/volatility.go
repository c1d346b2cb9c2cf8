package indicators

import "math"

// DefaultStdDevMul is the band multiplier used when none is configured.
const DefaultStdDevMul = 2.0

// Bands holds the latest Bollinger Band values.
type Bands struct {
	Middle     float64
	Upper      float64
	Lower      float64
	Bandwidth  float64
	PercentB   float64
	Squeeze    bool
	Sufficient bool
}

// Bollinger calculates Bollinger Bands over the trailing period.
// Bandwidth = (Upper - Lower) / Middle; Squeeze is set when bandwidth is
// below squeezeRatio. A non-positive mult falls back to DefaultStdDevMul.
func Bollinger(values []float64, period int, mult, squeezeRatio float64) Bands {
	p, ok := effectivePeriod(period, len(values))
	if p == 0 {
		return Bands{}
	}
	if mult <= 0 {
		mult = DefaultStdDevMul
	}

	slice := tail(values, p)
	sma := mean(slice)
	sd := stdDev(slice)

	b := Bands{
		Middle:     sma,
		Upper:      sma + mult*sd,
		Lower:      sma - mult*sd,
		Sufficient: ok,
	}

	if b.Middle != 0 {
		b.Bandwidth = (b.Upper - b.Lower) / b.Middle
	}

	// %B = (Price - Lower) / (Upper - Lower)
	if width := b.Upper - b.Lower; width != 0 {
		b.PercentB = (values[len(values)-1] - b.Lower) / width
	} else {
		b.PercentB = 0.5
	}

	b.Squeeze = b.Bandwidth < squeezeRatio
	return b
}

// Volatility is the standard deviation of log returns over the trailing
// period, in percent. It is not annualized.
func Volatility(closes []float64, period int) Result {
	n := len(closes)
	if n < 2 {
		return Result{}
	}
	p, ok := effectivePeriod(period, n-1)

	returns := make([]float64, 0, p)
	for i := n - p; i < n; i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			returns = append(returns, math.Log(closes[i]/closes[i-1]))
		}
	}
	if len(returns) == 0 {
		return Result{}
	}
	return Result{Value: stdDev(returns) * 100, Sufficient: ok}
}
