package indicators

// RSI calculates the Relative Strength Index with Wilder smoothing.
// Averages are seeded over the first period changes and then smoothed with
// weight 1/period. With fewer than two closes the neutral value 50 is returned.
func RSI(closes []float64, period int) Result {
	n := len(closes)
	if period <= 0 || n < 2 {
		return Result{Value: 50}
	}
	p, ok := effectivePeriod(period, n-1)

	gains := make([]float64, n)
	losses := make([]float64, n)

	// Calculate gains and losses
	for i := 1; i < n; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	// First average using SMA
	avgGain := mean(gains[1 : p+1])
	avgLoss := mean(losses[1 : p+1])

	// Subsequent values using Wilder smoothing
	for i := p + 1; i < n; i++ {
		avgGain = (avgGain*float64(p-1) + gains[i]) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + losses[i]) / float64(p)
	}

	return Result{Value: rsiValue(avgGain, avgLoss), Sufficient: ok}
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return clamp(100-(100/(1+rs)), 0, 100)
}

// WilliamsR calculates Williams %R over the trailing period:
// ((highest high - close) / (highest high - lowest low)) * -100.
// A flat range yields the neutral value -50.
func WilliamsR(highs, lows, closes []float64, period int) Result {
	n := len(closes)
	if n == 0 || len(highs) != n || len(lows) != n {
		return Result{Value: -50}
	}
	p, ok := effectivePeriod(period, n)
	if p == 0 {
		return Result{Value: -50}
	}

	hh := highest(tail(highs, p))
	ll := lowest(tail(lows, p))
	rangeHL := hh - ll
	if rangeHL == 0 {
		return Result{Value: -50, Sufficient: ok}
	}

	wr := ((hh - closes[n-1]) / rangeHL) * -100
	return Result{Value: clamp(wr, -100, 0), Sufficient: ok}
}

// Momentum is the rate of change over period, in percent.
func Momentum(closes []float64, period int) Result {
	n := len(closes)
	if n < 2 {
		return Result{}
	}
	p, ok := effectivePeriod(period, n-1)
	if p == 0 {
		return Result{}
	}
	base := closes[n-1-p]
	if base == 0 {
		return Result{}
	}
	return Result{Value: (closes[n-1] - base) / base * 100, Sufficient: ok}
}
