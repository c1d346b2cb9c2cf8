package evaluator

import (
	"testing"
	"time"

	"market-alerts/internal/analysis/indicators"
	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

func candles(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	base := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func ramp(from, to float64, n int) []float64 {
	out := make([]float64, n)
	step := (to - from) / float64(n-1)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}

func basicAlert(variant models.Variant, target models.TargetParams) *models.Alert {
	return &models.Alert{ID: "a", Symbol: "INFY", Variant: variant, Target: &target,
		Policy: models.TriggerPolicy{MaxTriggers: 1}, Status: models.StatusActive, Enabled: true}
}

func indicatorAlert(variant models.Variant, ic models.IndicatorConfig) *models.Alert {
	return &models.Alert{ID: "a", Symbol: "INFY", Variant: variant, Indicator: &ic,
		Policy: models.TriggerPolicy{MaxTriggers: 1}, Status: models.StatusActive, Enabled: true}
}

func TestEvaluate_BasicVariants(t *testing.T) {
	ev := New(indicators.NewEngine(indicators.Defaults{}))

	tests := []struct {
		name   string
		alert  *models.Alert
		md     models.MarketData
		expect bool
	}{
		{"price above hit", basicAlert(models.VariantPriceAbove, models.TargetParams{TargetPrice: 100}), models.MarketData{Price: 100}, true},
		{"price above miss", basicAlert(models.VariantPriceAbove, models.TargetParams{TargetPrice: 100}), models.MarketData{Price: 99.99}, false},
		{"price below hit", basicAlert(models.VariantPriceBelow, models.TargetParams{TargetPrice: 50}), models.MarketData{Price: 49}, true},
		{"change up", basicAlert(models.VariantPercentChange, models.TargetParams{PercentThreshold: 3, Direction: models.DirectionUp}), models.MarketData{ChangePercent: 3.2}, true},
		{"change up ignores drop", basicAlert(models.VariantPercentChange, models.TargetParams{PercentThreshold: 3, Direction: models.DirectionUp}), models.MarketData{ChangePercent: -5}, false},
		{"change down", basicAlert(models.VariantPercentChange, models.TargetParams{PercentThreshold: 3, Direction: models.DirectionDown}), models.MarketData{ChangePercent: -3}, true},
		{"change either", basicAlert(models.VariantPercentChange, models.TargetParams{PercentThreshold: 3, Direction: models.DirectionEither}), models.MarketData{ChangePercent: -4}, true},
		{"change either small", basicAlert(models.VariantPercentChange, models.TargetParams{PercentThreshold: 3, Direction: models.DirectionEither}), models.MarketData{ChangePercent: 2.9}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ev.Evaluate(tt.alert, tt.md, nil)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if d.Triggered != tt.expect {
				t.Errorf("Triggered = %v, want %v (values %v)", d.Triggered, tt.expect, d.Observation.Values)
			}
		})
	}
}

func TestEvaluate_VolumeSpike(t *testing.T) {
	ev := New(indicators.NewEngine(indicators.Defaults{}))
	window := candles(ramp(100, 110, 11)...)
	window[len(window)-1].Volume = 3500

	alert := basicAlert(models.VariantVolumeSpike, models.TargetParams{VolumeMultiplier: 3, VolumeLookback: 10})
	d, err := ev.Evaluate(alert, models.MarketData{Price: 110, Window: window}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Triggered {
		t.Fatalf("expected spike: %v", d.Observation.Values)
	}
	if d.Observation.Values["avg_volume"] != 1000 {
		t.Errorf("avg_volume = %v, want 1000", d.Observation.Values["avg_volume"])
	}

	alert.Target.VolumeMultiplier = 4
	if d, _ := ev.Evaluate(alert, models.MarketData{Price: 110, Window: window}, nil); d.Triggered {
		t.Fatal("3.5x volume must not satisfy a 4x multiplier")
	}

	_, err = ev.Evaluate(alert, models.MarketData{Price: 110, Window: window[:1]}, nil)
	if !apperrors.Is(err, apperrors.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory without prior candles, got %v", err)
	}
}

func TestEvaluate_UnknownVariant(t *testing.T) {
	ev := New(indicators.NewEngine(indicators.Defaults{}))
	alert := &models.Alert{ID: "x", Variant: models.Variant("moon_phase"), Target: &models.TargetParams{}}

	d, err := ev.Evaluate(alert, models.MarketData{Price: 1}, nil)
	if !apperrors.Is(err, apperrors.ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
	if d.Triggered {
		t.Fatal("unknown variant must never trigger")
	}
}

func TestEvaluate_InsufficientHistoryNeverTriggers(t *testing.T) {
	engine := indicators.NewEngine(indicators.Defaults{})
	ev := New(engine)
	window := candles(100, 101, 102)

	for _, v := range []models.Variant{
		models.VariantRSIOverbought, models.VariantMACDBullishCrossover, models.VariantMAGoldenCross,
		models.VariantBBUpperTouch, models.VariantWilliamsOverbought,
	} {
		alert := indicatorAlert(v, models.IndicatorConfig{})
		snap := engine.Compute(window, engine.ConfigFor(alert), nil)
		d, err := ev.Evaluate(alert, models.MarketData{Price: 500, Window: window}, &snap)
		if !apperrors.Is(err, apperrors.ErrInsufficientHistory) {
			t.Errorf("%s: expected ErrInsufficientHistory, got %v", v, err)
		}
		if d.Triggered {
			t.Errorf("%s: triggered on insufficient history", v)
		}
	}
}

func TestEvaluate_RSIOverboughtAndOversold(t *testing.T) {
	engine := indicators.NewEngine(indicators.Defaults{})
	ev := New(engine)

	up := candles(ramp(100, 130, 30)...)
	down := candles(ramp(130, 100, 30)...)

	ob := indicatorAlert(models.VariantRSIOverbought, models.IndicatorConfig{})
	snap := engine.Compute(up, engine.ConfigFor(ob), nil)
	if d, err := ev.Evaluate(ob, models.MarketData{Price: 130, Window: up}, &snap); err != nil || !d.Triggered {
		t.Fatalf("expected overbought on a steady rise: %+v err=%v", d, err)
	}

	os := indicatorAlert(models.VariantRSIOversold, models.IndicatorConfig{})
	snap = engine.Compute(down, engine.ConfigFor(os), nil)
	if d, err := ev.Evaluate(os, models.MarketData{Price: 100, Window: down}, &snap); err != nil || !d.Triggered {
		t.Fatalf("expected oversold on a steady fall: %+v err=%v", d, err)
	}

	custom := 99.5
	above := indicatorAlert(models.VariantRSIAbove, models.IndicatorConfig{CustomThreshold: &custom})
	snap = engine.Compute(up, engine.ConfigFor(above), nil)
	if d, _ := ev.Evaluate(above, models.MarketData{Price: 130, Window: up}, &snap); !d.Triggered {
		t.Fatal("RSI of a monotonic rise is 100 and should clear 99.5")
	}
}

// replay feeds growing windows through the engine the way consecutive ticks
// do, presenting every window twice as a cache hit would, and counts triggers.
func replay(t *testing.T, engine *indicators.Engine, ev *Evaluator, alert *models.Alert, closes []float64) int {
	t.Helper()
	all := candles(closes...)
	cfg := engine.ConfigFor(alert)

	var prev *indicators.Snapshot
	fired := 0
	for i := 1; i <= len(all); i++ {
		window := all[:i]
		for repeat := 0; repeat < 2; repeat++ {
			snap := engine.Compute(window, cfg, prev)
			d, _ := ev.Evaluate(alert, models.MarketData{Price: window[i-1].Close, Window: window}, &snap)
			if d.Triggered {
				fired++
			}
			prev = &snap
		}
	}
	return fired
}

func TestEvaluate_GoldenCrossFiresExactlyOnce(t *testing.T) {
	engine := indicators.NewEngine(indicators.Defaults{})
	ev := New(engine)

	closes := append(ramp(200, 160, 40), ramp(161, 240, 40)...)
	alert := indicatorAlert(models.VariantMAGoldenCross, models.IndicatorConfig{FastPeriod: 5, SlowPeriod: 20})

	if got := replay(t, engine, ev, alert, closes); got != 1 {
		t.Fatalf("golden cross fired %d times, want exactly 1", got)
	}
}

func TestEvaluate_DeathCrossFiresExactlyOnce(t *testing.T) {
	engine := indicators.NewEngine(indicators.Defaults{})
	ev := New(engine)

	closes := append(ramp(160, 200, 40), ramp(199, 120, 40)...)
	alert := indicatorAlert(models.VariantMADeathCross, models.IndicatorConfig{FastPeriod: 5, SlowPeriod: 20})

	if got := replay(t, engine, ev, alert, closes); got != 1 {
		t.Fatalf("death cross fired %d times, want exactly 1", got)
	}
}

func TestEvaluate_MACDCrossoverFollowsHistogramSign(t *testing.T) {
	engine := indicators.NewEngine(indicators.Defaults{})
	ev := New(engine)

	// Accelerating moves keep the histogram clearly away from zero.
	closes := make([]float64, 0, 120)
	for i := 0; i < 60; i++ {
		closes = append(closes, 200-0.015*float64(i*i))
	}
	bottom := closes[len(closes)-1]
	for j := 1; j <= 60; j++ {
		closes = append(closes, bottom+0.03*float64(j*j))
	}
	bull := indicatorAlert(models.VariantMACDBullishCrossover, models.IndicatorConfig{})
	if got := replay(t, engine, ev, bull, closes); got != 1 {
		t.Fatalf("bullish crossover fired %d times, want 1", got)
	}
}

func TestEvaluate_BandTouchAndSqueeze(t *testing.T) {
	engine := indicators.NewEngine(indicators.Defaults{})
	ev := New(engine)

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
		if i%2 == 1 {
			flat[i] = 101
		}
	}
	window := candles(flat...)

	squeeze := indicatorAlert(models.VariantBBSqueeze, models.IndicatorConfig{})
	snap := engine.Compute(window, engine.ConfigFor(squeeze), nil)
	if d, err := ev.Evaluate(squeeze, models.MarketData{Price: 100, Window: window}, &snap); err != nil || !d.Triggered {
		t.Fatalf("tight range should be a squeeze: %+v err=%v", d.Observation.Values, err)
	}

	upper := indicatorAlert(models.VariantBBUpperTouch, models.IndicatorConfig{})
	snap = engine.Compute(window, engine.ConfigFor(upper), nil)
	if d, _ := ev.Evaluate(upper, models.MarketData{Price: 105, Window: window}, &snap); !d.Triggered {
		t.Fatalf("price far above the band should touch: upper=%v", snap.Current.Bands.Upper)
	}
	if d, _ := ev.Evaluate(upper, models.MarketData{Price: 100.5, Window: window}, &snap); d.Triggered {
		t.Fatal("price inside the band should not touch")
	}
}

func TestEvaluate_ObservationCarriesAuditValues(t *testing.T) {
	engine := indicators.NewEngine(indicators.Defaults{})
	ev := New(engine)
	window := candles(ramp(100, 140, 40)...)

	alert := indicatorAlert(models.VariantWilliamsOverbought, models.IndicatorConfig{})
	snap := engine.Compute(window, engine.ConfigFor(alert), nil)
	d, err := ev.Evaluate(alert, models.MarketData{Price: 140, Window: window, Stale: true}, &snap)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Triggered {
		t.Fatalf("close at the period high should be overbought: %v", d.Observation.Values["williams_r"])
	}
	if !d.Observation.Stale || d.Observation.Price != 140 {
		t.Fatalf("observation lost market data context: %+v", d.Observation)
	}
	if _, ok := d.Observation.Values["rsi"]; !ok {
		t.Fatal("observation should include snapshot values")
	}
}
