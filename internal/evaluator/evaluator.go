// Package evaluator maps an alert's variant onto a trigger decision given
// the current market data and indicator snapshot.
package evaluator

import (
	"math"

	"market-alerts/internal/analysis/indicators"
	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// DefaultVolumeLookback is the trailing window of volume_spike alerts that
// leave VolumeLookback unset.
const DefaultVolumeLookback = 20

// Decision is the outcome of evaluating one alert once.
type Decision struct {
	Triggered   bool
	Observation models.Observation
}

// Evaluator is stateless; one instance is shared by every monitor.
type Evaluator struct {
	engine *indicators.Engine
}

// New creates an evaluator resolving thresholds through engine.
func New(engine *indicators.Engine) *Evaluator {
	return &Evaluator{engine: engine}
}

// Evaluate decides whether alert's condition holds. Snapshot may be nil for
// basic variants. A non-nil error (ErrUnknownVariant, ErrInsufficientHistory)
// always comes with an untriggered decision.
func (e *Evaluator) Evaluate(alert *models.Alert, md models.MarketData, snap *indicators.Snapshot) (Decision, error) {
	d := Decision{
		Observation: models.Observation{
			Price:  md.Price,
			Values: map[string]float64{"price": md.Price},
			Stale:  md.Stale,
		},
	}

	switch alert.Variant.Family() {
	case models.FamilyBasic:
		if alert.Target == nil {
			return d, apperrors.Wrapf(apperrors.ErrUnknownVariant, "alert %s: %s without target", alert.ID, alert.Variant)
		}
		ok, err := e.basic(alert, md, d.Observation.Values)
		d.Triggered = ok
		return d, err
	case models.FamilyIndicator:
		if snap == nil || len(md.Window) == 0 {
			return d, apperrors.Wrapf(apperrors.ErrInsufficientHistory, "alert %s", alert.ID)
		}
		for k, v := range snap.Flatten() {
			d.Observation.Values[k] = v
		}
		ok, err := e.indicator(alert, md, snap)
		d.Triggered = ok
		return d, err
	default:
		return d, apperrors.Wrapf(apperrors.ErrUnknownVariant, "alert %s: %q", alert.ID, alert.Variant)
	}
}

func (e *Evaluator) basic(alert *models.Alert, md models.MarketData, values map[string]float64) (bool, error) {
	t := alert.Target
	switch alert.Variant {
	case models.VariantPriceAbove:
		values["target_price"] = t.TargetPrice
		return md.Price >= t.TargetPrice, nil
	case models.VariantPriceBelow:
		values["target_price"] = t.TargetPrice
		return md.Price <= t.TargetPrice, nil
	case models.VariantPercentChange:
		values["change_percent"] = md.ChangePercent
		switch t.Direction {
		case models.DirectionUp:
			return md.ChangePercent >= t.PercentThreshold, nil
		case models.DirectionDown:
			return md.ChangePercent <= -t.PercentThreshold, nil
		default:
			return math.Abs(md.ChangePercent) >= t.PercentThreshold, nil
		}
	case models.VariantVolumeSpike:
		lookback := t.VolumeLookback
		if lookback <= 0 {
			lookback = DefaultVolumeLookback
		}
		avg, last := indicators.AverageVolume(md.Window, lookback)
		values["volume"] = float64(last)
		values["avg_volume"] = avg.Value
		if !avg.Sufficient || avg.Value <= 0 {
			return false, apperrors.Wrapf(apperrors.ErrInsufficientHistory, "alert %s: volume average", alert.ID)
		}
		return float64(last) >= avg.Value*t.VolumeMultiplier, nil
	}
	return false, apperrors.Wrapf(apperrors.ErrUnknownVariant, "alert %s: %q", alert.ID, alert.Variant)
}

func (e *Evaluator) indicator(alert *models.Alert, md models.MarketData, snap *indicators.Snapshot) (bool, error) {
	cur, prev := snap.Current, snap.Previous
	lv := e.engine.LevelsFor(alert)
	insufficient := apperrors.Wrapf(apperrors.ErrInsufficientHistory, "alert %s: %s", alert.ID, alert.Variant)

	switch alert.Variant {
	case models.VariantRSIAbove, models.VariantRSIBelow, models.VariantRSIOverbought, models.VariantRSIOversold:
		if !cur.RSI.Sufficient {
			return false, insufficient
		}
		switch alert.Variant {
		case models.VariantRSIAbove:
			return cur.RSI.Value >= lv.Threshold, nil
		case models.VariantRSIBelow:
			return cur.RSI.Value <= lv.Threshold, nil
		case models.VariantRSIOverbought:
			return cur.RSI.Value >= lv.Overbought, nil
		default:
			return cur.RSI.Value <= lv.Oversold, nil
		}

	case models.VariantMACDBullishCrossover, models.VariantMACDBearishCrossover:
		if !cur.MACD.Sufficient {
			return false, insufficient
		}
		prevHist, ok := previousHistogram(snap)
		if !ok {
			return false, insufficient
		}
		if alert.Variant == models.VariantMACDBullishCrossover {
			return prevHist <= 0 && cur.MACD.Histogram > 0, nil
		}
		return prevHist >= 0 && cur.MACD.Histogram < 0, nil

	case models.VariantMACDAboveZero:
		if !cur.MACD.Sufficient {
			return false, insufficient
		}
		return cur.MACD.Line > lv.Threshold, nil
	case models.VariantMACDBelowZero:
		if !cur.MACD.Sufficient {
			return false, insufficient
		}
		return cur.MACD.Line < lv.Threshold, nil

	case models.VariantMACrossAbove, models.VariantMAGoldenCross, models.VariantMACrossBelow, models.VariantMADeathCross:
		if !maReady(snap) {
			return false, insufficient
		}
		if alert.Variant == models.VariantMACrossAbove || alert.Variant == models.VariantMAGoldenCross {
			return prev.FastMA.Value <= prev.SlowMA.Value && cur.FastMA.Value > cur.SlowMA.Value, nil
		}
		return prev.FastMA.Value >= prev.SlowMA.Value && cur.FastMA.Value < cur.SlowMA.Value, nil

	case models.VariantMASupportBounce:
		if !maReady(snap) {
			return false, insufficient
		}
		touched := prev.Low <= prev.SlowMA.Value*(1+lv.Tolerance)
		return touched && cur.Close > cur.SlowMA.Value && cur.Close > prev.Close, nil
	case models.VariantMAResistanceReject:
		if !maReady(snap) {
			return false, insufficient
		}
		touched := prev.High >= prev.SlowMA.Value*(1-lv.Tolerance)
		return touched && cur.Close < cur.SlowMA.Value && cur.Close < prev.Close, nil

	case models.VariantBBUpperTouch:
		if !cur.Bands.Sufficient {
			return false, insufficient
		}
		return md.Price >= cur.Bands.Upper, nil
	case models.VariantBBLowerTouch:
		if !cur.Bands.Sufficient {
			return false, insufficient
		}
		return md.Price <= cur.Bands.Lower, nil
	case models.VariantBBSqueeze:
		if !cur.Bands.Sufficient {
			return false, insufficient
		}
		return cur.Bands.Bandwidth < lv.Threshold, nil
	case models.VariantBBExpansion:
		if !cur.Bands.Sufficient {
			return false, insufficient
		}
		return cur.Bands.Bandwidth > lv.Threshold, nil
	case models.VariantBBMiddleCross:
		if !bandsReady(snap) {
			return false, insufficient
		}
		return (prev.Close > prev.Bands.Middle) != (cur.Close > cur.Bands.Middle), nil
	case models.VariantBBBandwidth:
		if !bandsReady(snap) {
			return false, insufficient
		}
		return (prev.Bands.Bandwidth >= lv.Threshold) != (cur.Bands.Bandwidth >= lv.Threshold), nil

	case models.VariantWilliamsOverbought, models.VariantWilliamsOversold, models.VariantWilliamsAbove, models.VariantWilliamsBelow:
		if !cur.WilliamsR.Sufficient {
			return false, insufficient
		}
		switch alert.Variant {
		case models.VariantWilliamsOverbought:
			return cur.WilliamsR.Value >= lv.Overbought, nil
		case models.VariantWilliamsOversold:
			return cur.WilliamsR.Value <= lv.Oversold, nil
		case models.VariantWilliamsAbove:
			return cur.WilliamsR.Value >= lv.Threshold, nil
		default:
			return cur.WilliamsR.Value <= lv.Threshold, nil
		}
	}
	return false, apperrors.Wrapf(apperrors.ErrUnknownVariant, "alert %s: %q", alert.ID, alert.Variant)
}

// previousHistogram prefers the previous cycle's histogram and falls back to
// the one MACD retained from the window.
func previousHistogram(snap *indicators.Snapshot) (float64, bool) {
	if snap.HasPrevious && snap.Previous.MACD.Sufficient {
		return snap.Previous.MACD.Histogram, true
	}
	if snap.Current.MACD.HasPrev {
		return snap.Current.MACD.PrevHistogram, true
	}
	return 0, false
}

func maReady(snap *indicators.Snapshot) bool {
	c, p := snap.Current, snap.Previous
	return snap.HasPrevious && c.FastMA.Sufficient && c.SlowMA.Sufficient && p.FastMA.Sufficient && p.SlowMA.Sufficient
}

func bandsReady(snap *indicators.Snapshot) bool {
	return snap.HasPrevious && snap.Current.Bands.Sufficient && snap.Previous.Bands.Sufficient
}
