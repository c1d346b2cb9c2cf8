package indicators

import (
	"fmt"

	"market-alerts/internal/models"
)

// Defaults are the engine-wide indicator parameters used when an alert
// leaves a field at its zero value.
type Defaults struct {
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
	RSIThreshold  float64

	MACDFast   int
	MACDSlow   int
	MACDSignal int

	// Crossover variants (ma_cross_above/below, bounce, reject).
	CrossFast   int
	CrossSlow   int
	CrossMAType models.MAType

	// Golden and death cross.
	TrendFast   int
	TrendSlow   int
	TrendMAType models.MAType

	BBPeriod    int
	BBStdDev    float64
	BBSqueeze   float64
	BBExpansion float64

	WilliamsPeriod     int
	WilliamsOverbought float64
	WilliamsOversold   float64
	WilliamsThreshold  float64

	// Fraction of the MA within which a low/high counts as touching it.
	TouchTolerance float64
}

// DefaultDefaults returns the standard indicator parameters.
func DefaultDefaults() Defaults {
	return Defaults{
		RSIPeriod:          14,
		RSIOverbought:      70,
		RSIOversold:        30,
		RSIThreshold:       50,
		MACDFast:           12,
		MACDSlow:           26,
		MACDSignal:         9,
		CrossFast:          9,
		CrossSlow:          21,
		CrossMAType:        models.MATypeEMA,
		TrendFast:          50,
		TrendSlow:          200,
		TrendMAType:        models.MATypeSMA,
		BBPeriod:           20,
		BBStdDev:           DefaultStdDevMul,
		BBSqueeze:          0.05,
		BBExpansion:        0.15,
		WilliamsPeriod:     14,
		WilliamsOverbought: -20,
		WilliamsOversold:   -80,
		WilliamsThreshold:  -50,
		TouchTolerance:     0.005,
	}
}

// Config is the resolved set of periods one snapshot is computed with.
// Alerts of the same instrument that resolve to the same Config share a
// snapshot.
type Config struct {
	RSIPeriod      int
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
	MAFast         int
	MASlow         int
	MAType         models.MAType
	BBPeriod       int
	BBStdDev       float64
	BBSqueeze      float64
	WilliamsPeriod int
}

// Key identifies the config for snapshot memory.
func (c Config) Key() string {
	return fmt.Sprintf("rsi%d|macd%d.%d.%d|%s%d.%d|bb%d.%g.%g|wr%d",
		c.RSIPeriod, c.MACDFast, c.MACDSlow, c.MACDSignal,
		c.MAType, c.MAFast, c.MASlow,
		c.BBPeriod, c.BBStdDev, c.BBSqueeze, c.WilliamsPeriod)
}

// Lookback is the number of candles needed for every value in the config to
// be computed over a full period, previous values included.
func (c Config) Lookback() int {
	need := c.MASlow
	for _, p := range []int{c.RSIPeriod + 1, c.MACDSlow + c.MACDSignal, c.BBPeriod, c.WilliamsPeriod, c.MAFast} {
		if p > need {
			need = p
		}
	}
	return need + 1
}

// ConfigFor resolves an alert's indicator configuration against defaults.
func ConfigFor(variant models.Variant, ic *models.IndicatorConfig, d Defaults) Config {
	cfg := Config{
		RSIPeriod:      d.RSIPeriod,
		MACDFast:       d.MACDFast,
		MACDSlow:       d.MACDSlow,
		MACDSignal:     d.MACDSignal,
		MAFast:         d.CrossFast,
		MASlow:         d.CrossSlow,
		MAType:         d.CrossMAType,
		BBPeriod:       d.BBPeriod,
		BBStdDev:       d.BBStdDev,
		BBSqueeze:      d.BBSqueeze,
		WilliamsPeriod: d.WilliamsPeriod,
	}
	if variant == models.VariantMAGoldenCross || variant == models.VariantMADeathCross {
		cfg.MAFast, cfg.MASlow, cfg.MAType = d.TrendFast, d.TrendSlow, d.TrendMAType
	}
	if ic == nil {
		return cfg
	}

	switch variant {
	case models.VariantRSIAbove, models.VariantRSIBelow, models.VariantRSIOverbought, models.VariantRSIOversold:
		cfg.RSIPeriod = orInt(ic.Period, cfg.RSIPeriod)
	case models.VariantMACDBullishCrossover, models.VariantMACDBearishCrossover, models.VariantMACDAboveZero, models.VariantMACDBelowZero:
		cfg.MACDFast = orInt(ic.FastPeriod, cfg.MACDFast)
		cfg.MACDSlow = orInt(ic.SlowPeriod, cfg.MACDSlow)
		cfg.MACDSignal = orInt(ic.SignalPeriod, cfg.MACDSignal)
	case models.VariantMACrossAbove, models.VariantMACrossBelow, models.VariantMAGoldenCross, models.VariantMADeathCross,
		models.VariantMASupportBounce, models.VariantMAResistanceReject:
		cfg.MAFast = orInt(ic.FastPeriod, cfg.MAFast)
		// A single Period on bounce/reject names the MA price is tested against.
		cfg.MASlow = orInt(ic.SlowPeriod, orInt(ic.Period, cfg.MASlow))
		if ic.MAType != "" {
			cfg.MAType = ic.MAType
		}
	case models.VariantBBUpperTouch, models.VariantBBLowerTouch, models.VariantBBSqueeze, models.VariantBBExpansion,
		models.VariantBBMiddleCross, models.VariantBBBandwidth:
		cfg.BBPeriod = orInt(ic.Period, cfg.BBPeriod)
		cfg.BBStdDev = orFloat(ic.StdDevMul, cfg.BBStdDev)
		cfg.BBSqueeze = orFloat(ic.SqueezeRatio, cfg.BBSqueeze)
	case models.VariantWilliamsOverbought, models.VariantWilliamsOversold, models.VariantWilliamsAbove, models.VariantWilliamsBelow:
		cfg.WilliamsPeriod = orInt(ic.Period, cfg.WilliamsPeriod)
	}
	return cfg
}

// Levels are the resolved comparison thresholds for one alert.
type Levels struct {
	Overbought float64
	Oversold   float64
	Threshold  float64
	Tolerance  float64
}

// LevelsFor resolves an alert's thresholds against defaults.
func LevelsFor(variant models.Variant, ic *models.IndicatorConfig, d Defaults) Levels {
	var lv Levels
	var custom *float64
	var overbought, oversold, squeeze float64
	if ic != nil {
		custom = ic.CustomThreshold
		overbought, oversold, squeeze = ic.Overbought, ic.Oversold, ic.SqueezeRatio
	}

	switch variant {
	case models.VariantRSIAbove, models.VariantRSIBelow, models.VariantRSIOverbought, models.VariantRSIOversold:
		lv.Overbought = orFloat(overbought, d.RSIOverbought)
		lv.Oversold = orFloat(oversold, d.RSIOversold)
		lv.Threshold = orCustom(custom, d.RSIThreshold)
	case models.VariantWilliamsOverbought, models.VariantWilliamsOversold, models.VariantWilliamsAbove, models.VariantWilliamsBelow:
		lv.Overbought = orFloat(overbought, d.WilliamsOverbought)
		lv.Oversold = orFloat(oversold, d.WilliamsOversold)
		lv.Threshold = orCustom(custom, d.WilliamsThreshold)
	case models.VariantBBSqueeze:
		lv.Threshold = orFloat(squeeze, orCustom(custom, d.BBSqueeze))
	case models.VariantBBExpansion:
		lv.Threshold = orCustom(custom, d.BBExpansion)
	case models.VariantBBBandwidth:
		lv.Threshold = orCustom(custom, 0)
	case models.VariantMASupportBounce, models.VariantMAResistanceReject:
		lv.Tolerance = orCustom(custom, d.TouchTolerance)
	case models.VariantMACDAboveZero, models.VariantMACDBelowZero:
		lv.Threshold = orCustom(custom, 0)
	}
	return lv
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func orCustom(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

// Values are the indicator values at one point of the window.
type Values struct {
	Close     float64
	High      float64
	Low       float64
	RSI       Result
	MACD      MACDResult
	FastMA    Result
	SlowMA    Result
	Bands     Bands
	WilliamsR Result
}

// Snapshot is the immutable indicator state for one evaluation cycle of one
// instrument and one Config.
type Snapshot struct {
	Config      Config
	Current     Values
	Previous    Values
	HasPrevious bool

	Trend      Result
	Volatility Result
	Momentum   Result
}

// Sufficient reports whether the current values were computed over full
// periods.
func (s *Snapshot) Sufficient() bool {
	c := s.Current
	return c.RSI.Sufficient && c.MACD.Sufficient && c.FastMA.Sufficient &&
		c.SlowMA.Sufficient && c.Bands.Sufficient && c.WilliamsR.Sufficient
}

// Flatten returns the snapshot as named audit values.
func (s *Snapshot) Flatten() map[string]float64 {
	c := s.Current
	return map[string]float64{
		"rsi":            c.RSI.Value,
		"macd":           c.MACD.Line,
		"macd_signal":    c.MACD.Signal,
		"macd_histogram": c.MACD.Histogram,
		"ma_fast":        c.FastMA.Value,
		"ma_slow":        c.SlowMA.Value,
		"bb_upper":       c.Bands.Upper,
		"bb_middle":      c.Bands.Middle,
		"bb_lower":       c.Bands.Lower,
		"bb_bandwidth":   c.Bands.Bandwidth,
		"williams_r":     c.WilliamsR.Value,
		"trend":          s.Trend.Value,
		"volatility":     s.Volatility.Value,
		"momentum":       s.Momentum.Value,
	}
}
