package models

import (
	"fmt"
	"time"
)

// Variant is the condition family an alert checks.
type Variant string

// Family groups variants by the kind of parameters they carry.
type Family int

const (
	FamilyBasic Family = iota + 1
	FamilyIndicator
)

// Basic variants.
const (
	VariantPriceAbove    Variant = "price_above"
	VariantPriceBelow    Variant = "price_below"
	VariantPercentChange Variant = "percent_change"
	VariantVolumeSpike   Variant = "volume_spike"
)

// RSI variants.
const (
	VariantRSIAbove      Variant = "rsi_above"
	VariantRSIBelow      Variant = "rsi_below"
	VariantRSIOverbought Variant = "rsi_overbought"
	VariantRSIOversold   Variant = "rsi_oversold"
)

// MACD variants.
const (
	VariantMACDBullishCrossover Variant = "macd_bullish_crossover"
	VariantMACDBearishCrossover Variant = "macd_bearish_crossover"
	VariantMACDAboveZero        Variant = "macd_above_zero"
	VariantMACDBelowZero        Variant = "macd_below_zero"
)

// Moving-average variants.
const (
	VariantMACrossAbove       Variant = "ma_cross_above"
	VariantMACrossBelow       Variant = "ma_cross_below"
	VariantMAGoldenCross      Variant = "ma_golden_cross"
	VariantMADeathCross       Variant = "ma_death_cross"
	VariantMASupportBounce    Variant = "ma_support_bounce"
	VariantMAResistanceReject Variant = "ma_resistance_reject"
)

// Bollinger Band variants.
const (
	VariantBBUpperTouch  Variant = "bb_upper_touch"
	VariantBBLowerTouch  Variant = "bb_lower_touch"
	VariantBBSqueeze     Variant = "bb_squeeze"
	VariantBBExpansion   Variant = "bb_expansion"
	VariantBBMiddleCross Variant = "bb_middle_cross"
	VariantBBBandwidth   Variant = "bb_bandwidth"
)

// Williams %R variants.
const (
	VariantWilliamsOverbought Variant = "williams_overbought"
	VariantWilliamsOversold   Variant = "williams_oversold"
	VariantWilliamsAbove      Variant = "williams_above"
	VariantWilliamsBelow      Variant = "williams_below"
)

var variantFamilies = map[Variant]Family{
	VariantPriceAbove:    FamilyBasic,
	VariantPriceBelow:    FamilyBasic,
	VariantPercentChange: FamilyBasic,
	VariantVolumeSpike:   FamilyBasic,

	VariantRSIAbove:      FamilyIndicator,
	VariantRSIBelow:      FamilyIndicator,
	VariantRSIOverbought: FamilyIndicator,
	VariantRSIOversold:   FamilyIndicator,

	VariantMACDBullishCrossover: FamilyIndicator,
	VariantMACDBearishCrossover: FamilyIndicator,
	VariantMACDAboveZero:        FamilyIndicator,
	VariantMACDBelowZero:        FamilyIndicator,

	VariantMACrossAbove:       FamilyIndicator,
	VariantMACrossBelow:       FamilyIndicator,
	VariantMAGoldenCross:      FamilyIndicator,
	VariantMADeathCross:       FamilyIndicator,
	VariantMASupportBounce:    FamilyIndicator,
	VariantMAResistanceReject: FamilyIndicator,

	VariantBBUpperTouch:  FamilyIndicator,
	VariantBBLowerTouch:  FamilyIndicator,
	VariantBBSqueeze:     FamilyIndicator,
	VariantBBExpansion:   FamilyIndicator,
	VariantBBMiddleCross: FamilyIndicator,
	VariantBBBandwidth:   FamilyIndicator,

	VariantWilliamsOverbought: FamilyIndicator,
	VariantWilliamsOversold:   FamilyIndicator,
	VariantWilliamsAbove:      FamilyIndicator,
	VariantWilliamsBelow:      FamilyIndicator,
}

// Family returns the variant's family, or 0 for an unknown variant.
func (v Variant) Family() Family {
	return variantFamilies[v]
}

// Valid reports whether v is one of the known variants.
func (v Variant) Valid() bool {
	_, ok := variantFamilies[v]
	return ok
}

// ParseVariant converts a stored tag into a Variant.
func ParseVariant(s string) (Variant, error) {
	v := Variant(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown alert variant %q", s)
	}
	return v, nil
}

// AllVariants returns every known variant.
func AllVariants() []Variant {
	out := make([]Variant, 0, len(variantFamilies))
	for v := range variantFamilies {
		out = append(out, v)
	}
	return out
}

// AlertStatus is the lifecycle status of an alert.
type AlertStatus string

const (
	StatusActive    AlertStatus = "active"
	StatusPaused    AlertStatus = "paused"
	StatusTriggered AlertStatus = "triggered"
	StatusExpired   AlertStatus = "expired"
)

// ChangeDirection is the direction a percent-change alert watches.
type ChangeDirection string

const (
	DirectionUp     ChangeDirection = "up"
	DirectionDown   ChangeDirection = "down"
	DirectionEither ChangeDirection = "either"
)

// MAType selects the moving average used by MA variants.
type MAType string

const (
	MATypeSMA MAType = "sma"
	MATypeEMA MAType = "ema"
)

// TargetParams holds the plain numeric parameters of basic variants.
type TargetParams struct {
	TargetPrice      float64         `json:"target_price,omitempty"`
	PercentThreshold float64         `json:"percent_threshold,omitempty"`
	Direction        ChangeDirection `json:"direction,omitempty"`
	VolumeMultiplier float64         `json:"volume_multiplier,omitempty"`
	VolumeLookback   int             `json:"volume_lookback,omitempty"`
}

// IndicatorConfig holds the parameters of indicator variants.
// Zero values fall back to the engine defaults.
type IndicatorConfig struct {
	Period          int      `json:"period,omitempty"`
	FastPeriod      int      `json:"fast_period,omitempty"`
	SlowPeriod      int      `json:"slow_period,omitempty"`
	SignalPeriod    int      `json:"signal_period,omitempty"`
	MAType          MAType   `json:"ma_type,omitempty"`
	Overbought      float64  `json:"overbought,omitempty"`
	Oversold        float64  `json:"oversold,omitempty"`
	StdDevMul       float64  `json:"std_dev_mul,omitempty"`
	SqueezeRatio    float64  `json:"squeeze_ratio,omitempty"`
	CustomThreshold *float64 `json:"custom_threshold,omitempty"`
}

// TriggerPolicy controls how often an alert may fire.
type TriggerPolicy struct {
	MinInterval       time.Duration `json:"min_interval"`
	MaxTriggers       int           `json:"max_triggers"`
	TradingHoursOnly  bool          `json:"trading_hours_only"`
	ConfirmationDelay time.Duration `json:"confirmation_delay"`
}

// ChannelTarget is one delivery destination. The core never interprets it.
type ChannelTarget struct {
	Channel     string `json:"channel"`
	Destination string `json:"destination"`
}

// NotificationTarget lists where a satisfied alert is delivered.
type NotificationTarget struct {
	Channels []ChannelTarget `json:"channels"`
}

// NotificationOutcome records one delivery attempt.
type NotificationOutcome struct {
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
	Error       string    `json:"error,omitempty"`
}

// Observation is the set of values the evaluator looked at.
type Observation struct {
	TickID string             `json:"tick_id"`
	Price  float64            `json:"price"`
	Values map[string]float64 `json:"values,omitempty"`
	Stale  bool               `json:"stale,omitempty"`
}

// TriggerRecord is one entry of an alert's trigger history.
type TriggerRecord struct {
	ID          string                `json:"id"`
	TriggeredAt time.Time             `json:"triggered_at"`
	TickID      string                `json:"tick_id"`
	Price       float64               `json:"price"`
	Values      map[string]float64    `json:"values,omitempty"`
	Outcomes    []NotificationOutcome `json:"outcomes,omitempty"`
}

// Alert is the unit of monitoring.
type Alert struct {
	ID      string
	UserID  string
	Symbol  string
	Variant Variant

	// Exactly one of Target and Indicator is set, depending on Variant.Family().
	Target    *TargetParams
	Indicator *IndicatorConfig

	Policy    TriggerPolicy
	Status    AlertStatus
	Enabled   bool
	ExpiresAt *time.Time
	Notify    NotificationTarget
	History   []TriggerRecord
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAlert builds a validated, active alert.
func NewAlert(id, userID, symbol string, variant Variant, target *TargetParams, indicator *IndicatorConfig, policy TriggerPolicy, notify NotificationTarget) (*Alert, error) {
	now := time.Now()
	a := &Alert{
		ID:        id,
		UserID:    userID,
		Symbol:    NormalizeSymbol(symbol),
		Variant:   variant,
		Target:    target,
		Indicator: indicator,
		Policy:    policy,
		Status:    StatusActive,
		Enabled:   true,
		Notify:    notify,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if a.Policy.MaxTriggers <= 0 {
		a.Policy.MaxTriggers = 1
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the variant/payload pairing and the trigger policy.
func (a *Alert) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	if a.Symbol == "" {
		return fmt.Errorf("alert %s: symbol is required", a.ID)
	}
	switch a.Variant.Family() {
	case FamilyBasic:
		if a.Target == nil || a.Indicator != nil {
			return fmt.Errorf("alert %s: variant %s requires target parameters only", a.ID, a.Variant)
		}
		if err := a.Target.validate(a.Variant); err != nil {
			return fmt.Errorf("alert %s: %w", a.ID, err)
		}
	case FamilyIndicator:
		if a.Indicator == nil || a.Target != nil {
			return fmt.Errorf("alert %s: variant %s requires indicator configuration only", a.ID, a.Variant)
		}
		if needsCustomThreshold(a.Variant) && a.Indicator.CustomThreshold == nil {
			return fmt.Errorf("alert %s: variant %s requires custom_threshold", a.ID, a.Variant)
		}
	default:
		return fmt.Errorf("alert %s: unknown alert variant %q", a.ID, a.Variant)
	}
	if a.Policy.MaxTriggers <= 0 {
		return fmt.Errorf("alert %s: max_triggers must be positive", a.ID)
	}
	if a.Policy.MinInterval < 0 || a.Policy.ConfirmationDelay < 0 {
		return fmt.Errorf("alert %s: negative durations are not allowed", a.ID)
	}
	return nil
}

func (t *TargetParams) validate(v Variant) error {
	switch v {
	case VariantPriceAbove, VariantPriceBelow:
		if t.TargetPrice <= 0 {
			return fmt.Errorf("target_price must be positive")
		}
	case VariantPercentChange:
		if t.PercentThreshold <= 0 {
			return fmt.Errorf("percent_threshold must be positive")
		}
		switch t.Direction {
		case DirectionUp, DirectionDown, DirectionEither:
		default:
			return fmt.Errorf("direction must be up, down or either")
		}
	case VariantVolumeSpike:
		if t.VolumeMultiplier <= 0 {
			return fmt.Errorf("volume_multiplier must be positive")
		}
	}
	return nil
}

func needsCustomThreshold(v Variant) bool {
	return v == VariantBBBandwidth
}

// TriggerCount is derived from the trigger history.
func (a *Alert) TriggerCount() int {
	return len(a.History)
}

// LastTrigger returns the most recent trigger record, if any.
func (a *Alert) LastTrigger() *TriggerRecord {
	if len(a.History) == 0 {
		return nil
	}
	return &a.History[len(a.History)-1]
}

// Clone returns a deep copy safe to mutate independently.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.Target != nil {
		t := *a.Target
		c.Target = &t
	}
	if a.Indicator != nil {
		ic := *a.Indicator
		if a.Indicator.CustomThreshold != nil {
			v := *a.Indicator.CustomThreshold
			ic.CustomThreshold = &v
		}
		c.Indicator = &ic
	}
	if a.ExpiresAt != nil {
		e := *a.ExpiresAt
		c.ExpiresAt = &e
	}
	c.Notify.Channels = append([]ChannelTarget(nil), a.Notify.Channels...)
	c.History = make([]TriggerRecord, len(a.History))
	for i, r := range a.History {
		c.History[i] = r.Clone()
	}
	return &c
}

// Clone returns a deep copy of the record.
func (r TriggerRecord) Clone() TriggerRecord {
	out := r
	if r.Values != nil {
		out.Values = make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	out.Outcomes = append([]NotificationOutcome(nil), r.Outcomes...)
	return out
}
