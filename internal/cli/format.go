package cli

import (
	"fmt"
	"strings"
	"time"

	"market-alerts/internal/models"
	"market-alerts/pkg/utils"
)

// DescribeCondition renders an alert's condition in one line, e.g.
// "price_above 2,500.00" or "rsi_overbought (period 14, level 75)".
func DescribeCondition(a *models.Alert) string {
	v := string(a.Variant)
	if t := a.Target; t != nil {
		switch a.Variant {
		case models.VariantPriceAbove, models.VariantPriceBelow:
			return v + " " + utils.FormatPrice(t.TargetPrice)
		case models.VariantPercentChange:
			return fmt.Sprintf("%s %s %.2f%%", v, t.Direction, t.PercentThreshold)
		case models.VariantVolumeSpike:
			s := fmt.Sprintf("%s x%.1f", v, t.VolumeMultiplier)
			if t.VolumeLookback > 0 {
				s += fmt.Sprintf(" over %d", t.VolumeLookback)
			}
			return s
		}
		return v
	}

	ic := a.Indicator
	if ic == nil {
		return v
	}
	var params []string
	if ic.Period > 0 {
		params = append(params, fmt.Sprintf("period %d", ic.Period))
	}
	if ic.FastPeriod > 0 || ic.SlowPeriod > 0 {
		params = append(params, fmt.Sprintf("%d/%d", ic.FastPeriod, ic.SlowPeriod))
	}
	if ic.MAType != "" {
		params = append(params, string(ic.MAType))
	}
	if ic.Overbought != 0 {
		params = append(params, fmt.Sprintf("level %g", ic.Overbought))
	}
	if ic.Oversold != 0 {
		params = append(params, fmt.Sprintf("level %g", ic.Oversold))
	}
	if ic.CustomThreshold != nil {
		params = append(params, fmt.Sprintf("threshold %g", *ic.CustomThreshold))
	}
	if len(params) == 0 {
		return v
	}
	return fmt.Sprintf("%s (%s)", v, strings.Join(params, ", "))
}

// FormatTriggers renders "count/max".
func FormatTriggers(a *models.Alert) string {
	return fmt.Sprintf("%d/%d", a.TriggerCount(), a.Policy.MaxTriggers)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatDateTime formats a time in loc, "-" for the zero time.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("02-Jan-2006 15:04:05")
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadRight pads a string to the right.
func PadRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}
