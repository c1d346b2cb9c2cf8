// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatPrice formats a price with precision that suits its magnitude, so
// sub-unit crypto prices keep their significant digits.
func FormatPrice(price float64) string {
	switch abs := absFloat(price); {
	case abs == 0:
		return "0.00"
	case abs < 1:
		return strconv.FormatFloat(price, 'f', 6, 64)
	case abs < 100:
		return strconv.FormatFloat(price, 'f', 4, 64)
	default:
		return groupThousands(strconv.FormatFloat(price, 'f', 2, 64))
	}
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatVolume formats a volume with K/M/B suffixes.
func FormatVolume(v int64) string {
	f := float64(v)
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", f/1e9)
	case v >= 1_000_000:
		return fmt.Sprintf("%.2fM", f/1e6)
	case v >= 1_000:
		return fmt.Sprintf("%.2fK", f/1e3)
	default:
		return strconv.FormatInt(v, 10)
	}
}

func groupThousands(s string) string {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, decPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if decPart != "" {
		out += "." + decPart
	}
	if negative {
		out = "-" + out
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
