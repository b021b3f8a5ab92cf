package cli

import (
	"fmt"
	"strings"
	"time"

	"chart-patterns/internal/analysis"
	"chart-patterns/pkg/utils"
)

// FormatPrice formats a price with two decimals in Indian digit grouping.
func FormatPrice(price float64) string {
	negative := price < 0
	if negative {
		price = -price
	}

	str := fmt.Sprintf("%.2f", price)
	intPart, decPart, _ := strings.Cut(str, ".")

	result := formatIndianNumber(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber groups an integer string as 1,00,00,000: the last three
// digits, then pairs.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]

	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}

// FormatPercent formats a fraction as a signed percentage.
func FormatPercent(fraction float64) string {
	value := fraction * 100
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatMetric formats an optional pattern metric as a percentage.
func FormatMetric(props analysis.ExtraProps, key analysis.MetricKey) string {
	v, ok := props.Get(key)
	if !ok {
		return "-"
	}
	return FormatPercent(v)
}

// FormatPriceAction renders the +1/-1/0 price action metric.
func FormatPriceAction(props analysis.ExtraProps) string {
	v, ok := props.Get(analysis.MetricPriceAction)
	switch {
	case !ok:
		return "-"
	case v > 0:
		return "up"
	case v < 0:
		return "down"
	default:
		return "flat"
	}
}

// FormatDate formats a date in exchange time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.IndiaLocation).Format("02-Jan-2006")
}

// FormatDateTime formats a datetime in exchange time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.IndiaLocation).Format("02-Jan-2006 15:04")
}
