package calc

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RoundToStep quantizes value to the nearest multiple of step and renders it
// with exactly as many decimals as step has.
func RoundToStep(value, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	d := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	return d.Div(s).Round(0).Mul(s).StringFixed(int32(StepDecimals(step)))
}

func RoundToStepFloat(value, step float64) float64 {
	f, err := strconv.ParseFloat(RoundToStep(value, step), 64)
	if err != nil {
		return value
	}
	return f
}

// FloorToStep truncates toward zero, used where rounding up would oversize an order.
func FloorToStep(value, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	d := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	return d.Div(s).Truncate(0).Mul(s).StringFixed(int32(StepDecimals(step)))
}

func FloorToStepFloat(value, step float64) float64 {
	f, err := strconv.ParseFloat(FloorToStep(value, step), 64)
	if err != nil {
		return value
	}
	return f
}

func StepDecimals(step float64) int {
	text := strconv.FormatFloat(step, 'f', -1, 64)

	if strings.Contains(text, "e") || strings.Contains(text, "E") {
		text = strconv.FormatFloat(step, 'f', 18, 64)
	}

	if dot := strings.IndexByte(text, '.'); dot >= 0 {
		return len(strings.TrimRight(text[dot+1:], "0"))
	}

	return 0
}

// PercentDifference is the symmetric relative difference of |a| and |b|
// against their mean, in percent.
func PercentDifference(a, b float64) float64 {
	a, b = math.Abs(a), math.Abs(b)
	mean := (a + b) / 2
	if mean == 0 {
		return 0
	}
	return math.Abs(a-b) / mean * 100
}

func PercentDifferenceExceeds(a, b, thresholdPercent float64) bool {
	return PercentDifference(a, b) > thresholdPercent
}

// PriceOffset moves price by percent, up for positive and down for negative.
func PriceOffset(price, percent float64) float64 {
	return price * (1 + percent/100.0)
}

func FormatFloatPlain(val float64) string {
	formatted := strconv.FormatFloat(val, 'f', 12, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	if formatted == "" || formatted == "-0" {
		return "0"
	}
	return formatted
}
