package rest

import (
	"strconv"
	"time"

	"intentbot/internal/calc"
)

// FormatPrice renders a price on the tick grid.
func FormatPrice(value, tick float64) string {
	return calc.RoundToStep(value, tick)
}

// FormatQty renders a quantity floored to the lot step.
func FormatQty(value, lot float64) string {
	return calc.FloorToStep(value, lot)
}

func parseFloatOrZero(value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(value, 64)
}

func parseMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
