package scraper

import (
	"math"
	"strconv"
	"strings"
)

// ParseSaveCount converts compact counts such as "1.2K", "5M" or "1,234"
// into an integer. It never fails: anything unparseable, negative or out of
// range yields 0.
func ParseSaveCount(text string) int {
	if text == "" || text == "0" {
		return 0
	}

	text = strings.TrimSpace(strings.ReplaceAll(strings.ToUpper(text), ",", ""))

	switch {
	case strings.Contains(text, "K"):
		return scaled(strings.ReplaceAll(text, "K", ""), 1_000)
	case strings.Contains(text, "M"):
		return scaled(strings.ReplaceAll(text, "M", ""), 1_000_000)
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int(n)
}

// scaled parses a decimal prefix and multiplies it, truncating toward zero.
func scaled(prefix string, factor float64) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(prefix), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	v := math.Trunc(f * factor)
	// float64(math.MaxInt64) rounds up to 2^63, which no longer fits.
	if v < 0 || v >= math.MaxInt64 {
		return 0
	}
	return int(v)
}
