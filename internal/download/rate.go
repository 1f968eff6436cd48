package download

import (
	"fmt"
	"strconv"
	"strings"
)

// Byte rate units (1024-based, matching the engine's own speed reporting)
const (
	BytesPerKB = 1024.0
	BytesPerMB = 1024.0 * 1024.0
)

// FormatRate renders a byte rate as a display string with a
// magnitude-appropriate unit: one decimal place for KB/s and MB/s, none for
// B/s. A zero or negative rate yields the empty string.
func FormatRate(bytesPerSec float64) string {
	switch {
	case bytesPerSec >= BytesPerMB:
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/BytesPerMB)
	case bytesPerSec >= BytesPerKB:
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/BytesPerKB)
	case bytesPerSec > 0:
		return fmt.Sprintf("%.0f B/s", bytesPerSec)
	}
	return ""
}

// ParseRate parses a display speed string back into a byte rate. Unknown or
// malformed strings parse to 0.
func ParseRate(s string) float64 {
	s = strings.TrimSpace(s)

	var unit float64
	switch {
	case strings.HasSuffix(s, "MB/s"):
		unit = BytesPerMB
		s = strings.TrimSuffix(s, "MB/s")
	case strings.HasSuffix(s, "KB/s"):
		unit = BytesPerKB
		s = strings.TrimSuffix(s, "KB/s")
	case strings.HasSuffix(s, "B/s"):
		unit = 1
		s = strings.TrimSuffix(s, "B/s")
	default:
		return 0
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || value < 0 {
		return 0
	}
	return value * unit
}
