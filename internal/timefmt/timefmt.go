// Package timefmt renders block durations for the terminal.
package timefmt

import (
	"fmt"
	"time"
)

// FormatDuration renders d as "1h 23m 45s", "23m 45s" or "45s".
// Sub-second parts are truncated and negative durations render as "0s".
func FormatDuration(d time.Duration) string {
	h, m, s := split(d)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatDurationShort renders d as "1h 23m", "1h" or "23m".
func FormatDurationShort(d time.Duration) string {
	h, m, _ := split(d)
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

func split(d time.Duration) (h, m, s int64) {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	return total / 3600, total % 3600 / 60, total % 60
}
