package progress

import (
	"fmt"
	"strings"
	"time"
)

var byteUnits = []struct {
	suffix string
	size   int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	for _, u := range byteUnits {
		if b >= u.size {
			return fmt.Sprintf("%.2f %s", float64(b)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%d B", b)
}

// FormatSpeed formats a bytes-per-second rate.
func FormatSpeed(bps float64) string {
	return FormatBytes(int64(bps)) + "/s"
}

// FormatDuration formats a duration as a human-readable string.
// Non-positive durations render as "unknown".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// ParseBytes parses a human-readable byte string (e.g. "256MB", "1.5GB").
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)

	var multiplier int64 = 1
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.size
			s = strings.TrimSpace(s[:len(s)-len(u.suffix)])
			break
		}
	}
	if multiplier == 1 {
		s = strings.TrimSpace(strings.TrimSuffix(s, "B"))
	}

	var value float64
	if _, err := fmt.Sscanf(s, "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}
