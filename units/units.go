package units

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a flexible duration string. Accepted formats:
//   - hh:mm:ss (e.g. "00:00:20")
//   - Go-style duration (e.g. "1h", "10s", "1m30s")
//   - Plain number, interpreted in the given bare unit (e.g. "20" with
//     time.Second is twenty seconds, "0.5" with time.Hour is thirty minutes)
//
// Negative values are rejected.
func ParseDuration(s string, bare time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	// Try hh:mm:ss
	if strings.Count(s, ":") == 2 {
		parts := strings.SplitN(s, ":", 3)
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		sec, err3 := strconv.Atoi(parts[2])
		if err1 == nil && err2 == nil && err3 == nil {
			d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
			if d < 0 {
				return 0, fmt.Errorf("negative duration: %s", s)
			}
			return d, nil
		}
	}

	// Try Go-style duration (e.g. "1h30m5s", "5m", "30s")
	if d, err := time.ParseDuration(strings.ToLower(s)); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration: %s", s)
		}
		return d, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: must be hh:mm:ss, Go duration (1h30m), or a plain number", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative duration: %s", s)
	}
	return time.Duration(f * float64(bare)), nil
}

// FormatDuration formats a duration as hh:mm:ss, truncated to seconds.
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Seconds renders a duration as a whole number of seconds for ffmpeg's -t,
// rounding up so a sub-second remainder is never dropped.
func Seconds(d time.Duration) string {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return strconv.FormatInt(secs, 10)
}

const (
	kilobyte = 1024
	megabyte = 1024 * 1024
	gigabyte = 1024 * 1024 * 1024
)

// FormatBytes formats a byte count using the largest fitting unit.
func FormatBytes(b int64) string {
	switch {
	case b >= gigabyte:
		return fmt.Sprintf("%.1fGB", float64(b)/gigabyte)
	case b >= megabyte:
		return fmt.Sprintf("%.1fMB", float64(b)/megabyte)
	case b >= kilobyte:
		return fmt.Sprintf("%.1fKB", float64(b)/kilobyte)
	default:
		return fmt.Sprintf("%dB", b)
	}
}
