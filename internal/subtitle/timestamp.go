package subtitle

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/mgpai22/captioner/internal/failure"
)

// FormatTimestamp converts seconds into the SRT timestamp form HH:MM:SS,mmm.
// Hours are not capped. Rounding to the nearest millisecond keeps the output
// monotonic in its input.
func FormatTimestamp(seconds float64) (string, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "", failure.Invalid("timestamp %v is not a finite number", seconds)
	}
	if seconds < 0 {
		return "", failure.Invalid("timestamp %v is negative", seconds)
	}

	total := int64(math.Round(seconds * 1000))
	millis := total % 1000
	total /= 1000
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis), nil
}

// MustFormatTimestamp is FormatTimestamp for values already known to be valid.
// Negative input is clamped to zero.
func MustFormatTimestamp(seconds float64) string {
	ts, err := FormatTimestamp(math.Max(seconds, 0))
	if err != nil {
		return "00:00:00,000"
	}
	return ts
}

var timestampRegex = regexp.MustCompile(`^(\d{2,}):(\d{2}):(\d{2})[,.](\d{3})$`)

// ParseTimestamp converts an HH:MM:SS,mmm timestamp back into seconds.
func ParseTimestamp(value string) (float64, error) {
	matches := timestampRegex.FindStringSubmatch(value)
	if matches == nil {
		return 0, failure.Invalid("malformed timestamp %q", value)
	}
	h, _ := strconv.Atoi(matches[1])
	m, _ := strconv.Atoi(matches[2])
	s, _ := strconv.Atoi(matches[3])
	ms, _ := strconv.Atoi(matches[4])
	if m > 59 || s > 59 {
		return 0, failure.Invalid("timestamp %q out of range", value)
	}

	return float64(h*3600+m*60+s) + float64(ms)/1000, nil
}
