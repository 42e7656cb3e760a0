package video

import (
	"regexp"
	"strconv"
	"strings"
)

var statsTimeRegex = regexp.MustCompile(`time=\s*(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ProgressParser recognizes ffmpeg progress markers in output lines. Lines
// it does not understand are left to the caller as plain diagnostics.
type ProgressParser struct {
	// Duration of the source in seconds; zero or less disables percentages.
	Duration float64
}

// Percent reports the completion percentage carried by line, if any.
func (p ProgressParser) Percent(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if line == "progress=end" {
		return 100, true
	}
	if p.Duration <= 0 {
		return 0, false
	}

	seconds, ok := elapsedSeconds(line)
	if !ok || seconds < 0 {
		return 0, false
	}
	percent := seconds / p.Duration * 100
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

// elapsedSeconds reads the media position from -progress key/value lines
// (out_time_us, out_time_ms, out_time) or from the stderr stats line.
func elapsedSeconds(line string) (float64, bool) {
	if key, value, found := strings.Cut(line, "="); found && !strings.Contains(value, "=") {
		switch key {
		// out_time_ms is microseconds as well, a long-standing ffmpeg quirk
		case "out_time_us", "out_time_ms":
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, false
			}
			return float64(us) / 1e6, true
		case "out_time":
			return clockSeconds(value)
		}
	}

	matches := statsTimeRegex.FindStringSubmatch(line)
	if matches == nil {
		return 0, false
	}
	return clockSeconds(matches[1] + ":" + matches[2] + ":" + matches[3])
}

func clockSeconds(value string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	s, errS := strconv.ParseFloat(parts[2], 64)
	if errH != nil || errM != nil || errS != nil {
		return 0, false
	}
	return float64(h*3600+m*60) + s, true
}
