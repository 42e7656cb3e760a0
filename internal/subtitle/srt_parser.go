package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/mgpai22/captioner/internal/failure"
)

var timingRegex = regexp.MustCompile(
	`^\s*(\d{2,}:\d{2}:\d{2}[,.]\d{3})\s*-->\s*(\d{2,}:\d{2}:\d{2}[,.]\d{3})`,
)

// ParseFile reads cues from an SRT file.
func ParseFile(path string) ([]Cue, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, failure.Wrap(failure.KindIOFailure, "open subtitle file", err)
	}
	defer file.Close()

	return ParseSRT(file)
}

// ParseSRT reads cues from SRT content. A leading UTF-8 BOM is ignored and
// multi-line cue text is joined with newlines.
func ParseSRT(r io.Reader) ([]Cue, error) {
	var (
		cues      []Cue
		current   *Cue
		timed     bool
		textLines []string
		lineNum   int
	)

	finish := func() {
		if current != nil && timed {
			current.Text = strings.Join(textLines, "\n")
			cues = append(cues, *current)
		}
		current = nil
		timed = false
		textLines = nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		lineNum++
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}

		if strings.TrimSpace(line) == "" {
			finish()
			continue
		}

		if current == nil {
			index, err := strconv.Atoi(strings.TrimSpace(line))
			if err != nil {
				return nil, failure.Invalid("line %d: expected cue index, got %q", lineNum, line)
			}
			current = &Cue{Index: index}
			continue
		}

		if !timed {
			matches := timingRegex.FindStringSubmatch(line)
			if matches == nil {
				return nil, failure.Invalid("line %d: expected cue timing, got %q", lineNum, line)
			}
			start, err := ParseTimestamp(matches[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			end, err := ParseTimestamp(matches[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			current.Start = start
			current.End = end
			timed = true
			continue
		}

		textLines = append(textLines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, failure.Wrap(failure.KindIOFailure, "read subtitle content", err)
	}
	finish()

	return cues, nil
}
