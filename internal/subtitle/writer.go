package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mgpai22/captioner/internal/failure"
)

// SRTWriter serializes cues into SubRip files.
type SRTWriter struct{}

func NewWriter() *SRTWriter {
	return &SRTWriter{}
}

// Write overwrites path with the given cues. A failure part way through can
// leave a partial file behind; callers must regenerate rather than trust it.
func (w *SRTWriter) Write(cues []Cue, path string) error {
	if err := ensureDir(path); err != nil {
		return failure.Wrap(failure.KindIOFailure, "create subtitle directory", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return failure.Wrap(failure.KindIOFailure, "create subtitle file", err)
	}

	buf := bufio.NewWriter(file)
	if err := WriteSRT(buf, cues); err != nil {
		_ = file.Close()
		return failure.Wrap(failure.KindIOFailure, "write subtitle file", err)
	}
	if err := buf.Flush(); err != nil {
		_ = file.Close()
		return failure.Wrap(failure.KindIOFailure, "flush subtitle file", err)
	}
	if err := file.Close(); err != nil {
		return failure.Wrap(failure.KindIOFailure, "close subtitle file", err)
	}
	return nil
}

// WriteSRT writes cues to w. Each cue is its index line, the timing line,
// its text and a blank separator line.
func WriteSRT(w io.Writer, cues []Cue) error {
	for _, cue := range cues {
		start, err := FormatTimestamp(cue.Start)
		if err != nil {
			return fmt.Errorf("cue %d start: %w", cue.Index, err)
		}
		end, err := FormatTimestamp(cue.End)
		if err != nil {
			return fmt.Errorf("cue %d end: %w", cue.Index, err)
		}

		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			cue.Index, start, end, cueText(cue.Text)); err != nil {
			return err
		}
	}
	return nil
}

// cueText drops blank lines, which would otherwise end the cue early.
func cueText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0755)
}

// PathFor returns the subtitle path that sits beside mediaPath.
func PathFor(mediaPath string) string {
	return strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath)) + Extension
}
