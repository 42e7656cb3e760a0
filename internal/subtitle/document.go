package subtitle

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mgpai22/captioner/internal/failure"
)

// Document is an SRT file loaded for editing.
type Document struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Cues    int    `json:"cues"`
}

// Load reads the subtitle file at path and checks that it parses.
func Load(path string) (Document, error) {
	if strings.TrimSpace(path) == "" {
		return Document{}, failure.Invalid("subtitle path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, failure.Invalid("subtitle file %q not found", path)
		}
		return Document{}, failure.Wrap(failure.KindIOFailure, "read subtitle file", err)
	}

	content := string(data)
	cues, err := ParseSRT(strings.NewReader(content))
	if err != nil {
		return Document{}, err
	}
	return Document{Path: path, Content: content, Cues: len(cues)}, nil
}

// Save replaces the file at path with edited content. Content that does not
// parse as SRT is rejected before anything is written, and the file is
// swapped in with a rename so readers never see half of it.
func Save(path, content string) (Document, error) {
	if strings.TrimSpace(path) == "" {
		return Document{}, failure.Invalid("subtitle path is required")
	}
	cues, err := ParseSRT(strings.NewReader(content))
	if err != nil {
		return Document{}, err
	}

	if err := ensureDir(path); err != nil {
		return Document{}, failure.Wrap(failure.KindIOFailure, "create subtitle directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".captioner-*.srt")
	if err != nil {
		return Document{}, failure.Wrap(failure.KindIOFailure, "create temporary subtitle file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return Document{}, failure.Wrap(failure.KindIOFailure, "write subtitle file", err)
	}
	if err := tmp.Close(); err != nil {
		return Document{}, failure.Wrap(failure.KindIOFailure, "close subtitle file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Document{}, failure.Wrap(failure.KindIOFailure, "replace subtitle file", err)
	}
	return Document{Path: path, Content: content, Cues: len(cues)}, nil
}
