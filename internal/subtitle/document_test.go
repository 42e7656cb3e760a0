package subtitle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mgpai22/captioner/internal/failure"
)

const twoCues = "1\n00:00:00,000 --> 00:00:01,000\nhello\n\n2\n00:00:01,500 --> 00:00:02,000\nworld\n\n"

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "clip.srt")

	doc, err := Save(path, twoCues)
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if doc.Cues != 2 {
		t.Errorf("expected 2 cues, got %d", doc.Cues)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if loaded.Content != twoCues || loaded.Cues != 2 || loaded.Path != path {
		t.Errorf("unexpected document %+v", loaded)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("failed to list directory: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected no temporary files left behind, got %d entries", len(entries))
	}
}

func TestSaveRejectsMalformedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.srt")
	if err := os.WriteFile(path, []byte(twoCues), 0o644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	_, err := Save(path, "1\nnot a timing line\nhello\n")
	if !errors.Is(err, failure.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(data) != twoCues {
		t.Errorf("expected the original file to be untouched, got %q", string(data))
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.srt")); !errors.Is(err, failure.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
	if _, err := Load(" "); !errors.Is(err, failure.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}
