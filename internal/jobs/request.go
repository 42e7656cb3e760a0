package jobs

import (
	"os"
	"strings"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/transcribe"
	"github.com/mgpai22/captioner/internal/video"
)

// Kind selects the flow a job runs.
type Kind string

const (
	// KindTranscribe writes subtitles, and burns them in when Burn is set.
	KindTranscribe Kind = "transcribe"
	// KindBurn burns an existing subtitle file into a video.
	KindBurn Kind = "burn"
)

// Request describes a job to submit.
type Request struct {
	Kind       Kind                  `json:"kind"`
	SourcePath string                `json:"source_path"`
	SRTPath    string                `json:"srt_path,omitempty"`    // output for transcribe, input for burn
	OutputPath string                `json:"output_path,omitempty"` // burned video; named from the source when empty
	Engine     string                `json:"engine,omitempty"`
	Model      transcribe.ModelSize  `json:"model,omitempty"`
	Chunk      subtitle.ChunkOptions `json:"chunk"`
	Burn       bool                  `json:"burn,omitempty"`
	Style      video.StyleSpec       `json:"style"`
}

// Burns reports whether the job ends with a burn-in stage.
func (r Request) Burns() bool {
	return r.Kind == KindBurn || r.Burn
}

// normalize fills defaults and rejects anything the flows could only fail
// on later. Errors are InvalidInput.
func (r Request) normalize() (Request, error) {
	r.SourcePath = strings.TrimSpace(r.SourcePath)
	r.SRTPath = strings.TrimSpace(r.SRTPath)
	r.OutputPath = strings.TrimSpace(r.OutputPath)

	if r.Kind == "" {
		r.Kind = KindTranscribe
	}
	if r.Kind != KindTranscribe && r.Kind != KindBurn {
		return r, failure.Invalid("unknown job kind %q", r.Kind)
	}
	if err := requireFile(r.SourcePath, "source"); err != nil {
		return r, err
	}

	switch r.Kind {
	case KindTranscribe:
		model, err := transcribe.ParseModelSize(string(r.Model))
		if err != nil {
			return r, err
		}
		r.Model = model
		if r.Engine != "" {
			if r.Engine, err = transcribe.ParseEngine(r.Engine); err != nil {
				return r, err
			}
		}
		if err := r.Chunk.Validate(); err != nil {
			return r, err
		}
		if r.SRTPath == "" {
			r.SRTPath = subtitle.PathFor(r.SourcePath)
		}
	case KindBurn:
		if err := requireFile(r.SRTPath, "subtitle"); err != nil {
			return r, err
		}
	}

	if r.Burns() {
		r.Style = r.Style.WithDefaults()
		if err := r.Style.Validate(); err != nil {
			return r, err
		}
		if r.OutputPath != "" && r.OutputPath == r.SourcePath {
			return r, failure.Invalid("output path must differ from the source video")
		}
	}
	return r, nil
}

func requireFile(path, what string) error {
	if path == "" {
		return failure.Invalid("%s path is required", what)
	}
	info, err := os.Stat(path)
	if err != nil {
		return failure.Invalid("%s %q is not readable: %v", what, path, err)
	}
	if info.IsDir() {
		return failure.Invalid("%s %q is a directory", what, path)
	}
	return nil
}
