package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/mgpai22/captioner/internal/failure"
)

// OutputTimeLayout is the ISO-8601 basic timestamp used in burned file names.
const OutputTimeLayout = "20060102T150405"

// holds options for audio extraction
type ExtractAudioOptions struct {
	Format     string // Output format (wav, mp3, aac, flac)
	SampleRate int    // Sample rate in Hz (e.g., 16000, 44100, 48000)
	Channels   int    // Number of channels (1 = mono, 2 = stereo)
	Bitrate    string // Bitrate for lossy formats (e.g., "128k", "320k")
}

// mono 16kHz PCM, what local recognizers expect
func DefaultExtractAudioOptions() ExtractAudioOptions {
	return ExtractAudioOptions{
		Format:     "wav",
		SampleRate: 16000,
		Channels:   1,
	}
}

// BurnRequest describes one burn-in run.
type BurnRequest struct {
	VideoPath  string
	SRTPath    string
	OutputPath string
	Style      StyleSpec
}

// Processor builds and runs ffmpeg invocations.
type Processor struct {
	ffmpegPath string
}

func NewProcessor(ffmpegPath string) *Processor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Processor{ffmpegPath: ffmpegPath}
}

// FFmpegPath returns the binary this processor invokes.
func (p *Processor) FFmpegPath() string {
	return p.ffmpegPath
}

// extracts audio from a media file
func (p *Processor) ExtractAudio(
	ctx context.Context,
	mediaPath, outputPath string,
	opts ExtractAudioOptions,
) error {
	if _, err := os.Stat(mediaPath); err != nil {
		return failure.Wrap(failure.KindMediaUnreadable, "open media", err)
	}

	outputDir := filepath.Dir(outputPath)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return failure.Wrap(failure.KindIOFailure, "create output directory", err)
	}

	kwargs := ffmpeg.KwArgs{
		"vn": "",              // No video
		"ar": opts.SampleRate, // Sample rate
		"ac": opts.Channels,   // Channels
	}

	switch opts.Format {
	case "mp3":
		kwargs["acodec"] = "libmp3lame"
		if opts.Bitrate != "" {
			kwargs["b:a"] = opts.Bitrate
		}
	case "aac":
		kwargs["acodec"] = "aac"
		if opts.Bitrate != "" {
			kwargs["b:a"] = opts.Bitrate
		}
	case "flac":
		kwargs["acodec"] = "flac"
	default:
		kwargs["acodec"] = "pcm_s16le"
	}

	args := ffmpeg.Input(mediaPath).
		Output(outputPath, kwargs).
		OverWriteOutput().
		GetArgs()

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return failure.Wrap(failure.KindMediaUnreadable, "ffmpeg audio extraction",
			fmt.Errorf("%w: %s", err, lastLine(string(output))))
	}
	return nil
}

// BurnArgs returns the ffmpeg argument list (without the binary) that burns
// the request's subtitles into a new video. Audio is copied untouched and the
// output is overwritten. Machine-readable progress goes to stdout.
func BurnArgs(req BurnRequest) ([]string, error) {
	if strings.TrimSpace(req.VideoPath) == "" {
		return nil, failure.Invalid("video path is required")
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return nil, failure.Invalid("output path is required")
	}
	filter, err := SubtitlesFilter(req.SRTPath, req.Style)
	if err != nil {
		return nil, err
	}

	args := ffmpeg.Input(req.VideoPath).
		Output(req.OutputPath, ffmpeg.KwArgs{
			"vf":  filter,
			"c:a": "copy",
		}).
		GlobalArgs("-hide_banner", "-progress", "pipe:1").
		OverWriteOutput().
		GetArgs()
	return args, nil
}

// OutputPath names the burned video {stem}_captions_{timestamp}{ext} beside
// the source.
func OutputPath(videoPath string, now time.Time) string {
	dir := filepath.Dir(videoPath)
	ext := filepath.Ext(videoPath)
	stem := strings.TrimSuffix(filepath.Base(videoPath), ext)
	return filepath.Join(dir, fmt.Sprintf("%s_captions_%s%s", stem, now.Format(OutputTimeLayout), ext))
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
