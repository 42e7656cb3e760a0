package jobs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/progress"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/transcribe"
	"github.com/mgpai22/captioner/internal/video"
)

func queuedEvent(req Request) progress.Event {
	return progress.Event{
		Stage:   progress.StageQueued,
		Percent: progress.Indeterminate,
		Message: fmt.Sprintf("queued %s job for %s", req.Kind, filepath.Base(req.SourcePath)),
	}
}

// run is the job's worker. It always ends with exactly one terminal event.
func (m *Manager) run(job *Job) {
	defer m.wg.Done()

	result, err := m.execute(job)
	stage := progress.StageDone
	switch {
	case err == nil:
	case job.CancelRequested() || errors.Is(err, failure.ErrCancelled):
		stage = progress.StageCancelled
		if !errors.Is(err, failure.ErrCancelled) {
			err = failure.Wrap(failure.KindCancelled, "job cancelled", err)
		}
	default:
		stage = progress.StageFailed
		if failure.KindOf(err) == "" {
			err = failure.Wrap(defaultKind(job.State()), "", err)
		}
	}

	job.finish(stage, result, err, m.now())

	switch stage {
	case progress.StageDone:
		job.log.Infow("job finished", "srt_path", result.SRTPath, "video_path", result.VideoPath, "cues", result.Cues)
	case progress.StageCancelled:
		job.log.Infow("job cancelled")
	default:
		job.log.Errorw("job failed", "error_kind", failure.KindOf(err), "error", err)
	}
}

// defaultKind classifies an error no collaborator tagged, by the stage it
// surfaced in.
func defaultKind(stage progress.Stage) failure.Kind {
	switch stage {
	case progress.StageWritingSRT:
		return failure.KindIOFailure
	case progress.StageBurning:
		return failure.KindSubprocessFailure
	default:
		return failure.KindMediaUnreadable
	}
}

func (m *Manager) execute(job *Job) (Result, error) {
	req := job.Request
	var result Result

	if req.Kind == KindTranscribe {
		cues, err := m.transcribe(job)
		if err != nil {
			return result, err
		}
		if err := m.writeSRT(job, cues); err != nil {
			return result, err
		}
		result.SRTPath = req.SRTPath
		result.Cues = len(cues)
	}

	if req.Burns() {
		output := req.OutputPath
		if output == "" {
			output = video.OutputPath(req.SourcePath, m.now())
		}
		if err := m.burn(job, output); err != nil {
			return result, err
		}
		result.SRTPath = req.SRTPath
		result.VideoPath = output
	}
	return result, nil
}

// checkpoint is the cooperative cancellation point between stages.
func checkpoint(job *Job, op string) error {
	if job.CancelRequested() {
		return failure.Wrap(failure.KindCancelled, op, nil)
	}
	return nil
}

// duration probes the source length in seconds; zero means unknown.
func (m *Manager) duration(job *Job) float64 {
	d, err := m.probe(job.ctx, job.Request.SourcePath)
	if err != nil {
		job.log.Warnw("could not probe media duration; progress will be indeterminate", "error", err)
		return 0
	}
	return d.Seconds()
}

func percentOf(position, duration float64) float64 {
	if duration <= 0 {
		return progress.Indeterminate
	}
	return min(max(position/duration*100, 0), 100)
}

// transcribe consumes the recognizer one segment at a time and returns the
// cues the chunker produced.
func (m *Manager) transcribe(job *Job) ([]subtitle.Cue, error) {
	req := job.Request
	ctx := job.ctx

	if err := checkpoint(job, "transcribe"); err != nil {
		return nil, err
	}
	duration := m.duration(job)
	start := percentOf(0, duration)
	if err := job.transition(progress.StageTranscribing, start, "transcribing "+filepath.Base(req.SourcePath)); err != nil {
		return nil, err
	}

	chunker, err := subtitle.NewChunker(req.Chunk)
	if err != nil {
		return nil, err
	}
	engine, err := m.newEngine(ctx, req)
	if err != nil {
		return nil, err
	}
	job.log.Debugw("recognizer started", "engine", engine.Name(), "model", req.Model)

	var cues []subtitle.Cue
	languageReported := false
	for seg, err := range engine.Transcribe(ctx, req.SourcePath, req.Model) {
		if err != nil {
			return nil, err
		}
		if err := checkpoint(job, "transcribe"); err != nil {
			return nil, err
		}

		percent := percentOf(seg.End, duration)
		if !languageReported {
			languageReported = reportLanguage(job, engine, percent)
		}

		emitted := chunker.AddSegment(seg)
		if err := reportCues(job, percent, emitted); err != nil {
			return nil, err
		}
		cues = append(cues, emitted...)
	}
	if err := ctx.Err(); err != nil {
		return nil, failure.Wrap(failure.KindCancelled, "transcribe", err)
	}

	tail := chunker.Flush()
	if err := reportCues(job, percentOf(duration, duration), tail); err != nil {
		return nil, err
	}
	return append(cues, tail...), nil
}

func reportLanguage(job *Job, engine transcribe.Engine, percent float64) bool {
	info, ok := engine.(transcribe.LanguageInfo)
	if !ok {
		return true
	}
	lang, prob := info.Language()
	if lang == "" {
		return false
	}
	_ = job.report(percent, fmt.Sprintf("Detected language: %s (probability %.2f)", lang, prob))
	return true
}

// reportCues publishes one message per cue, or a bare percent update when
// the segment completed none.
func reportCues(job *Job, percent float64, cues []subtitle.Cue) error {
	if len(cues) == 0 {
		return job.report(percent, "")
	}
	for _, cue := range cues {
		msg := fmt.Sprintf("[%s] %s", subtitle.MustFormatTimestamp(cue.End), cue.Text)
		if err := job.report(percent, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) writeSRT(job *Job, cues []subtitle.Cue) error {
	path := job.Request.SRTPath
	if err := checkpoint(job, "write subtitles"); err != nil {
		return err
	}
	if err := job.transition(progress.StageWritingSRT, 0, "writing "+path); err != nil {
		return err
	}

	if err := m.writer.Write(cues, path); err != nil {
		removePartial(job, path)
		return err
	}
	return job.report(100, fmt.Sprintf("wrote %d cues to %s", len(cues), path))
}

// burn runs ffmpeg and forwards every output line it prints. Lines carrying
// a recognizable position also move the percent.
func (m *Manager) burn(job *Job, output string) error {
	req := job.Request
	if err := checkpoint(job, "burn subtitles"); err != nil {
		return err
	}

	args, err := video.BurnArgs(video.BurnRequest{
		VideoPath:  req.SourcePath,
		SRTPath:    req.SRTPath,
		OutputPath: output,
		Style:      req.Style,
	})
	if err != nil {
		return err
	}

	parser := video.ProgressParser{Duration: m.duration(job)}
	if err := job.transition(progress.StageBurning, percentOf(0, parser.Duration), "burning subtitles into "+output); err != nil {
		return err
	}

	proc, err := m.runner.Start(job.ctx, m.video.FFmpegPath(), args)
	if err != nil {
		return err
	}

	for line := range proc.Lines() {
		percent := progress.Indeterminate
		if p, ok := parser.Percent(line.Text); ok {
			percent = p
		}
		// the channel only refuses after a terminal event, which only this
		// worker publishes
		_ = job.report(percent, line.Text)
	}

	status := proc.Wait()
	if err := status.Err("ffmpeg burn-in"); err != nil {
		removePartial(job, output)
		return err
	}
	return nil
}

func removePartial(job *Job, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		job.log.Warnw("failed to remove partial output", "path", path, "error", err)
	}
}
