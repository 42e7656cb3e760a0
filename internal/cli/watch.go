package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/jobs"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/progress"
)

// printer renders a job's events for a terminal or a log file.
type printer interface {
	Event(e progress.Event)
	Notice(msg string)
	Close()
}

func newPrinter(w io.Writer) printer {
	if isTerminal(w) {
		return &barPrinter{w: w}
	}
	return &linePrinter{w: w}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// submitAndWatch runs req to completion in the foreground. An interrupt
// cancels the job and still waits for its terminal event.
func submitAndWatch(cmd *cobra.Command, manager *jobs.Manager, req jobs.Request, idle time.Duration, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := manager.Submit(req)
	if err != nil {
		return err
	}
	log = log.With("job_id", job.ID)

	go func() {
		select {
		case <-ctx.Done():
			log.Infow("interrupted, cancelling job")
			job.Cancel()
		case <-job.Done():
		}
	}()

	return watch(job, newPrinter(cmd.OutOrStdout()), idle)
}

// watch drains the job's events into p until the terminal one. With idle
// set, a job that reports nothing for that long is cancelled.
func watch(job *jobs.Job, p printer, idle time.Duration) error {
	l := job.Subscribe()
	defer l.Detach()
	defer p.Close()

	timedOut := false
	for {
		e, err := l.NextTimeout(context.Background(), idle)
		if errors.Is(err, failure.ErrTimedOut) {
			if !timedOut {
				timedOut = true
				p.Notice(fmt.Sprintf("no progress within %s, cancelling", idle))
				job.Cancel()
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read job progress: %w", err)
		}

		p.Event(e)
		if !e.Terminal() {
			continue
		}
		switch e.Stage {
		case progress.StageDone:
			return nil
		case progress.StageCancelled:
			if timedOut {
				return failure.Wrap(failure.KindTimedOut, "job stalled for "+idle.String(), nil)
			}
			return failure.Wrap(failure.KindCancelled, "job cancelled", nil)
		default:
			_, err := job.Result()
			return err
		}
	}
}

func formatEvent(e progress.Event) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Stage))
	if e.Percent >= 0 && !e.Terminal() {
		fmt.Fprintf(&b, " %3.0f%%", e.Percent)
	}
	b.WriteString("]")
	if e.Message != "" {
		b.WriteString(" ")
		b.WriteString(e.Message)
	}
	if e.Kind != "" && e.Stage == progress.StageFailed {
		fmt.Fprintf(&b, " (%s)", e.Kind)
	}
	if e.SRTPath != "" {
		b.WriteString("\n  subtitles: ")
		b.WriteString(e.SRTPath)
	}
	if e.VideoPath != "" {
		b.WriteString("\n  video:     ")
		b.WriteString(e.VideoPath)
	}
	return b.String()
}

// linePrinter writes one line per event.
type linePrinter struct {
	w io.Writer
}

func (p *linePrinter) Event(e progress.Event) {
	fmt.Fprintln(p.w, formatEvent(e))
}

func (p *linePrinter) Notice(msg string) {
	fmt.Fprintln(p.w, msg)
}

func (p *linePrinter) Close() {}

// barPrinter keeps one progress bar per stage and prints cue lines and the
// final result above it.
type barPrinter struct {
	w     io.Writer
	stage progress.Stage
	bar   *progressbar.ProgressBar
}

const barDescriptionWidth = 48

func (p *barPrinter) Event(e progress.Event) {
	if e.Terminal() {
		p.finish()
		fmt.Fprintln(p.w, formatEvent(e))
		return
	}
	if e.Stage != p.stage || p.bar == nil {
		p.finish()
		p.stage = e.Stage
		p.bar = p.newBar(e.Percent >= 0)
	}

	if e.Stage == progress.StageTranscribing && strings.HasPrefix(e.Message, "[") {
		_ = p.bar.Clear()
		fmt.Fprintln(p.w, e.Message)
	}
	p.bar.Describe(describe(e))
	if e.Percent >= 0 {
		_ = p.bar.Set(int(e.Percent))
	} else {
		_ = p.bar.Add(1)
	}
}

func (p *barPrinter) newBar(determinate bool) *progressbar.ProgressBar {
	total := 100
	if !determinate {
		total = -1
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(p.w)
		}),
	)
}

func describe(e progress.Event) string {
	desc := []rune(fmt.Sprintf("%-12s %s", e.Stage, e.Message))
	if len(desc) > barDescriptionWidth {
		return string(desc[:barDescriptionWidth-3]) + "..."
	}
	return string(desc)
}

func (p *barPrinter) Notice(msg string) {
	if p.bar != nil {
		_ = p.bar.Clear()
	}
	fmt.Fprintln(p.w, msg)
}

func (p *barPrinter) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

func (p *barPrinter) Close() {
	p.finish()
}
