package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/progress"
)

// Result holds the files a finished job produced.
type Result struct {
	SRTPath   string `json:"srt_path,omitempty"`
	VideoPath string `json:"video_path,omitempty"`
	Cues      int    `json:"cues,omitempty"`
}

// Snapshot is a point-in-time view of a job.
type Snapshot struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Source    string         `json:"source_path"`
	Burn      bool           `json:"burn"`
	State     progress.Stage `json:"state"`
	Percent   float64        `json:"percent"`
	Message   string         `json:"message,omitempty"`
	Result    *Result        `json:"result,omitempty"`
	ErrorKind failure.Kind   `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Created   time.Time      `json:"created"`
	Finished  *time.Time     `json:"finished,omitempty"`
	Listeners int            `json:"listeners"`
}

// Job is one submitted request. Only its own worker mutates its state;
// callers read through Subscribe, State and Result, and may Cancel.
type Job struct {
	ID      string
	Request Request
	Created time.Time

	log     *logging.Logger
	channel *progress.Channel
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	cancelRequested atomic.Bool

	mu       sync.Mutex
	state    progress.Stage
	message  string
	result   Result
	err      error
	finished time.Time

	// percent only has to be monotonic within percentStage
	percent      float64
	percentStage progress.Stage
}

func newJob(id string, req Request, created time.Time, log *logging.Logger) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ID:      id,
		Request: req,
		Created: created,
		log:     log.With("job_id", id),
		channel: progress.NewChannel(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   progress.StageQueued,
		percent: progress.Indeterminate,
	}
}

// Subscribe attaches a listener that replays the job's events from the
// start. Detach it when done so the job can be pruned.
func (j *Job) Subscribe() *progress.Listener {
	return j.channel.Subscribe()
}

// Cancel asks the job to stop. Running subprocesses are terminated and the
// recognizer is abandoned after its current segment; the job then ends
// CANCELLED unless it already finished.
func (j *Job) Cancel() {
	if j.cancelRequested.CompareAndSwap(false, true) {
		j.log.Infow("cancellation requested")
	}
	j.cancel()
}

// CancelRequested reports whether Cancel has been called.
func (j *Job) CancelRequested() bool {
	return j.cancelRequested.Load()
}

// State returns the current stage.
func (j *Job) State() progress.Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed once the terminal event has been published.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the produced files, or the error that ended the job. It
// is only meaningful after Done.
func (j *Job) Result() (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		ID:        j.ID,
		Kind:      j.Request.Kind,
		Source:    j.Request.SourcePath,
		Burn:      j.Request.Burns(),
		State:     j.state,
		Percent:   j.percent,
		Message:   j.message,
		Created:   j.Created,
		Listeners: j.channel.Listeners(),
	}
	if j.state == progress.StageDone {
		result := j.result
		snap.Result = &result
	}
	if j.err != nil {
		snap.ErrorKind = failure.KindOf(j.err)
		snap.Error = failure.Message(j.err)
	}
	if !j.finished.IsZero() {
		finished := j.finished
		snap.Finished = &finished
	}
	return snap
}

// prunable reports whether the job ended before cutoff and nobody listens.
func (j *Job) prunable(cutoff time.Time) bool {
	j.mu.Lock()
	finished := j.finished
	j.mu.Unlock()
	return !finished.IsZero() && !finished.After(cutoff) && j.channel.Listeners() == 0
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to progress.Stage) bool {
	if to == progress.StageFailed || to == progress.StageCancelled {
		return !from.Terminal()
	}
	switch from {
	case progress.StageQueued:
		return to == progress.StageTranscribing || to == progress.StageBurning
	case progress.StageTranscribing:
		return to == progress.StageWritingSRT
	case progress.StageWritingSRT:
		return to == progress.StageBurning || to == progress.StageDone
	case progress.StageBurning:
		return to == progress.StageDone
	default:
		return false
	}
}

// transition moves the job to a new stage and publishes its first event.
func (j *Job) transition(to progress.Stage, percent float64, message string) error {
	j.mu.Lock()
	from := j.state
	if !isValidTransition(from, to) {
		j.mu.Unlock()
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	j.state = to
	j.mu.Unlock()

	j.log.Debugw("stage changed", "from", from, "stage", to)
	return j.publish(progress.Event{Stage: to, Percent: percent, Message: message})
}

// report publishes an update within the current stage. Percent never goes
// backwards inside a stage; an indeterminate percent repeats the last one.
func (j *Job) report(percent float64, message string) error {
	j.mu.Lock()
	stage := j.state
	j.mu.Unlock()
	return j.publish(progress.Event{Stage: stage, Percent: percent, Message: message})
}

func (j *Job) publish(e progress.Event) error {
	j.mu.Lock()
	if e.Stage == j.percentStage && !e.Stage.Terminal() && e.Percent < j.percent {
		e.Percent = j.percent
	}
	j.percent = e.Percent
	j.percentStage = e.Stage
	if e.Message != "" {
		j.message = e.Message
	}
	j.mu.Unlock()

	_, err := j.channel.Publish(e)
	return err
}

// finish records the outcome and publishes the terminal event. It is the
// last thing the worker does.
func (j *Job) finish(stage progress.Stage, result Result, err error, at time.Time) {
	j.mu.Lock()
	from := j.state
	if !isValidTransition(from, stage) {
		j.mu.Unlock()
		j.log.Errorw("dropping invalid terminal transition", "from", from, "stage", stage)
		return
	}
	j.state = stage
	j.result = result
	j.err = err
	j.finished = at
	j.mu.Unlock()

	e := progress.Event{Stage: stage, Percent: progress.Indeterminate}
	switch stage {
	case progress.StageDone:
		e.Percent = 100
		e.Message = "done"
		e.SRTPath = result.SRTPath
		e.VideoPath = result.VideoPath
	case progress.StageCancelled:
		e.Message = "cancelled"
		e.Kind = failure.KindCancelled
	default:
		e.Kind = failure.KindOf(err)
		e.Message = failure.Message(err)
	}
	if err := j.publish(e); err != nil {
		j.log.Warnw("failed to publish terminal event", "error", err)
	}
	j.cancel()
	close(j.done)
}
