// Package jobs runs transcription and burn-in requests as cancellable
// background jobs, each reporting through its own progress channel.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mgpai22/captioner/internal/audio"
	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/process"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/transcribe"
	"github.com/mgpai22/captioner/internal/video"
)

// DefaultRetention is how long a finished job stays visible once its last
// listener detached.
const DefaultRetention = 10 * time.Minute

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrManagerShutdown = errors.New("job manager is shut down")
)

// EngineFactory builds a fresh recognizer for one job.
type EngineFactory func(ctx context.Context, req Request) (transcribe.Engine, error)

// EngineFromConfig builds engines from cfg, letting a request pick another
// engine by name.
func EngineFromConfig(cfg transcribe.Config, deps transcribe.Deps) EngineFactory {
	return func(ctx context.Context, req Request) (transcribe.Engine, error) {
		c := cfg
		if req.Engine != "" {
			c.Engine = req.Engine
		}
		return transcribe.NewEngine(ctx, c, deps)
	}
}

// ProbeFunc returns the media duration used to estimate progress.
type ProbeFunc func(ctx context.Context, path string) (time.Duration, error)

type Options struct {
	NewEngine EngineFactory
	Runner    *process.Runner
	Video     *video.Processor
	Probe     ProbeFunc
	Log       *logging.Logger
	Retention time.Duration
	Now       func() time.Time
}

// Manager owns every submitted job. The lock guards only the job index;
// each job's work runs on its own goroutine and touches only that job.
type Manager struct {
	newEngine EngineFactory
	runner    *process.Runner
	video     *video.Processor
	probe     ProbeFunc
	writer    *subtitle.SRTWriter
	log       *logging.Logger
	retention time.Duration
	now       func() time.Time

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool
	wg     sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	log := logging.OrNop(opts.Log).Component("jobs")
	m := &Manager{
		newEngine: opts.NewEngine,
		runner:    opts.Runner,
		video:     opts.Video,
		probe:     opts.Probe,
		writer:    subtitle.NewWriter(),
		log:       log,
		retention: opts.Retention,
		now:       opts.Now,
		jobs:      make(map[string]*Job),
	}
	if m.runner == nil {
		m.runner = process.NewRunner(log)
	}
	if m.probe == nil {
		m.probe = audio.GetDuration
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Submit validates req and starts a job for it. Invalid requests fail with
// InvalidInput and never become jobs.
func (m *Manager) Submit(req Request) (*Job, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	if req.Kind == KindTranscribe && m.newEngine == nil {
		return nil, failure.Invalid("no transcription engine configured")
	}
	if req.Burns() && m.video == nil {
		return nil, failure.Invalid("no ffmpeg configured for burn-in")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerShutdown
	}

	job := newJob(ulid.Make().String(), req, m.now(), m.log)
	m.jobs[job.ID] = job
	if err := job.publish(queuedEvent(req)); err != nil {
		delete(m.jobs, job.ID)
		return nil, err
	}

	m.wg.Add(1)
	go m.run(job)

	job.log.Infow("job submitted", "kind", req.Kind, "source", req.SourcePath, "burn", req.Burns())
	return job, nil
}

func (m *Manager) Get(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel requests cancellation of the job with the given id.
func (m *Manager) Cancel(id string) error {
	job, err := m.Get(id)
	if err != nil {
		return err
	}
	job.Cancel()
	return nil
}

// Jobs returns every known job, oldest first.
func (m *Manager) Jobs() []*Job {
	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].ID < jobs[k].ID
	})
	return jobs
}

// Prune forgets finished jobs older than the retention period that have no
// listener attached, and returns how many it removed.
func (m *Manager) Prune() int {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if job.prunable(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Debugw("pruned finished jobs", "count", removed)
	}
	return removed
}

// Shutdown rejects new submissions, cancels running jobs and waits for
// their workers to publish a terminal event.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	running := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if !job.State().Terminal() {
			running = append(running, job)
		}
	}
	m.mu.Unlock()

	for _, job := range running {
		job.Cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
