// Package process runs external tools, streaming their output line by line
// while they run and reporting a final ExitStatus.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
)

const (
	DefaultGracePeriod = 5 * time.Second
	DefaultTailLines   = 20

	maxLineBytes = 1024 * 1024
	lineBuffer   = 64
)

// Outcome classifies how a process ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Stream identifies which pipe a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one line of process output without its terminator.
type Line struct {
	Stream Stream
	Text   string
}

// ExitStatus is the final report of a process. Tail holds the last output
// lines for diagnostics.
type ExitStatus struct {
	Outcome Outcome
	Code    int
	Tail    []string
}

// Err converts a non-successful status into a classified error.
func (s ExitStatus) Err(op string) error {
	switch s.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeCancelled:
		return failure.Wrap(failure.KindCancelled, op, nil)
	default:
		return failure.Wrap(failure.KindSubprocessFailure, op, &ExitError{Status: s})
	}
}

// ExitError carries a failed ExitStatus through error chains.
type ExitError struct {
	Status ExitStatus
}

func (e *ExitError) Error() string {
	msg := "exit status " + strconv.Itoa(e.Status.Code)
	if n := len(e.Status.Tail); n > 0 {
		msg += ": " + e.Status.Tail[n-1]
	}
	return msg
}

// Runner starts processes. The zero value is not usable; use NewRunner.
type Runner struct {
	log       *logging.Logger
	grace     time.Duration
	tailLines int
}

// NewRunner returns a runner with the default grace period and tail size.
func NewRunner(log *logging.Logger) *Runner {
	return &Runner{
		log:       logging.OrNop(log).Component("process"),
		grace:     DefaultGracePeriod,
		tailLines: DefaultTailLines,
	}
}

// WithGracePeriod sets how long Terminate waits before killing.
func (r *Runner) WithGracePeriod(d time.Duration) *Runner {
	clone := *r
	if d > 0 {
		clone.grace = d
	}
	return &clone
}

// Process is a running external command.
//
// Lines must be drained by the caller, or Wait will discard whatever is
// left. Cancelling the Start context terminates the process.
type Process struct {
	cmd   *exec.Cmd
	log   *logging.Logger
	grace time.Duration

	lines chan Line
	done  chan struct{}
	tail  *ring

	terminated    atomic.Bool
	terminateOnce sync.Once
	terminateErr  error

	status ExitStatus
}

// Start launches exe with args. A binary that cannot be found or started
// yields a SpawnFailure error; every later problem surfaces in ExitStatus.
func (r *Runner) Start(ctx context.Context, exe string, args []string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.Wrap(failure.KindCancelled, "start "+exe, err)
	}

	cmd := exec.Command(exe, args...) //nolint:gosec
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, failure.Wrap(failure.KindSpawnFailure, "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, failure.Wrap(failure.KindSpawnFailure, "stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, failure.Wrap(failure.KindSpawnFailure, "start "+exe, err)
	}

	p := &Process{
		cmd:   cmd,
		log:   r.log.With("exe", exe, "pid", cmd.Process.Pid),
		grace: r.grace,
		lines: make(chan Line, lineBuffer),
		done:  make(chan struct{}),
		tail:  newRing(r.tailLines),
	}
	p.log.Debugw("process started", "args", args)

	var readers errgroup.Group
	readers.Go(func() error { return p.scan(stdout, Stdout) })
	readers.Go(func() error { return p.scan(stderr, Stderr) })

	go func() {
		if scanErr := readers.Wait(); scanErr != nil {
			p.log.Warnw("output scan failed", "error", scanErr)
		}
		waitErr := cmd.Wait()
		close(p.lines)
		p.status = p.exitStatus(waitErr)
		p.log.Debugw("process exited", "outcome", p.status.Outcome, "code", p.status.Code)
		close(p.done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Terminate()
		case <-p.done:
		}
	}()

	return p, nil
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Lines streams output from both pipes until the process exits.
func (p *Process) Lines() <-chan Line {
	return p.lines
}

// Done is closed once the process has exited and its status is final.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its status. Lines not
// consumed by the caller are discarded.
func (p *Process) Wait() ExitStatus {
	for range p.lines {
	}
	<-p.done
	return p.status
}

// Terminate asks the process to stop, killing it once the grace period has
// passed. The final outcome is Cancelled. Safe to call more than once.
func (p *Process) Terminate() error {
	p.terminateOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		p.terminated.Store(true)
		p.log.Debugw("terminating process", "grace", p.grace)
		if err := terminateGroup(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.terminateErr = failure.Wrap(failure.KindSubprocessFailure, "signal process", err)
		}

		go func() {
			timer := time.NewTimer(p.grace)
			defer timer.Stop()
			select {
			case <-p.done:
			case <-timer.C:
				p.log.Warnw("process ignored termination, killing")
				_ = killGroup(p.cmd.Process)
			}
		}()
	})
	return p.terminateErr
}

func (p *Process) scan(r io.Reader, stream Stream) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanLines)
	for scanner.Scan() {
		text := scanner.Text()
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		p.tail.add(text)
		p.lines <- Line{Stream: stream, Text: text}
	}
	if err := scanner.Err(); err != nil {
		// keep the pipe empty so the child never blocks on a full buffer
		p.tail.add(fmt.Sprintf("[%s output discarded: %v]", stream, err))
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("scan %s: %w", stream, err)
	}
	return nil
}

func (p *Process) exitStatus(waitErr error) ExitStatus {
	status := ExitStatus{Tail: p.tail.lines()}
	if p.terminated.Load() {
		status.Outcome = OutcomeCancelled
		status.Code = exitCode(waitErr)
		return status
	}
	if waitErr == nil {
		status.Outcome = OutcomeSuccess
		return status
	}
	status.Outcome = OutcomeFailure
	status.Code = exitCode(waitErr)
	return status
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// scanLines splits on '\n' and on a bare '\r', which ffmpeg uses to redraw
// its stats line. A "\r\n" pair yields an empty token that the reader drops.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ring keeps the last n lines of output.
type ring struct {
	mu    sync.Mutex
	buf   []string
	next  int
	full  bool
	limit int
}

func newRing(n int) *ring {
	if n <= 0 {
		n = DefaultTailLines
	}
	return &ring{buf: make([]string, n), limit: n}
}

func (r *ring) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = line
	r.next = (r.next + 1) % r.limit
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.buf[:r.next]...)
	}
	out := make([]string, 0, r.limit)
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
