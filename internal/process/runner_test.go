//go:build unix

package process

import (
	"context"
	"errors"
	"slices"
	"syscall"
	"testing"
	"time"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
)

func startShell(t *testing.T, ctx context.Context, r *Runner, script string) *Process {
	t.Helper()
	p, err := r.Start(ctx, "/bin/sh", []string{"-c", script})
	if err != nil {
		t.Fatalf("failed to start shell: %v", err)
	}
	return p
}

func collect(p *Process) []string {
	var texts []string
	for line := range p.Lines() {
		texts = append(texts, line.Text)
	}
	return texts
}

func TestRunSuccessStreamsLines(t *testing.T) {
	r := NewRunner(logging.Nop())
	p := startShell(t, context.Background(), r, `printf 'one\ntwo\rthree\r\n'; printf 'err\n' >&2`)

	texts := collect(p)
	status := p.Wait()

	if status.Outcome != OutcomeSuccess || status.Code != 0 {
		t.Fatalf("expected success, got %+v", status)
	}
	for _, want := range []string{"one", "two", "three", "err"} {
		if !slices.Contains(texts, want) {
			t.Errorf("expected line %q in %q", want, texts)
		}
	}
	if status.Err("run") != nil {
		t.Errorf("expected nil error for success, got %v", status.Err("run"))
	}
}

func TestRunFailureKeepsTail(t *testing.T) {
	r := NewRunner(logging.Nop())
	p := startShell(t, context.Background(), r, `echo working; echo "boom: bad input" >&2; exit 3`)

	status := p.Wait()
	if status.Outcome != OutcomeFailure {
		t.Fatalf("expected failure, got %+v", status)
	}
	if status.Code != 3 {
		t.Errorf("expected exit code 3, got %d", status.Code)
	}
	if !slices.Contains(status.Tail, "boom: bad input") {
		t.Errorf("expected diagnostic in tail %q", status.Tail)
	}

	err := status.Err("ffmpeg")
	if !errors.Is(err, failure.ErrSubprocessFailure) {
		t.Errorf("expected subprocess failure, got %v", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Status.Code != 3 {
		t.Errorf("expected exit error with code 3, got %v", err)
	}
}

func TestTailIsBounded(t *testing.T) {
	r := NewRunner(logging.Nop())
	p := startShell(t, context.Background(), r, `i=0; while [ $i -lt 50 ]; do echo line$i; i=$((i+1)); done`)

	status := p.Wait()
	if len(status.Tail) != DefaultTailLines {
		t.Fatalf("expected %d tail lines, got %d", DefaultTailLines, len(status.Tail))
	}
	if status.Tail[0] != "line30" || status.Tail[len(status.Tail)-1] != "line49" {
		t.Errorf("unexpected tail window %q", status.Tail)
	}
}

func TestOverlongLineDoesNotHang(t *testing.T) {
	r := NewRunner(logging.Nop())
	script := `head -c 2097152 /dev/zero | tr '\0' a; printf '\n'
head -c 262144 /dev/zero | tr '\0' b; printf '\n'
echo finished >&2`
	p := startShell(t, context.Background(), r, script)

	done := make(chan ExitStatus, 1)
	go func() { done <- p.Wait() }()

	select {
	case status := <-done:
		if status.Outcome != OutcomeSuccess || status.Code != 0 {
			t.Errorf("expected success, got %+v", status)
		}
		if !slices.Contains(status.Tail, "finished") {
			t.Errorf("expected stderr to keep streaming, got tail %q", status.Tail)
		}
	case <-time.After(10 * time.Second):
		_ = p.Terminate()
		t.Fatal("expected Wait to return after an over-long line")
	}
}

func TestStartMissingBinary(t *testing.T) {
	r := NewRunner(logging.Nop())
	_, err := r.Start(context.Background(), "/nonexistent/definitely-not-here", nil)
	if !errors.Is(err, failure.ErrSpawnFailure) {
		t.Errorf("expected spawn failure, got %v", err)
	}
}

func TestTerminateLeavesNoProcess(t *testing.T) {
	r := NewRunner(logging.Nop())
	p, err := r.Start(context.Background(), "sleep", []string{"30"})
	if err != nil {
		t.Fatalf("failed to start sleep: %v", err)
	}
	pid := p.PID()

	if err := p.Terminate(); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	status := p.Wait()
	if status.Outcome != OutcomeCancelled {
		t.Errorf("expected cancelled, got %+v", status)
	}
	if !errors.Is(status.Err("sleep"), failure.ErrCancelled) {
		t.Errorf("expected cancelled error, got %v", status.Err("sleep"))
	}

	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Errorf("expected process %d to be gone, got %v", pid, err)
	}
}

func TestContextCancelTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(logging.Nop())
	p := startShell(t, ctx, r, `echo started; exec sleep 30`)

	select {
	case line := <-p.Lines():
		if line.Text != "started" {
			t.Fatalf("unexpected first line %q", line.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for output")
	}
	cancel()

	done := make(chan ExitStatus, 1)
	go func() { done <- p.Wait() }()
	select {
	case status := <-done:
		if status.Outcome != OutcomeCancelled {
			t.Errorf("expected cancelled, got %+v", status)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("process was not terminated")
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	r := NewRunner(logging.Nop()).WithGracePeriod(200 * time.Millisecond)
	p := startShell(t, context.Background(), r, `trap '' TERM; echo ready; while :; do sleep 1; done`)

	<-p.Lines()
	start := time.Now()
	_ = p.Terminate()
	status := p.Wait()

	if status.Outcome != OutcomeCancelled {
		t.Errorf("expected cancelled, got %+v", status)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("expected kill after grace period, took %v", elapsed)
	}
}

func TestTerminateAfterExitIsNoop(t *testing.T) {
	r := NewRunner(logging.Nop())
	p := startShell(t, context.Background(), r, `exit 0`)
	status := p.Wait()
	if err := p.Terminate(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if status.Outcome != OutcomeSuccess {
		t.Errorf("expected success to stand, got %+v", status)
	}
}

func TestScanLines(t *testing.T) {
	tests := []struct {
		data    string
		atEOF   bool
		advance int
		token   string
	}{
		{"abc\ndef", false, 4, "abc"},
		{"frame=1\rframe=2", false, 8, "frame=1"},
		{"\nrest", false, 1, ""},
		{"partial", false, 0, ""},
		{"partial", true, 7, "partial"},
	}
	for _, tt := range tests {
		advance, token, err := scanLines([]byte(tt.data), tt.atEOF)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if advance != tt.advance || string(token) != tt.token {
			t.Errorf("%q: expected (%d, %q), got (%d, %q)", tt.data, tt.advance, tt.token, advance, token)
		}
	}
}
