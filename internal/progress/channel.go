// Package progress carries ordered progress events from one job to any
// number of listeners.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mgpai22/captioner/internal/failure"
)

// Stage is a job state as seen by listeners.
type Stage string

const (
	StageQueued       Stage = "QUEUED"
	StageTranscribing Stage = "TRANSCRIBING"
	StageWritingSRT   Stage = "WRITING_SRT"
	StageBurning      Stage = "BURNING"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
	StageCancelled    Stage = "CANCELLED"
)

// Terminal reports whether no event may follow this stage.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed || s == StageCancelled
}

// Indeterminate is the percent of an event whose progress is unknown.
const Indeterminate = -1.0

// DefaultRetention is how many consumed events a channel keeps for replay.
const DefaultRetention = 4096

var (
	ErrClosed   = errors.New("progress channel closed")
	ErrDetached = errors.New("listener detached")
)

// Event is one progress report. Seq increases by one per event in a channel.
type Event struct {
	Seq       int64        `json:"seq"`
	Stage     Stage        `json:"stage"`
	Percent   float64      `json:"percent"`
	Message   string       `json:"message,omitempty"`
	Kind      failure.Kind `json:"error_kind,omitempty"`
	SRTPath   string       `json:"srt_path,omitempty"`
	VideoPath string       `json:"video_path,omitempty"`
	Time      time.Time    `json:"time"`
}

func (e Event) Terminal() bool {
	return e.Stage.Terminal()
}

// Channel is an ordered event log with blocking readers. It has a single
// producer; once a terminal event is published it is closed.
type Channel struct {
	mu        sync.Mutex
	events    []Event
	base      int64 // Seq of events[0]
	next      int64
	closed    bool
	retention int
	wake      chan struct{}
	done      chan struct{}
	listeners map[*Listener]struct{}
	now       func() time.Time
}

func NewChannel() *Channel {
	return NewChannelWithRetention(DefaultRetention)
}

// NewChannelWithRetention bounds replay history to roughly n events.
func NewChannelWithRetention(n int) *Channel {
	if n <= 0 {
		n = DefaultRetention
	}
	return &Channel{
		retention: n,
		wake:      make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[*Listener]struct{}),
		now:       time.Now,
	}
}

// Publish appends e, stamping its Seq and, when unset, its Time. Publishing
// after the terminal event fails with ErrClosed.
func (c *Channel) Publish(e Event) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Event{}, ErrClosed
	}

	e.Seq = c.next
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	c.events = append(c.events, e)
	c.next++

	if e.Terminal() {
		c.closed = true
		close(c.done)
	}
	c.trimLocked()
	c.broadcastLocked()
	return e, nil
}

// Subscribe attaches a listener that starts at the oldest retained event.
func (c *Channel) Subscribe() *Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := &Listener{c: c, cursor: c.base}
	c.listeners[l] = struct{}{}
	return l
}

// Closed reports whether the terminal event has been published.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the terminal event is published.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Listeners counts attached listeners.
func (c *Channel) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

func (c *Channel) broadcastLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// trimLocked drops events beyond the retention cap that every attached
// listener has read. The newest event is always kept.
func (c *Channel) trimLocked() {
	excess := len(c.events) - c.retention
	if excess <= 0 {
		return
	}

	limit := c.next - 1
	for l := range c.listeners {
		limit = min(limit, l.cursor)
	}
	drop := min(int64(excess), limit-c.base)
	if drop <= 0 {
		return
	}

	kept := make([]Event, int64(len(c.events))-drop)
	copy(kept, c.events[drop:])
	c.events = kept
	c.base += drop
}

// Listener is a read handle on a Channel. Detaching never affects the
// producer or other listeners.
type Listener struct {
	c        *Channel
	cursor   int64
	detached bool
}

// Next blocks for the next event. Once the channel is closed and every
// event has been read, each call returns the terminal event again.
func (l *Listener) Next(ctx context.Context) (Event, error) {
	c := l.c
	for {
		c.mu.Lock()
		if l.detached {
			c.mu.Unlock()
			return Event{}, ErrDetached
		}
		// events trimmed before this listener attached
		if l.cursor < c.base {
			l.cursor = c.base
		}
		if l.cursor < c.next {
			e := c.events[l.cursor-c.base]
			l.cursor++
			c.mu.Unlock()
			return e, nil
		}
		if c.closed {
			e := c.events[len(c.events)-1]
			c.mu.Unlock()
			return e, nil
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wake:
		}
	}
}

// NextTimeout is Next bounded by d. When no event arrives in time it fails
// with a TimedOut error; the job itself is not affected.
func (l *Listener) NextTimeout(ctx context.Context, d time.Duration) (Event, error) {
	if d <= 0 {
		return l.Next(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	e, err := l.Next(waitCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return Event{}, failure.Wrap(failure.KindTimedOut, "no progress within "+d.String(), nil)
	}
	return e, err
}

// Detach releases the listener. Blocked Next calls return ErrDetached.
func (l *Listener) Detach() {
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if l.detached {
		return
	}
	l.detached = true
	delete(c.listeners, l)
	c.broadcastLocked()
}
