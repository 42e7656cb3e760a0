// Package failure defines the error kinds shared by every captioner component.
//
// Each kind has a sentinel error. Wrapped errors match their sentinel with
// errors.Is, so callers classify failures without string matching.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a class of failure reported to job listeners.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindMediaUnreadable   Kind = "media_unreadable"
	KindModelUnavailable  Kind = "model_unavailable"
	KindIOFailure         Kind = "io_failure"
	KindSpawnFailure      Kind = "spawn_failure"
	KindSubprocessFailure Kind = "subprocess_failure"
	KindCancelled         Kind = "cancelled"
	KindTimedOut          Kind = "timed_out"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrMediaUnreadable   = errors.New("media unreadable")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrIOFailure         = errors.New("io failure")
	ErrSpawnFailure      = errors.New("spawn failure")
	ErrSubprocessFailure = errors.New("subprocess failure")
	ErrCancelled         = errors.New("cancelled")
	ErrTimedOut          = errors.New("timed out")
)

var sentinels = []struct {
	kind Kind
	err  error
}{
	{KindInvalidInput, ErrInvalidInput},
	{KindMediaUnreadable, ErrMediaUnreadable},
	{KindModelUnavailable, ErrModelUnavailable},
	{KindIOFailure, ErrIOFailure},
	{KindSpawnFailure, ErrSpawnFailure},
	{KindSubprocessFailure, ErrSubprocessFailure},
	{KindCancelled, ErrCancelled},
	{KindTimedOut, ErrTimedOut},
}

// Sentinel returns the sentinel error for kind, or nil for an unknown kind.
func Sentinel(kind Kind) error {
	for _, s := range sentinels {
		if s.kind == kind {
			return s.err
		}
	}
	return nil
}

// Wrap tags err with the sentinel for kind and prefixes the operation text.
// A nil err produces a bare tagged error carrying only op.
func Wrap(kind Kind, op string, err error) error {
	marker := Sentinel(kind)
	if marker == nil {
		marker = ErrIOFailure
	}
	op = strings.TrimSpace(op)
	switch {
	case err != nil && op != "":
		return fmt.Errorf("%w: %s: %w", marker, op, err)
	case err != nil:
		return fmt.Errorf("%w: %w", marker, err)
	case op != "":
		return fmt.Errorf("%w: %s", marker, op)
	default:
		return marker
	}
}

// Invalid is shorthand for an invalid-input error with a formatted message.
func Invalid(format string, args ...any) error {
	return Wrap(KindInvalidInput, fmt.Sprintf(format, args...), nil)
}

// KindOf reports the first kind whose sentinel err matches, or "" when err
// carries no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return ""
}

// Message returns the human readable part of err with the kind prefix removed.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if kind := KindOf(err); kind != "" {
		msg = strings.TrimPrefix(msg, Sentinel(kind).Error())
		msg = strings.TrimPrefix(msg, ": ")
	}
	if msg == "" {
		return err.Error()
	}
	return msg
}
