package failure

import (
	"errors"
	"io"
	"testing"
)

func TestWrapMatchesSentinel(t *testing.T) {
	err := Wrap(KindMediaUnreadable, "probe media", io.ErrUnexpectedEOF)

	if !errors.Is(err, ErrMediaUnreadable) {
		t.Errorf("expected error to match ErrMediaUnreadable, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected error to keep the cause, got %v", err)
	}
	if KindOf(err) != KindMediaUnreadable {
		t.Errorf("expected kind %s, got %s", KindMediaUnreadable, KindOf(err))
	}
	if got := Message(err); got != "probe media: unexpected EOF" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestKindOfUnknown(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Errorf("expected empty kind, got %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("expected empty kind for nil, got %q", got)
	}
}

func TestInvalid(t *testing.T) {
	err := Invalid("bad color %q", "#ZZZ")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if got := Message(err); got != `bad color "#ZZZ"` {
		t.Errorf("unexpected message %q", got)
	}
}

func TestWrapBareKind(t *testing.T) {
	err := Wrap(KindCancelled, "", nil)
	if err != ErrCancelled {
		t.Errorf("expected bare sentinel, got %v", err)
	}
	if got := Message(err); got != "cancelled" {
		t.Errorf("expected sentinel text as message, got %q", got)
	}
}
