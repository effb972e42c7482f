package sdeerr

import (
	"errors"
	"testing"
)

func TestCodeOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap("pipe: acquire", Resources, base)

	if got := CodeOf(wrapped); got != Resources {
		t.Fatalf("CodeOf() = %v, want %v", got, Resources)
	}
	if !errors.Is(wrapped, wrapped) {
		t.Fatalf("wrapped error should equal itself")
	}
	if CodeOf(base) != Undefined {
		t.Fatalf("CodeOf(plain error) = %v, want Undefined", CodeOf(base))
	}
	if CodeOf(nil) != None {
		t.Fatalf("CodeOf(nil) = %v, want None", CodeOf(nil))
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("fd closed")
	e := Wrap("rotator: getnextbuffer", FileDescriptor, base)
	if !errors.Is(e, base) {
		t.Fatalf("errors.Is should find the wrapped cause")
	}
	if e.Error() == "" {
		t.Fatalf("Error() should not be empty")
	}
}
