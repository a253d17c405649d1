package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"not found", NotFound("task %s not found", "t1"), CodeNotFound},
		{"wrapped conflict", fmt.Errorf("starting sync: %w", Conflict("sync already running")), CodeConflict},
		{"plain error", errors.New("disk on fire"), CodeInfrastructure},
		{"infrastructure", Infrastructure(errors.New("db closed"), "listing items"), CodeInfrastructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsMatchesSentinelByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFound("item %s not found", "x"))
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = false, want true")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("errors.Is(err, ErrConflict) = true, want false")
	}
}

func TestInfrastructureKeepsTypedErrors(t *testing.T) {
	orig := InvalidArgument("bad page")
	if got := Infrastructure(orig, "wrapping"); got != orig {
		t.Errorf("Infrastructure re-wrapped a typed error: %v", got)
	}
	if Infrastructure(nil, "nothing") != nil {
		t.Error("Infrastructure(nil) should be nil")
	}
}

func TestMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Infrastructure(cause, "store unavailable")
	if got := Message(err); got != "store unavailable" {
		t.Errorf("Message() = %q, want %q", got, "store unavailable")
	}
	if got := err.Error(); got != "store unavailable: connection refused" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}
