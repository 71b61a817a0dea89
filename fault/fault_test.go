package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("engine: complete job: %w", InvalidTransition("job", int64(3), "job is %s", "completed"))

	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("did not expect ErrNotFound to match")
	}
	if got := KindOf(err); got != ErrInvalidTransition {
		t.Fatalf("KindOf: expected ErrInvalidTransition got %v", got)
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error in chain")
	}
	if fe.Entity != "job" || fe.ID != "3" {
		t.Fatalf("unexpected entity/id %q/%q", fe.Entity, fe.ID)
	}
}

func TestErrorMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{NotFound("proposal", 9), "proposal 9: not found"},
		{Validation("job", nil, "budget below minimum"), "job: validation failed: budget below minimum"},
		{TransferFailed("insufficient balance"), "transfer failed: insufficient balance"},
		{Paused(), "operations paused"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("expected %q got %q", tc.want, got)
		}
	}
}

func TestName(t *testing.T) {
	if got := Name(Unauthorized("job", 1, "caller is not the client")); got != "authorization_error" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := Name(errors.New("boom")); got != "internal" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := Name(nil); got != "" {
		t.Fatalf("expected empty name for nil, got %q", got)
	}
}
