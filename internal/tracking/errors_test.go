package tracking

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("op", "bad lat %v", 91), KindValidation},
		{"wrapped conflict", fmt.Errorf("outer: %w", Conflict("op", SourceDriver, "gps active")), KindConflict},
		{"rate limited", RateLimited("op", time.Second), KindRateLimited},
		{"plain error", errors.New("boom"), KindInternal},
		{"internal", Internal("op", errors.New("timeout")), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := Internal("store.get", ErrNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is to see ErrNotFound through %v", err)
	}
	var te *Error
	if !errors.As(RateLimited("submit", 400*time.Millisecond), &te) || te.RetryAfter != 400*time.Millisecond {
		t.Fatalf("retry-after not carried: %+v", te)
	}
}
