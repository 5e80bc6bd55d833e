package fusion

import (
	"testing"
	"time"
)

func TestLimiterInterval(t *testing.T) {
	l := newLimiter(time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	if _, wait := l.reserve("u", t0); wait != 0 {
		t.Fatalf("first reserve waited %v", wait)
	}
	if _, wait := l.reserve("u", t0.Add(400*time.Millisecond)); wait != 600*time.Millisecond {
		t.Fatalf("wait = %v, want 600ms", wait)
	}
	if _, wait := l.reserve("other", t0.Add(400*time.Millisecond)); wait != 0 {
		t.Fatal("limits must be per user")
	}
	if _, wait := l.reserve("u", t0.Add(time.Second)); wait != 0 {
		t.Fatalf("exactly one interval later should pass, waited %v", wait)
	}
}

func TestLimiterRestore(t *testing.T) {
	l := newLimiter(time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	prev, _ := l.reserve("u", t0)
	l.restore("u", prev)
	if _, wait := l.reserve("u", t0); wait != 0 {
		t.Fatal("restored first reservation should leave the user unlimited")
	}

	prev, _ = l.reserve("u", t0.Add(2*time.Second))
	if !prev.Equal(t0) {
		t.Fatalf("prev = %v, want %v", prev, t0)
	}
	l.restore("u", prev)
	if _, wait := l.reserve("u", t0.Add(1500*time.Millisecond)); wait != 0 {
		t.Fatalf("restore should bring back the older stamp, waited %v", wait)
	}
}
