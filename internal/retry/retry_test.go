package retry

import (
	"testing"
	"time"
)

func TestDelayForAttemptFollowsGeometricFormula(t *testing.T) {
	p := NewPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
	}
	for _, tc := range cases {
		if got := p.DelayForAttempt(tc.attempt); got != tc.want {
			t.Errorf("DelayForAttempt(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayForAttemptCapsAtPolicyCap(t *testing.T) {
	p := NewPolicy()
	if got := p.DelayForAttempt(20); got != p.Cap {
		t.Errorf("DelayForAttempt(20) = %s, want cap %s", got, p.Cap)
	}
	if got := p.DelayForAttempt(100); got != p.Cap {
		t.Errorf("DelayForAttempt(100) = %s, want cap %s", got, p.Cap)
	}
}

func TestDelayForAttemptHonorsCustomPolicy(t *testing.T) {
	p := Policy{Initial: time.Second, Factor: 3, Cap: time.Minute, MaxAttempts: 5}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 3 * time.Second},
		{2, 9 * time.Second},
		{3, 27 * time.Second},
		{4, time.Minute},
	}
	for _, tc := range cases {
		if got := p.DelayForAttempt(tc.attempt); got != tc.want {
			t.Errorf("DelayForAttempt(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestExhausted(t *testing.T) {
	p := NewPolicy()
	if p.Exhausted(9) {
		t.Error("attempt 9 should not be exhausted")
	}
	if !p.Exhausted(10) {
		t.Error("attempt 10 should be exhausted")
	}
}
