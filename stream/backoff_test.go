package stream

import (
	"testing"
	"time"
)

func TestBackoffDelaySchedule(t *testing.T) {
	base := 1 * time.Second
	cap := 16 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second, // saturated at the cap
		16 * time.Second,
	}
	for i, w := range want {
		attempt := i + 1
		if got := backoffDelay(attempt, base, cap); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, w)
		}
	}
}

func TestBackoffDelayFloorsAttempt(t *testing.T) {
	if got := backoffDelay(0, time.Second, 16*time.Second); got != time.Second {
		t.Errorf("attempt 0: delay = %v, want 1s", got)
	}
	if got := backoffDelay(-3, time.Second, 16*time.Second); got != time.Second {
		t.Errorf("negative attempt: delay = %v, want 1s", got)
	}
}

func TestBackoffDelayHugeAttemptHitsCap(t *testing.T) {
	if got := backoffDelay(500, time.Second, 16*time.Second); got != 16*time.Second {
		t.Errorf("huge attempt: delay = %v, want cap", got)
	}
}
