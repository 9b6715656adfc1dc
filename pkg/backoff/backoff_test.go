package backoff

import (
	"testing"
	"time"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	cfg := &Config{Initial: 100 * time.Millisecond, Max: 1 * time.Second, Jitter: 0.0001}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := Delay(attempt, cfg)
		if d <= prev {
			t.Errorf("attempt %d: delay %v did not grow past %v", attempt, d, prev)
		}
		prev = d
	}

	// Far past the cap.
	if d := Delay(30, cfg); d > time.Second {
		t.Errorf("delay %v exceeds the cap", d)
	}
}

func TestDelayJitterStaysInRange(t *testing.T) {
	t.Parallel()

	cfg := &Config{Initial: 1 * time.Second, Max: time.Minute, Jitter: 0.5}
	for range 100 {
		d := Delay(1, cfg)
		if d < 500*time.Millisecond || d > time.Second {
			t.Fatalf("jittered delay %v outside [500ms, 1s]", d)
		}
	}
}

func TestDelayDefaultsAndBadAttempt(t *testing.T) {
	t.Parallel()

	if d := Delay(0, nil); d <= 0 || d > 100*time.Millisecond {
		t.Errorf("attempt 0 with defaults gave %v", d)
	}
}
