package transport

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffGrowth(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := 3 * time.Second
	ceil := 60 * time.Second

	windows := []time.Duration{
		3 * time.Second,  // attempt 0
		6 * time.Second,  // attempt 1
		12 * time.Second, // attempt 2
		24 * time.Second, // attempt 3
		48 * time.Second, // attempt 4
	}
	for attempt, window := range windows {
		for i := 0; i < 100; i++ {
			d := nextDelay(rng, base, ceil, attempt)
			if d < window/2 || d > window {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, window/2, window)
			}
		}
	}
}

func TestBackoffCap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := 3 * time.Second
	ceil := 60 * time.Second

	for attempt := 5; attempt < 40; attempt++ {
		d := nextDelay(rng, base, ceil, attempt)
		if d > ceil {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", attempt, d, ceil)
		}
		if d < ceil/2 {
			t.Fatalf("attempt %d: delay %v below capped window floor %v", attempt, d, ceil/2)
		}
	}
}

func TestBackoffDegenerateInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if d := nextDelay(rng, 0, 0, 0); d <= 0 {
		t.Errorf("delay with zero inputs = %v, want positive", d)
	}
	if d := nextDelay(rng, 10*time.Second, time.Second, 3); d > 10*time.Second {
		t.Errorf("cap below base: delay = %v", d)
	}
}
