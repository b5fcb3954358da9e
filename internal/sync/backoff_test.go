package sync

import (
	"testing"
	"time"
)

// TestBackoffDelay verifies the exponential schedule and its cap.
func TestBackoffDelay(t *testing.T) {
	cap := 5 * time.Minute
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, cap},  // 512s exceeds the cap
		{20, cap}, // deep into the cap
		{64, cap}, // shift-overflow territory still caps
		{-1, time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempts, cap); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

// TestBackoffMonotone verifies the delay never decreases as attempts grow.
func TestBackoffMonotone(t *testing.T) {
	cap := time.Hour
	prev := time.Duration(0)
	for attempts := 0; attempts < 40; attempts++ {
		d := backoffDelay(attempts, cap)
		if d < prev {
			t.Fatalf("backoffDelay(%d) = %v < previous %v", attempts, d, prev)
		}
		prev = d
	}
}

// TestBackoffUncapped verifies behavior with no cap configured.
func TestBackoffUncapped(t *testing.T) {
	if got := backoffDelay(10, 0); got != 1024*time.Second {
		t.Errorf("backoffDelay(10, 0) = %v, want 1024s", got)
	}
}
