package client

import (
	"math"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, MaxAttempts: 5}

	tests := []struct {
		attempt int
		want    time.Duration
		ok      bool
	}{
		{0, 0, false},
		{1, time.Second, true},
		{2, 2 * time.Second, true},
		{3, 4 * time.Second, true},
		{5, 16 * time.Second, true},
		{6, 0, false},
	}

	for _, tt := range tests {
		got, ok := b.Delay(tt.attempt)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Delay(%d) = %v, %v; want %v, %v", tt.attempt, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBackoffDelaySaturates(t *testing.T) {
	b := Backoff{Base: time.Second, MaxAttempts: 100}

	prev := time.Duration(0)
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		got, ok := b.Delay(attempt)
		if !ok {
			t.Fatalf("Delay(%d) rejected", attempt)
		}
		if got < prev {
			t.Fatalf("Delay(%d) = %v, smaller than previous %v", attempt, got, prev)
		}
		prev = got
	}
	if prev != time.Duration(math.MaxInt64) {
		t.Errorf("Delay(100) = %v, want saturation", prev)
	}
}
