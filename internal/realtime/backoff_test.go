package realtime

import (
	"testing"
	"time"
)

func TestReconnectDelayDoublesUntilCap(t *testing.T) {
	base := time.Second
	ceiling := time.Minute

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 0, expected: time.Second},
		{attempt: 1, expected: 2 * time.Second},
		{attempt: 2, expected: 4 * time.Second},
		{attempt: 5, expected: 32 * time.Second},
		{attempt: 6, expected: time.Minute},
		{attempt: 20, expected: time.Minute},
	}

	for _, tt := range tests {
		if delay := ReconnectDelay(tt.attempt, base, ceiling); delay != tt.expected {
			t.Fatalf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, delay)
		}
	}
}

func TestReconnectDelayHandlesDegenerateBase(t *testing.T) {
	if delay := ReconnectDelay(3, 0, time.Minute); delay != 0 {
		t.Fatalf("expected zero delay for zero base, got %v", delay)
	}
}
