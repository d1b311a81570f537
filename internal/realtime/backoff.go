package realtime

import "time"

// ReconnectDelay computes the exponential backoff before reconnect attempt
// number attempt (zero-based): min(base * 2^attempt, cap).
func ReconnectDelay(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}
