package stream

import "time"

// Reference reconnect and heartbeat settings, matching the backend's
// expectations for student clients.
const (
	DefaultPingInterval         = 2 * time.Minute
	DefaultBackoffBase          = 1 * time.Second
	DefaultBackoffCap           = 16 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// backoffDelay returns the delay before reconnection attempt number
// attempt (1-based): min(base * 2^(attempt-1), cap).
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shifting past 32 would overflow long before any sane cap.
	if attempt > 32 {
		return cap
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}
