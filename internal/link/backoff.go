package link

import "time"

// BackoffPolicy spaces reconnect attempts after a lost link. The default
// schedule is 5s, 10s, 20s, after which the machine gives up and parks in
// the terminal Disconnected state.
type BackoffPolicy struct {
	Initial     time.Duration
	Multiplier  float64
	MaxAttempts int
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:     5 * time.Second,
		Multiplier:  2,
		MaxAttempts: 3,
	}
}

// DelayFor returns the wait before retry attempt n (1-based). Attempts
// beyond MaxAttempts never run, so the last in-range delay is returned
// for them.
func (p BackoffPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		attempt = p.MaxAttempts
	}
	delay := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
	}
	return time.Duration(delay)
}
