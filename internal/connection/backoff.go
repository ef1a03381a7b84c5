package connection

import (
	"math"
	"time"
)

// ReconnectPolicy computes the delay before each reconnect attempt:
// min(BaseInterval * Decay^attempts, MaxInterval).
type ReconnectPolicy struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration // <= 0 means uncapped
	Decay        float64
	MaxAttempts  int
}

// DecayPolicy backs off by 1.5x from 1s, capped at 30s, for 10 attempts.
func DecayPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseInterval: 1 * time.Second,
		MaxInterval:  30 * time.Second,
		Decay:        1.5,
		MaxAttempts:  10,
	}
}

// DoublingPolicy doubles from 1s with no interval cap, for 5 attempts.
func DoublingPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseInterval: 1 * time.Second,
		Decay:        2,
		MaxAttempts:  5,
	}
}

// Delay returns the wait before the reconnect that follows attempts failures.
func (p ReconnectPolicy) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	decay := p.Decay
	if decay < 1 {
		decay = 1
	}

	d := float64(p.BaseInterval) * math.Pow(decay, float64(attempts))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exhausted reports whether no further reconnect may be scheduled.
func (p ReconnectPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
