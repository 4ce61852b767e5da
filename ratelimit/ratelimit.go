package ratelimit

import (
	"golang.org/x/time/rate"
)

const DefaultChannelConcurrency = 1

// ChannelConcurrency clamps a configured worker count to at least one.
func ChannelConcurrency(n int) int {
	if n < 1 {
		return DefaultChannelConcurrency
	}
	return n
}

// NewChannelLimiter paces channel starts to rps per second. A non-positive
// rps disables pacing.
func NewChannelLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
