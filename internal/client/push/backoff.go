package push

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnect strategies.
const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

// NewBackOff builds the retry policy. The fixed strategy waits delay between
// every attempt; exponential starts at delay and caps at maxDelay. Neither
// ever gives up.
func NewBackOff(strategy string, delay, maxDelay time.Duration) backoff.BackOff {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	if !strings.EqualFold(strategy, StrategyExponential) {
		return backoff.NewConstantBackOff(delay)
	}

	if maxDelay < delay {
		maxDelay = delay
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
