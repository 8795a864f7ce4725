package mqtt

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectJitter spreads retries of clients dropped together by ±5%
const reconnectJitter = 0.05

// newReconnectBackOff doubles the delay from min up to max and never gives up;
// only Disconnect ends a reconnect loop.
func newReconnectBackOff(min, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = reconnectJitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
