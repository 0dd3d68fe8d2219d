package signaling

import "time"

const (
	// InitialDelay is the reconnect delay after the first failure and after
	// every successful open.
	InitialDelay = time.Second

	// MaxDelay caps the reconnect delay.
	MaxDelay = 30 * time.Second
)

// Backoff is a doubling reconnect delay. The zero value is not usable; call
// NewBackoff.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, current: initial}
}

// Next returns the delay to wait now and doubles the delay for the next call.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset puts the delay back to its initial value.
func (b *Backoff) Reset() { b.current = b.initial }

// Current is the delay the next call to Next will return.
func (b *Backoff) Current() time.Duration { return b.current }
