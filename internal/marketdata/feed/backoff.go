package feed

import "time"

const (
	DefaultInitialBackoff = 1000 * time.Millisecond
	DefaultMaxBackoff     = 30000 * time.Millisecond
	backoffStepAdd        = 500 * time.Millisecond
)

// Backoff yields reconnect delays: the current delay is returned, then the
// next becomes min(max, floor(cur*1.8) + 500ms), in whole milliseconds.
// Not safe for concurrent use; the connection guards it.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	cur     time.Duration
}

// NewBackoff creates a backoff. Zero values use the defaults.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if initial > max {
		initial = max
	}
	return &Backoff{initial: initial, max: max, cur: initial}
}

// Next returns the delay to wait now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.cur
	ms := b.cur.Milliseconds()*18/10 + backoffStepAdd.Milliseconds()
	b.cur = time.Duration(ms) * time.Millisecond
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

// Reset returns the sequence to the initial delay.
func (b *Backoff) Reset() { b.cur = b.initial }

// Current returns the delay the next call to Next will return.
func (b *Backoff) Current() time.Duration { return b.cur }
