package stream

import "time"

// Backoff is the reconnect delay policy: starts at Floor, doubles on each
// consecutive failure, caps at Ceiling, and resets to Floor on success.
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration

	next time.Duration
}

// Next returns the delay to apply for the current failure and advances
// the policy for the next one.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Floor
	}

	d := b.next
	if d > b.Ceiling {
		d = b.Ceiling
	}

	b.next = b.next * 2
	if b.next > b.Ceiling {
		b.next = b.Ceiling
	}

	return d
}

// Reset returns the policy to its floor. Called on the transition to
// streaming, never merely on a successful dial.
func (b *Backoff) Reset() {
	b.next = b.Floor
}
