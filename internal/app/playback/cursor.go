package playback

import "time"

// Cursor describes the playback indicator as a linear motion from From to To
// starting at StartedAt and lasting Duration. A zero Duration is a parked cursor.
type Cursor struct {
	From      float64
	To        float64
	StartedAt time.Time
	Duration  time.Duration
}

// Parked returns a cursor resting at x.
func Parked(x float64) Cursor {
	return Cursor{From: x, To: x}
}

// Position interpolates the cursor at the given time, clamped to [From, To].
func (c Cursor) Position(at time.Time) float64 {
	if c.Duration <= 0 {
		return c.To
	}
	elapsed := at.Sub(c.StartedAt)
	if elapsed <= 0 {
		return c.From
	}
	if elapsed >= c.Duration {
		return c.To
	}
	frac := float64(elapsed) / float64(c.Duration)
	return c.From + (c.To-c.From)*frac
}

// Moving reports whether the cursor is still travelling at the given time.
func (c Cursor) Moving(at time.Time) bool {
	return c.Duration > 0 && at.Before(c.StartedAt.Add(c.Duration)) && c.From != c.To
}
