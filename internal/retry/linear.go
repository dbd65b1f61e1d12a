package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Linear is a backoff.BackOff whose n-th delay is Initial + (n-1)*Step.
// Max, when positive, caps the number of delays; after that NextBackOff returns backoff.Stop.
type Linear struct {
	Initial time.Duration
	Step    time.Duration
	Max     int

	n int
}

var _ backoff.BackOff = (*Linear)(nil)

// NextBackOff returns the next delay in the schedule.
func (l *Linear) NextBackOff() time.Duration {
	if l.Max > 0 && l.n >= l.Max {
		return backoff.Stop
	}
	d := l.Initial + time.Duration(l.n)*l.Step
	l.n++
	return d
}

// Reset restarts the schedule.
func (l *Linear) Reset() { l.n = 0 }

// Schedule returns the first n delays of a fresh Linear with the same parameters.
func (l *Linear) Schedule(n int) []time.Duration {
	c := &Linear{Initial: l.Initial, Step: l.Step, Max: l.Max}
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		d := c.NextBackOff()
		if d == backoff.Stop {
			break
		}
		out = append(out, d)
	}
	return out
}
