// Package admission enforces per-client rate ceilings over a sliding
// one-hour window. Job creation and artifact downloads are limited
// independently so a client polling results cannot starve its own submits.
package admission

import (
	"sync"
	"time"
)

const window = time.Hour

// Decision reports one admission check outcome. RetryAfter is the wait until
// the oldest counted event leaves the window.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter tracks event timestamps per client key. A zero or negative limit
// disables the ceiling.
type Limiter struct {
	limit int
	now   func() time.Time

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewLimiter builds a sliding-window limiter with the given hourly ceiling.
func NewLimiter(limit int) *Limiter {
	return &Limiter{
		limit:  limit,
		now:    time.Now,
		events: make(map[string][]time.Time),
	}
}

// Allow records one event for the client when it fits under the ceiling and
// returns the decision either way. Rejected events are not counted.
func (l *Limiter) Allow(client string) Decision {
	if l.limit <= 0 {
		return Decision{Allowed: true, Limit: 0, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	recent := pruneBefore(l.events[client], cutoff)

	if len(recent) >= l.limit {
		l.events[client] = recent
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			RetryAfter: recent[0].Add(window).Sub(now),
		}
	}

	recent = append(recent, now)
	l.events[client] = recent
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(recent),
	}
}

// Prune drops clients whose entire history has aged out of the window.
// Called opportunistically so idle clients do not accumulate.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-window)
	for client, events := range l.events {
		recent := pruneBefore(events, cutoff)
		if len(recent) == 0 {
			delete(l.events, client)
			continue
		}
		l.events[client] = recent
	}
}

func pruneBefore(events []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(events) && !events[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return events
	}
	return append([]time.Time(nil), events[idx:]...)
}
