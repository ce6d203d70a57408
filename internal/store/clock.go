package store

import (
	"sync"
	"time"
)

// OutboxClock hands out strictly increasing enqueue times, so two entries
// queued in the same clock tick still sort in the order they were queued.
type OutboxClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *OutboxClock) Next(now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}
