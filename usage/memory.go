package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is a process-local Checker. Old windows are dropped when a
// new one starts.
type MemoryCounter struct {
	limits Limits
	now    func() time.Time

	mu      sync.Mutex
	day     string
	month   string
	daily   map[string]int64
	monthly map[string]int64
}

func NewMemoryCounter(limits Limits) *MemoryCounter {
	return &MemoryCounter{
		limits:  limits,
		now:     time.Now,
		daily:   make(map[string]int64),
		monthly: make(map[string]int64),
	}
}

func (c *MemoryCounter) CheckAndUpdate(ctx context.Context, caller Caller) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	now := c.now()
	key := caller.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if day := dayWindow(now); day != c.day {
		c.day = day
		c.daily = make(map[string]int64)
	}
	if month := monthWindow(now); month != c.month {
		c.month = month
		c.monthly = make(map[string]int64)
	}
	c.daily[key]++
	c.monthly[key]++
	return decide(c.daily[key], c.monthly[key], c.limits), nil
}
