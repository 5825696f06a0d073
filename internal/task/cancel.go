package task

import (
	"log/slog"
	"sync"
	"time"
)

// CancelSet holds ids of tasks whose cancellation was requested. Workers
// poll it; requests older than the retention are forgotten, since a task
// may finish before any worker notices the request.
type CancelSet struct {
	mu        sync.Mutex
	requested map[string]time.Time
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewCancelSet creates an empty set that prunes requests older than
// retention.
func NewCancelSet(retention time.Duration, logger *slog.Logger) *CancelSet {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &CancelSet{
		requested: make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
		logger:    logger.With("component", "cancel_set"),
	}
}

// Add requests cancellation of ids and prunes stale requests.
func (c *CancelSet) Add(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, id := range ids {
		c.requested[id] = now
	}

	for id, at := range c.requested {
		if now.Sub(at) > c.retention {
			c.logger.Warn("dropping stale cancel request", "task_id", id, "requested_at", at)
			delete(c.requested, id)
		}
	}
}

// Has reports whether cancellation of id is pending.
func (c *CancelSet) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.requested[id]
	return ok
}

// Remove forgets the request for id.
func (c *CancelSet) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.requested, id)
}

// Len returns the number of pending requests.
func (c *CancelSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requested)
}
