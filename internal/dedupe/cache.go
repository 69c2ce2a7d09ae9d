// ABOUTME: Thread-safe first-acceptance cache for deduplicating discovered codes.
// ABOUTME: Shared by all agents so each discovered value is reported exactly once.

package dedupe

import (
	"sync"
)

// Sink receives each newly accepted value for durable storage. Append is
// called synchronously from TryInsert, before the winning caller returns.
type Sink interface {
	Append(value string) error
}

// Cache tracks every value accepted so far, process-wide. Acceptance is
// linearizable: concurrent TryInsert calls for the same value behave as if
// serialized, with exactly one winner. The cache only grows; entries live
// for the process lifetime.
type Cache struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string // values in first-acceptance order
	sink  Sink
}

// New creates an empty cache. sink may be nil, in which case acceptances are
// kept in memory only.
func New(sink Sink) *Cache {
	return &Cache{
		seen: make(map[string]struct{}),
		sink: sink,
	}
}

// TryInsert records value if it has not been seen before. It returns true
// iff this call is the first in the process to insert value.
//
// On acceptance the value is appended to the sink before returning, under
// the cache lock, so the persisted log order matches acceptance order. A
// sink failure does not revoke the acceptance: the error is returned
// alongside accepted=true and the caller decides how loudly to complain.
func (c *Cache) TryInsert(value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[value]; ok {
		return false, nil
	}

	c.seen[value] = struct{}{}
	c.order = append(c.order, value)

	if c.sink != nil {
		if err := c.sink.Append(value); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Seen reports whether value has already been accepted.
func (c *Cache) Seen(value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.seen[value]
	return ok
}

// Values returns all accepted values in first-acceptance order.
func (c *Cache) Values() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of accepted values.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
