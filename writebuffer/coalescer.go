package writebuffer

import (
	"context"
	"sync"
)

// FetchFunc performs the actual fetch for an id on a cache/coalescer miss.
type FetchFunc func(ctx context.Context, id string) ([]byte, error)

// call tracks one in-flight fetch so concurrent callers for the same id
// can await its single result instead of each issuing their own fetch.
type call struct {
	done  chan struct{}
	value []byte
	err   error
}

// Coalescer deduplicates concurrent reads of the same id: the first
// caller for an id triggers fetch; any caller arriving before it
// completes awaits the same result rather than issuing a second fetch.
type Coalescer struct {
	mu    sync.Mutex
	calls map[string]*call
	fetch FetchFunc
}

func NewCoalescer(fetch FetchFunc) *Coalescer {
	return &Coalescer{calls: make(map[string]*call), fetch: fetch}
}

// Get returns id's value, fetching it at most once even under
// concurrent calls for the same id.
func (c *Coalescer) Get(ctx context.Context, id string) ([]byte, error) {
	c.mu.Lock()
	if existing, ok := c.calls[id]; ok {
		c.mu.Unlock()
		select {
		case <-existing.done:
			return existing.value, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	cl := &call{done: make(chan struct{})}
	c.calls[id] = cl
	c.mu.Unlock()

	cl.value, cl.err = c.fetch(ctx, id)
	close(cl.done)

	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()

	return cl.value, cl.err
}
