package indexing

import (
	"context"
	"sync"
	"time"
)

// Coalescer batches single-id index requests that arrive within a window
// into one IndexMany call. Every waiting caller receives the batch result.
type Coalescer struct {
	pipeline *Pipeline
	window   time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	pending map[int64]struct{}
	waiters []chan error
	timer   *time.Timer
}

func NewCoalescer(p *Pipeline, window time.Duration) *Coalescer {
	if window <= 0 {
		window = 50 * time.Millisecond
	}
	return &Coalescer{pipeline: p, window: window, timeout: 30 * time.Second, pending: map[int64]struct{}{}}
}

// IndexOne queues id for the next batch and waits for it to be flushed.
func (c *Coalescer) IndexOne(ctx context.Context, id int64) error {
	ch := make(chan error, 1)
	c.mu.Lock()
	c.pending[id] = struct{}{}
	c.waiters = append(c.waiters, ch)
	if c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.flush)
	}
	c.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	ids := make([]int64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	waiters := c.waiters
	c.pending = map[int64]struct{}{}
	c.waiters = nil
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	err := c.pipeline.IndexMany(ctx, ids)
	cancel()
	for _, ch := range waiters {
		ch <- err
	}
}
