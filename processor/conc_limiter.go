package processor

import (
	"context"
	"sync"
)

// ConcLimiter bounds the number of renders running at once across
// sessions. Each session still renders sequentially.
type ConcLimiter struct {
	wg   sync.WaitGroup
	Pool chan struct{}
}

func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel <= 0 {
		cLevel = 1
	}
	return &ConcLimiter{Pool: make(chan struct{}, cLevel)}
}

// Increase blocks until a slot is free or ctx is done.
func (c *ConcLimiter) Increase(ctx context.Context) error {
	select {
	case c.Pool <- struct{}{}:
		c.wg.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ConcLimiter) Decrease() {
	select {
	case <-c.Pool:
		c.wg.Done()
	default:
	}
}

// Wait blocks until every acquired slot has been released.
func (c *ConcLimiter) Wait() {
	c.wg.Wait()
}
