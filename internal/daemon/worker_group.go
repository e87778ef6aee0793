package daemon

import (
	"context"
	"sync"
)

// workerGroup tracks daemon-owned goroutines and provides a safe shutdown
// boundary so we never call WaitGroup.Add concurrently with Wait.
type workerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
}

// Go starts a worker unless the group is stopping.
func (g *workerGroup) Go(fn func()) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

// StopAndWait prevents new workers from starting and waits for the current
// ones to exit, bounded by ctx.
func (g *workerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
