package scan

import (
	"context"
	"sync"
)

// cancelRegistry holds one cancel func per scan goroutine still alive.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	closed  bool
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[string]context.CancelCauseFunc)}
}

// add fails once the registry has been closed by shutdown.
func (c *cancelRegistry) add(id string, fn context.CancelCauseFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.cancels[id] = fn
	return true
}

func (c *cancelRegistry) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, id)
}

func (c *cancelRegistry) cancel(id string, cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn, ok := c.cancels[id]
	if !ok {
		return false
	}
	fn(cause)
	delete(c.cancels, id)
	return true
}

func (c *cancelRegistry) isRunning(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cancels[id]
	return ok
}

func (c *cancelRegistry) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cancels)
}

// closeAll refuses new scans and cancels every running one.
func (c *cancelRegistry) closeAll(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, fn := range c.cancels {
		fn(cause)
		delete(c.cancels, id)
	}
}
