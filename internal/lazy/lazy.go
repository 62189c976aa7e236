// Package lazy holds expensive collaborators that are built on first use and
// dropped explicitly at shutdown.
package lazy

import (
	"context"
	"sync"
	"sync/atomic"
)

// Cache builds a value once and hands the same value to every caller until
// Reset. A failed build is not cached; the next Get tries again.
type Cache[T any] struct {
	build   func(ctx context.Context) (T, error)
	release func(ctx context.Context, v T) error

	mu    sync.Mutex
	value T
	ready bool
	// current mirrors value for readers that must not wait on a build
	current atomic.Pointer[T]
}

// New creates a cache around build. release, if non-nil, is called by Reset on
// a previously built value.
func New[T any](build func(ctx context.Context) (T, error), release func(ctx context.Context, v T) error) *Cache[T] {
	return &Cache[T]{build: build, release: release}
}

// Get returns the cached value, building it if needed. Concurrent callers
// wait for a single build.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return c.value, nil
	}

	v, err := c.build(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.value = v
	c.ready = true
	c.current.Store(&v)
	return v, nil
}

// Loaded reports whether a value is currently held. It does not block on an
// in-progress build.
func (c *Cache[T]) Loaded() bool {
	return c.current.Load() != nil
}

// Peek returns the held value without building it or waiting on a build.
func (c *Cache[T]) Peek() (T, bool) {
	if p := c.current.Load(); p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}

// Reset drops the held value, releasing it first. It is safe to call on an
// empty cache.
func (c *Cache[T]) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return nil
	}

	v := c.value
	var zero T
	c.value = zero
	c.ready = false
	c.current.Store(nil)

	if c.release != nil {
		return c.release(ctx, v)
	}
	return nil
}
