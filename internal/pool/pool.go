// ABOUTME: Generic bounded worker pool used for provisioning, connecting, and polling.
// ABOUTME: Centralizes the fleet's concurrency limits behind one abstraction.

package pool

import "golang.org/x/sync/errgroup"

// Pool runs submitted tasks on at most size concurrent workers. When the
// pool is saturated, Go blocks until a slot frees up.
type Pool struct {
	g errgroup.Group
}

// New creates a pool limited to size concurrent tasks.
func New(size int) *Pool {
	p := &Pool{}
	p.g.SetLimit(size)
	return p
}

// Go submits a task, blocking while the pool is at capacity.
func (p *Pool) Go(task func()) {
	p.g.Go(func() error {
		task()
		return nil
	})
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}
