package jobcard

import (
	"sync"
	"sync/atomic"
)

// transaction applies a change to local state before the remote call that
// persists it, and undoes the change if that call fails.
type transaction[T any] struct {
	mu       sync.Locker
	inflight *atomic.Int32
	state    *T
	clone    func(T) T
	// revert undoes a failed change against the current state. When nil the
	// exact pre-call snapshot is restored.
	revert func(current *T, snapshot T)
}

// run executes apply on a copy, publishes the copy, then calls remote outside
// the lock. apply errors leave state untouched and skip the remote call.
func (tx transaction[T]) run(apply func(*T) error, remote func(T) error) error {
	tx.mu.Lock()
	snapshot := tx.clone(*tx.state)
	next := tx.clone(*tx.state)
	if err := apply(&next); err != nil {
		tx.mu.Unlock()
		return err
	}
	*tx.state = next
	sent := tx.clone(next)
	if tx.inflight != nil {
		tx.inflight.Add(1)
	}
	tx.mu.Unlock()

	err := remote(sent)

	tx.mu.Lock()
	if err != nil {
		if tx.revert != nil {
			tx.revert(tx.state, snapshot)
		} else {
			*tx.state = snapshot
		}
	}
	if tx.inflight != nil {
		tx.inflight.Add(-1)
	}
	tx.mu.Unlock()
	return err
}
