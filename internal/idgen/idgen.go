// Package idgen allocates the engine's two id flavors: short sequential
// prefixed ids (M1, P9, W3, ...) used as stable cross-reference keys, and
// durable process-global UIDs used so an id can be recycled without colliding
// with a stale reference. Grounded on crates/cp-base/src/state/runtime.rs's
// monotonic counters, using google/uuid for the durable half.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Allocator hands out monotonically increasing sequence numbers for one
// prefix kind (messages, panels, watchers, ...). Safe for concurrent use.
type Allocator struct {
	prefix string
	next   atomic.Int64
}

// NewAllocator creates an allocator that starts at start (inclusive) for
// the next call to Next.
func NewAllocator(prefix string, start int64) *Allocator {
	a := &Allocator{prefix: prefix}
	a.next.Store(start)
	return a
}

// Next returns the next short id (e.g. "P9") for this allocator.
func (a *Allocator) Next() string {
	n := a.next.Add(1) - 1
	return fmt.Sprintf("%s%d", a.prefix, n)
}

// Peek returns the value Next would currently return, without consuming it.
func (a *Allocator) Peek() int64 {
	return a.next.Load()
}

// Restore pins the allocator's next value, used when reloading persisted state.
func (a *Allocator) Restore(next int64) {
	a.next.Store(next)
}

// NewUID returns a fresh process-global UID suitable for a Message, panel,
// watcher, or session.
func NewUID() string {
	return uuid.NewString()
}
