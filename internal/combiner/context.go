package combiner

import "go.uber.org/atomic"

// Context is the per-thread slot: a bounded ring of pending operations
// written by exactly one submitting goroutine, and a matching ring of
// results written by whichever goroutine currently holds the combiner
// lock. The atomic indices are the only synchronization needed --
// visibility of "enqueue happened before combine" is additionally guaranteed
// by combiner-lock acquisition (see combiner.go), so these indices only need
// the release/acquire sync/atomic already gives them.
type Context[M any, Rs any] struct {
	depth   uint64
	ops     []M
	results []Rs

	tail    atomic.Uint64 // producer: next free ops slot
	head    atomic.Uint64 // combiner: next ops slot to read
	resTail atomic.Uint64 // combiner: next free results slot
	resHead atomic.Uint64 // producer: next result slot to read
}

// NewContext allocates a context with room for depth pending ops in flight.
// depth need only be 1 for correctness (a thread never enqueues a second op
// before consuming the result of its first), but a small ring lets the
// combiner gather slightly ahead without forcing a thread to stall on
// EnqueueOp.
func NewContext[M any, Rs any](depth uint64) *Context[M, Rs] {
	if depth == 0 {
		depth = 1
	}
	return &Context[M, Rs]{
		depth:   depth,
		ops:     make([]M, depth),
		results: make([]Rs, depth),
	}
}

// EnqueueOp publishes op for the combiner to pick up. It fails if the ring
// is full; the caller must then drive combining itself before retrying.
func (c *Context[M, Rs]) EnqueueOp(op M) bool {
	t := c.tail.Load()
	h := c.head.Load()
	if t-h >= c.depth {
		return false
	}
	c.ops[t%c.depth] = op
	c.tail.Store(t + 1)
	return true
}

// Pending reports how many ops are enqueued but not yet dequeued.
func (c *Context[M, Rs]) Pending() uint64 {
	return c.tail.Load() - c.head.Load()
}

// DequeueOps is called by the combiner: it snapshots every currently
// pending op and advances head past them in the same step. Safe because at
// most one goroutine is ever combining at a time (enforced by the combiner
// lock), so there is never a concurrent DequeueOps to race with.
func (c *Context[M, Rs]) DequeueOps() []M {
	h := c.head.Load()
	t := c.tail.Load()
	if h >= t {
		return nil
	}
	out := make([]M, 0, t-h)
	for i := h; i < t; i++ {
		out = append(out, c.ops[i%c.depth])
	}
	c.head.Store(t)
	return out
}

// PublishResult is called by the combiner once per dequeued op, in order,
// to hand a result back to this context's owning thread.
func (c *Context[M, Rs]) PublishResult(r Rs) {
	t := c.resTail.Load()
	c.results[t%c.depth] = r
	c.resTail.Store(t + 1)
}

// HasResult reports whether at least one result is waiting to be popped,
// without consuming it. Used by a waiting thread to decide whether to keep
// spinning or go collect its result.
func (c *Context[M, Rs]) HasResult() bool {
	return c.resTail.Load() > c.resHead.Load()
}

// PopResult is called by the owning thread to collect one published
// result. ok is false if none is available yet.
func (c *Context[M, Rs]) PopResult() (Rs, bool) {
	h := c.resHead.Load()
	t := c.resTail.Load()
	if h >= t {
		var zero Rs
		return zero, false
	}
	r := c.results[h%c.depth]
	c.resHead.Store(h + 1)
	return r, true
}
