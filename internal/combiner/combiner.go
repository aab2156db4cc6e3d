// Package combiner implements the flat-combining executor: a per-replica
// structure that lets N threads submit operations through a single
// combiner, which batches sibling threads' pending ops into one log append
// and then drives replay for everyone.
package combiner

import (
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/atomic"

	"github.com/gz/node-replication/internal/core"
	"github.com/gz/node-replication/internal/oplog"
)

// ApplyMutFunc runs one mutating operation against the replica's data
// structure and returns its result. It must be deterministic: every replica
// calls it once per log entry and their state must converge as a result.
type ApplyMutFunc[M any, Rs any] func(op M, tok core.ThreadToken) Rs

// Hooks are optional observability callbacks a caller (typically the nr
// package's metrics wiring) can set to observe combining behavior without
// this package importing prometheus directly.
type Hooks struct {
	OnNeedSync func()
	OnHandoff  func()
	OnCombine  func(batchSize int)
}

// Combiner is the per-replica flat-combining structure: one lock word, the
// array of per-thread contexts, and a reference to the shared log this
// replica appends to and replays from.
type Combiner[M any, Rs any] struct {
	replicaID uint64
	log       *oplog.Log[M]
	apply     ApplyMutFunc[M, Rs]
	waitIters int
	hooks     Hooks

	lock       atomic.Uint64 // 0 == free; else (holder slot + 1)
	contexts   []*Context[M, Rs]
	scanCursor atomic.Uint64

	handoffs  atomic.Uint64
	needSyncs atomic.Uint64
}

// Handoffs reports how many times the combiner lock has changed hands.
func (c *Combiner[M, Rs]) Handoffs() uint64 { return c.handoffs.Load() }

// NeedSyncs reports how many times a combining pass had to drain and retry
// its log append due to backpressure.
func (c *Combiner[M, Rs]) NeedSyncs() uint64 { return c.needSyncs.Load() }

// SetHooks installs observability callbacks. Not safe to call concurrently
// with combining.
func (c *Combiner[M, Rs]) SetHooks(h Hooks) {
	c.hooks = h
}

// New builds a combiner for one replica. threads is the number of per-thread
// contexts to preallocate (== max threads per replica); ctxDepth is each
// context's pending-op ring depth; waitIters bounds how many times a
// non-combiner spins reading its result before retrying lock acquisition.
func New[M any, Rs any](replicaID uint64, log *oplog.Log[M], apply ApplyMutFunc[M, Rs], threads int, ctxDepth uint64, waitIters int) *Combiner[M, Rs] {
	contexts := make([]*Context[M, Rs], threads)
	for i := range contexts {
		contexts[i] = NewContext[M, Rs](ctxDepth)
	}
	return &Combiner[M, Rs]{
		replicaID: replicaID,
		log:       log,
		apply:     apply,
		waitIters: waitIters,
		contexts:  contexts,
	}
}

// Context returns the pre-allocated per-thread context for slot.
func (c *Combiner[M, Rs]) Context(slot uint32) *Context[M, Rs] {
	return c.contexts[slot]
}

// NumThreads reports the preallocated context count.
func (c *Combiner[M, Rs]) NumThreads() int {
	return len(c.contexts)
}

func holderID(slot uint32) uint64 {
	return uint64(slot) + 1
}

// ExecuteMut submits a mutating operation: enqueue, then either become the
// combiner or wait bounded on the result ring before retrying.
func (c *Combiner[M, Rs]) ExecuteMut(op M, tok core.ThreadToken) Rs {
	ctx := c.contexts[tok.Slot]

	for !ctx.EnqueueOp(op) {
		// Ring full: drain by taking a combining pass first, then
		// retry the enqueue.
		c.tryCombineOnce(tok.Slot)
	}

	for {
		if c.lock.CompareAndSwap(0, holderID(tok.Slot)) {
			c.handoffs.Inc()
			if c.hooks.OnHandoff != nil {
				c.hooks.OnHandoff()
			}
			c.combine()
			c.lock.Store(0)
		} else {
			c.spinForResult(ctx)
		}
		if r, ok := ctx.PopResult(); ok {
			return r
		}
		// Either the incumbent combiner released without reaching our
		// op yet, or we combined but something else already drained
		// our context (shouldn't happen under the single-combiner
		// invariant) -- loop and retry lock acquisition.
	}
}

// Execute serves a read: it drives this replica's replay up to ctail (the
// point the caller captured via oplog.Log.GetCtail), contending for the
// combiner lock only long enough to do that, then applies the read
// locally. Reads never append.
func (c *Combiner[M, Rs]) Execute(ctail uint64, applyRead func() Rs, tok core.ThreadToken) Rs {
	c.driveReplayTo(ctail, tok.Slot)
	return applyRead()
}

// Sync drives this replica's replay all the way to the log's current tail.
func (c *Combiner[M, Rs]) Sync(tok core.ThreadToken) {
	tail := c.log.Tail()
	c.driveReplayTo(tail, tok.Slot)
}

func (c *Combiner[M, Rs]) driveReplayTo(until uint64, slot uint32) {
	for c.log.LocalTail(c.replicaID) < until {
		if c.lock.CompareAndSwap(0, holderID(slot)) {
			u := until
			c.log.Exec(c.replicaID, c.applyDuringReplay, &u)
			c.lock.Store(0)
		}
		runtime.Gosched()
	}
}

// tryCombineOnce attempts one combining pass if the lock is free, and
// otherwise yields once. It is used only to drain a full context ring
// before an enqueue retry; it never blocks waiting for a result.
func (c *Combiner[M, Rs]) tryCombineOnce(slot uint32) {
	if c.lock.CompareAndSwap(0, holderID(slot)) {
		c.combine()
		c.lock.Store(0)
		return
	}
	runtime.Gosched()
}

// spinForResult waits up to waitIters iterations for ctx's result ring to
// produce something, so a long-running incumbent combiner cannot starve a
// waiter indefinitely: once the bound is hit, ExecuteMut loops back around
// to retry becoming the combiner itself.
func (c *Combiner[M, Rs]) spinForResult(ctx *Context[M, Rs]) {
	for i := 0; i < c.waitIters; i++ {
		if ctx.HasResult() {
			return
		}
		runtime.Gosched()
	}
}

// combine performs one full combining pass: round-robin scan of every
// thread context, one log append for everything gathered, then replay
// (which also routes results back to this replica's own submitters).
func (c *Combiner[M, Rs]) combine() {
	n := uint64(len(c.contexts))
	start := c.scanCursor.Load() % n
	c.scanCursor.Store(start + 1)

	var batch []core.Entry[M]
	for i := uint64(0); i < n; i++ {
		idx := (start + i) % n
		for _, op := range c.contexts[idx].DequeueOps() {
			batch = append(batch, core.Entry[M]{
				Op:        op,
				ReplicaID: c.replicaID,
				Token:     core.ThreadToken{ReplicaID: c.replicaID, Slot: uint32(idx)},
			})
		}
	}

	if len(batch) == 0 {
		// Nothing of our own to append, but still make progress on
		// foreign replicas' entries so reads interleaved with writes
		// stay fresh.
		c.log.Exec(c.replicaID, c.applyDuringReplay, nil)
		return
	}

	if c.hooks.OnCombine != nil {
		c.hooks.OnCombine(len(batch))
	}

	for {
		err := c.log.Append(batch)
		if err == nil {
			break
		}
		if !errors.Is(err, oplog.ErrNeedSync) {
			// Anything other than recoverable backpressure is a misuse
			// condition (e.g. a batch larger than the log's capacity)
			// that retrying can never fix; looping would wedge this
			// replica's combiner lock forever.
			panic(fmt.Errorf("combiner: unrecoverable append failure: %w", err))
		}
		c.needSyncs.Inc()
		if c.hooks.OnNeedSync != nil {
			c.hooks.OnNeedSync()
		}
		// NeedSync: drain our own replay and reclaim head, then retry.
		c.log.Exec(c.replicaID, c.applyDuringReplay, nil)
		c.log.AdvanceHeadBatch(len(batch))
	}

	c.log.Exec(c.replicaID, c.applyDuringReplay, nil)
}

// applyDuringReplay is the oplog.ApplyFunc the combiner hands to Exec. For
// every entry (whether it originated here or on a sibling replica) it runs
// ApplyMut against the local data structure; for entries this replica
// itself appended, it additionally routes the result back to the
// submitting thread's context.
func (c *Combiner[M, Rs]) applyDuringReplay(_ uint64, e core.Entry[M], ownReplica bool) {
	r := c.apply(e.Op, e.Token)
	if ownReplica {
		c.contexts[e.Token.Slot].PublishResult(r)
	}
}
