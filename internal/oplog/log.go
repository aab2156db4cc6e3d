// Package oplog implements the circular, lock-free operation log: a single
// producer-batched append path over internal/ring, with many concurrent
// replay consumers (one per replica) and in-order head reclamation.
package oplog

import (
	"errors"
	"fmt"

	"go.uber.org/atomic"

	"github.com/gz/node-replication/internal/core"
	"github.com/gz/node-replication/internal/ring"
)

// ErrNeedSync is the log's only recoverable failure: the reservation would
// overrun head by more than the configured slack. The caller must drive its
// own replica's replay (Exec) and AdvanceHead, then retry Append.
var ErrNeedSync = errors.New("oplog: need sync: log full relative to head")

// Config fixes the log's shape for its whole lifetime: capacity and replica
// count are both fixed at construction and never change afterward.
type Config struct {
	// Capacity is the ring size; must be a power of two.
	Capacity uint64
	// MaxReplicas is the number of replicas this log serves; must be in
	// [1, ring.MaxReplicas].
	MaxReplicas uint64
}

// Log is the shared, append-only operation log. M is the user's mutable
// operation type; it must be safe to copy, since the same value crosses
// from the submitting goroutine into the slot and out to every replica's
// replay path.
type Log[M any] struct {
	cfg   Config
	ring  *ring.Ring[core.Entry[M]]
	tail  atomic.Uint64
	head  atomic.Uint64
	ctail atomic.Uint64

	ltails []atomic.Uint64
	lmasks []atomic.Bool

	allReplicas uint64 // bitmap with one bit per configured replica, all set
}

// New constructs a Log per cfg. Capacity must be a power of two and
// MaxReplicas must fit the ring's bitmap width.
func New[M any](cfg Config) (*Log[M], error) {
	if cfg.MaxReplicas == 0 || cfg.MaxReplicas > ring.MaxReplicas {
		return nil, fmt.Errorf("oplog: max replicas %d outside [1, %d]", cfg.MaxReplicas, ring.MaxReplicas)
	}
	r, err := ring.New[core.Entry[M]](int(cfg.Capacity))
	if err != nil {
		return nil, fmt.Errorf("oplog: %w", err)
	}

	l := &Log[M]{
		cfg:    cfg,
		ring:   r,
		ltails: make([]atomic.Uint64, cfg.MaxReplicas),
		lmasks: make([]atomic.Bool, cfg.MaxReplicas),
	}
	if cfg.MaxReplicas == 64 {
		l.allReplicas = ^uint64(0)
	} else {
		l.allReplicas = (uint64(1) << cfg.MaxReplicas) - 1
	}
	// The first generation written is "true"; every replica's initial
	// expectation must match, or the very first batch would look stale.
	for i := range l.lmasks {
		l.lmasks[i].Store(true)
	}
	return l, nil
}

// Capacity returns the ring's fixed slot count.
func (l *Log[M]) Capacity() uint64 { return l.ring.Capacity() }

// slack is the safety margin subtracted from capacity in the reservation
// inequality. It must be large enough that no replica's local_tail can
// ever be more than one wrap behind the live tail -- the precondition the
// single generation bit relies on. A margin proportional to the replica
// count is sufficient: every registered replica can have at most one slot
// "in flight" between observing the new tail and clearing its bit, so
// maxReplicas slots of headroom is plenty.
func (l *Log[M]) slack() uint64 {
	return l.cfg.MaxReplicas
}

// genOf computes the generation bit expected at ring position pos. Because
// capacity is fixed for the log's lifetime, the generation is a pure
// function of the position: it flips every time pos crosses a capacity
// boundary. This lets both the producer (writing) and every replica
// (reading) derive the same expectation without coordinating through extra
// state beyond the per-replica lmasks cache kept for readers (see Exec).
func (l *Log[M]) genOf(pos uint64) bool {
	return (pos/l.ring.Capacity())%2 == 0
}

// Append reserves a contiguous range at the tail for entries and publishes
// them. It never blocks: on backpressure it returns ErrNeedSync immediately
// so the combiner can drain its own replica and retry.
func (l *Log[M]) Append(entries []core.Entry[M]) error {
	n := uint64(len(entries))
	if n == 0 {
		return nil
	}
	if n > l.ring.Capacity() {
		return fmt.Errorf("oplog: batch of %d exceeds capacity %d", n, l.ring.Capacity())
	}
	capacity := l.ring.Capacity()
	slack := l.slack()

	for {
		t := l.tail.Load()
		h := l.head.Load()
		if t+n-h > capacity-slack {
			return ErrNeedSync
		}
		if l.tail.CompareAndSwap(t, t+n) {
			for i, e := range entries {
				pos := t + uint64(i)
				l.ring.At(pos).Publish(e, l.allReplicas, l.genOf(pos))
			}
			return nil
		}
	}
}

// ApplyFunc is invoked once per replayed entry. ownReplica is true when the
// entry originated on the replica doing the replaying, which is the signal
// the flat-combining executor uses to route a result back to its submitter.
type ApplyFunc[M any] func(idx uint64, e core.Entry[M], ownReplica bool)

// Exec advances replicaID's local tail, invoking apply for each slot whose
// generation matches this replica's current expectation, up to until (or
// the producer's visible tail if until is nil). It returns the replica's
// new local tail.
func (l *Log[M]) Exec(replicaID uint64, apply ApplyFunc[M], until *uint64) uint64 {
	capacity := l.ring.Capacity()
	cur := l.ltails[replicaID].Load()
	limit := l.tail.Load()
	if until != nil && *until < limit {
		limit = *until
	}

	for cur < limit {
		slot := l.ring.At(cur)
		expected := l.lmasks[replicaID].Load()
		if slot.Alive() != expected {
			// Producer hasn't published this far yet; stop short.
			break
		}
		e := slot.Payload()
		apply(cur, e, e.ReplicaID == replicaID)
		slot.ClearReplica(replicaID)
		cur++
		if cur%capacity == 0 {
			l.lmasks[replicaID].Store(!l.lmasks[replicaID].Load())
		}
	}
	l.ltails[replicaID].Store(cur)
	return cur
}

// AdvanceHead reclaims the oldest slot if every replica has replayed it. It
// never blocks and processes at most one slot per call.
func (l *Log[M]) AdvanceHead() bool {
	h := l.head.Load()
	if h >= l.tail.Load() {
		return false
	}
	if l.ring.At(h).ReplicasLeft() != 0 {
		return false
	}
	return l.head.CompareAndSwap(h, h+1)
}

// AdvanceHeadBatch calls AdvanceHead up to max times, stopping early once it
// fails to advance. It returns the number of slots reclaimed.
func (l *Log[M]) AdvanceHeadBatch(max int) int {
	n := 0
	for n < max && l.AdvanceHead() {
		n++
	}
	return n
}

// Tail, Head, and LocalTail expose the monotone cursors for tests, metrics,
// and the Stats() surface; none of them are part of the correctness-
// critical synchronization path beyond what Append/Exec already enforce.
func (l *Log[M]) Tail() uint64                      { return l.tail.Load() }
func (l *Log[M]) Head() uint64                      { return l.head.Load() }
func (l *Log[M]) LocalTail(replicaID uint64) uint64 { return l.ltails[replicaID].Load() }

// GetCtail snapshots the current tail as the point a read operation must
// observe before it is allowed to run locally. It is advisory only: tail,
// head, and ltails are what correctness actually rests on, so GetCtail
// simply returns the live tail.
func (l *Log[M]) GetCtail() uint64 {
	ctail := l.tail.Load()
	l.ctail.Store(ctail)
	return ctail
}

// SyncTo replays replicaID up to (at most) ctail, which a caller typically
// obtained from a prior GetCtail.
func (l *Log[M]) SyncTo(replicaID uint64, ctail uint64, apply ApplyFunc[M]) uint64 {
	return l.Exec(replicaID, apply, &ctail)
}

// Reset reinitializes all cursors to zero without reallocating the ring.
// It exists purely for benchmark harnesses that want a clean log between
// runs, and must never be called while any replica is concurrently
// executing against the log.
func (l *Log[M]) Reset() {
	l.tail.Store(0)
	l.head.Store(0)
	l.ctail.Store(0)
	for i := range l.ltails {
		l.ltails[i].Store(0)
		l.lmasks[i].Store(true)
	}
}
