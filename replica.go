package nr

import (
	"fmt"
	"sync"

	"github.com/gz/node-replication/internal/combiner"
	"github.com/gz/node-replication/internal/core"
	"github.com/gz/node-replication/internal/metrics"
)

// Replica is the thin public facade: register a thread, then drive
// ExecuteMut / Execute / Sync through it. It wires one user Dispatch
// implementation to one replica id on a shared Log via a flat-combining
// executor (internal/combiner).
type Replica[M any, R any, Rs any] struct {
	id   uint64
	log  *Log[M]
	data Dispatch[M, R, Rs]
	comb *combiner.Combiner[M, Rs]

	metrics *metrics.Registry

	mu       sync.Mutex
	nextSlot uint32
}

// NewReplica binds data to replicaID on log. replicaID must be in
// [0, cfg.MaxReplicas) for the Log that produced log.
func NewReplica[M any, R any, Rs any](log *Log[M], replicaID uint64, data Dispatch[M, R, Rs]) (*Replica[M, R, Rs], error) {
	if err := log.replicaIDInRange(replicaID); err != nil {
		return nil, err
	}

	apply := func(op M, tok core.ThreadToken) Rs {
		return data.ApplyMut(op, tok)
	}
	comb := combiner.New[M, Rs](replicaID, log.inner, apply, log.cfg.MaxThreadsPerReplica, log.cfg.BatchSize, log.cfg.CombinerWaitIters)

	r := &Replica[M, R, Rs]{
		id:   replicaID,
		log:  log,
		data: data,
		comb: comb,
	}

	if log.cfg.Metrics != nil {
		reg := metrics.New(log.cfg.Metrics, fmt.Sprintf("%d", replicaID))
		r.metrics = reg
		comb.SetHooks(combiner.Hooks{
			OnNeedSync: reg.NeedSyncTotal.Inc,
			OnHandoff:  reg.HandoffsTotal.Inc,
			OnCombine:  func(n int) { reg.CombineBatch.Observe(float64(n)) },
		})
	}

	if log.cfg.Logger != nil {
		log.cfg.Logger.Info("replica registered", "replica_id", replicaID)
	}

	return r, nil
}

// Register allocates a per-thread context slot on this replica. It fails
// once every max_threads_per_replica slot is taken.
func (r *Replica[M, R, Rs]) Register() (ThreadToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(r.nextSlot) >= r.comb.NumThreads() {
		return ThreadToken{}, ErrRegisterFull
	}
	tok := ThreadToken{ReplicaID: r.id, Slot: r.nextSlot}
	r.nextSlot++
	return tok, nil
}

func (r *Replica[M, R, Rs]) checkToken(tok ThreadToken) {
	if tok.ReplicaID != r.id || int(tok.Slot) >= r.comb.NumThreads() {
		panic(fmt.Errorf("%w: replica %d, slot %d", ErrBadToken, tok.ReplicaID, tok.Slot))
	}
}

// ExecuteMut submits a mutating operation and blocks (bounded spin, never
// an OS wait) until its result is available.
func (r *Replica[M, R, Rs]) ExecuteMut(op M, tok ThreadToken) Rs {
	r.checkToken(tok)
	result := r.comb.ExecuteMut(op, tok)
	if r.metrics != nil {
		r.metrics.LogTail.Set(float64(r.log.inner.Tail()))
		r.metrics.LogHead.Set(float64(r.log.inner.Head()))
	}
	return result
}

// Execute serves a read-only operation against this replica's local state,
// first ensuring it has replayed every mutation committed up to the
// current log tail at the moment Execute was called.
func (r *Replica[M, R, Rs]) Execute(op R, tok ThreadToken) Rs {
	r.checkToken(tok)
	ctail := r.log.inner.GetCtail()
	return r.comb.Execute(ctail, func() Rs { return r.data.ApplyRead(op) }, tok)
}

// Sync forces this replica to replay up to the log's current tail, without
// performing any read or write itself.
func (r *Replica[M, R, Rs]) Sync(tok ThreadToken) {
	r.checkToken(tok)
	r.comb.Sync(tok)
}

// Stats is a read-only operational snapshot of one replica's combining
// activity.
type Stats struct {
	LocalTail uint64
	Handoffs  uint64
	NeedSyncs uint64
}

// Stats reports this replica's current local tail and combiner activity
// counters.
func (r *Replica[M, R, Rs]) Stats() Stats {
	return Stats{
		LocalTail: r.log.inner.LocalTail(r.id),
		Handoffs:  r.comb.Handoffs(),
		NeedSyncs: r.comb.NeedSyncs(),
	}
}
