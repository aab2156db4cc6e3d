package nr

import (
	"fmt"

	"github.com/gz/node-replication/internal/core"
	"github.com/gz/node-replication/internal/oplog"
)

// ThreadToken identifies a thread registered against one replica. It is
// only valid on the replica that issued it and must not be used
// concurrently from two goroutines.
type ThreadToken = core.ThreadToken

// Dispatch is the contract a user data structure must satisfy to be
// replicated. ApplyMut must be deterministic given the same receiver state
// and input -- every replica runs it once per log entry, and nondeterminism
// there is exactly what breaks replica equivalence.
type Dispatch[M any, R any, Rs any] = core.Dispatch[M, R, Rs]

// Log is the shared, append-only operation log several Replicas replay
// independently. One Log typically backs one NUMA machine's worth of
// Replicas, one per node.
type Log[M any] struct {
	cfg   Config
	inner *oplog.Log[M]
}

// NewLog constructs a Log per cfg. LogCapacity and MaxReplicas are fixed
// for the Log's lifetime; they cannot be changed after construction. There
// is no dynamic resizing of the log or the replica set.
func NewLog[M any](cfg Config) (*Log[M], error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inner, err := oplog.New[M](oplog.Config{
		Capacity:    cfg.LogCapacity,
		MaxReplicas: cfg.MaxReplicas,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("log created", "capacity", cfg.LogCapacity, "max_replicas", cfg.MaxReplicas)
	}
	return &Log[M]{cfg: cfg, inner: inner}, nil
}

// Reset reinitializes every cursor to zero without reallocating the ring.
// It is a benchmark-only hook: callers must ensure no Replica built on this
// Log is concurrently executing.
func (l *Log[M]) Reset() {
	l.inner.Reset()
}

// Tail and Head expose the log's cursors for diagnostics; neither is part
// of the public contract a caller needs to drive the system correctly.
func (l *Log[M]) Tail() uint64 { return l.inner.Tail() }
func (l *Log[M]) Head() uint64 { return l.inner.Head() }

func (l *Log[M]) replicaIDInRange(id uint64) error {
	if id >= l.cfg.MaxReplicas {
		return fmt.Errorf("nr: replica id %d out of range [0, %d)", id, l.cfg.MaxReplicas)
	}
	return nil
}
