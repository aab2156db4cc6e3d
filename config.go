package nr

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gz/node-replication/internal/nrlog"
)

// Config fixes a Log's shape and the replicas built on it for their whole
// lifetime. The yaml tags let a caller decode a Config from a file; this
// package never reads any file itself (cmd/nr-bench decodes its own
// flag-shaped file struct instead of a Config).
type Config struct {
	// LogCapacity is the ring size; must be a power of two.
	LogCapacity uint64 `yaml:"log_capacity"`
	// MaxReplicas bounds how many NUMA-node replicas may share this log.
	MaxReplicas uint64 `yaml:"max_replicas"`
	// MaxThreadsPerReplica bounds how many threads may register against
	// a single replica.
	MaxThreadsPerReplica int `yaml:"max_threads_per_replica"`
	// BatchSize is the combiner scratch buffer size: the depth of each
	// thread's pending-op ring.
	BatchSize uint64 `yaml:"batch_size"`
	// CombinerWaitIters bounds how many spin iterations a non-combiner
	// thread waits for a result before retrying lock acquisition.
	CombinerWaitIters int `yaml:"combiner_wait_iters"`

	// Logger receives structured log lines about log creation and
	// replica construction. A nil Logger is a no-op.
	Logger *nrlog.Logger `yaml:"-"`
	// Metrics, if set, makes every Replica register a labeled
	// internal/metrics.Registry against it.
	Metrics prometheus.Registerer `yaml:"-"`
}

// DefaultConfig returns sane defaults for a moderate machine, naming
// concrete numbers rather than leaving zero values to be interpreted ad
// hoc.
func DefaultConfig() Config {
	return Config{
		LogCapacity:          1 << 20,
		MaxReplicas:          4,
		MaxThreadsPerReplica: 32,
		BatchSize:            32,
		CombinerWaitIters:    1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LogCapacity == 0 {
		c.LogCapacity = d.LogCapacity
	}
	if c.MaxReplicas == 0 {
		c.MaxReplicas = d.MaxReplicas
	}
	if c.MaxThreadsPerReplica == 0 {
		c.MaxThreadsPerReplica = d.MaxThreadsPerReplica
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.CombinerWaitIters == 0 {
		c.CombinerWaitIters = d.CombinerWaitIters
	}
	return c
}

// Validate checks the invariants construction-time parameters must
// satisfy before a Log can be built from this Config.
func (c Config) Validate() error {
	if c.LogCapacity == 0 || c.LogCapacity&(c.LogCapacity-1) != 0 {
		return fmt.Errorf("invalid config: log_capacity %d is not a positive power of two", c.LogCapacity)
	}
	if c.MaxReplicas == 0 {
		return fmt.Errorf("invalid config: max_replicas must be at least 1")
	}
	if c.MaxThreadsPerReplica <= 0 {
		return fmt.Errorf("invalid config: max_threads_per_replica must be at least 1")
	}
	// The log reserves max_replicas slots of backpressure slack (see
	// oplog.Log.slack): its reservation check computes capacity-slack in
	// unsigned arithmetic, which underflows to near 2^64 -- silently
	// disabling all backpressure -- unless capacity comfortably exceeds
	// max_replicas. Also require enough room beyond that slack for one
	// full combining pass (up to max_threads_per_replica entries) to fit,
	// or a replica's combiner can never make progress.
	if c.LogCapacity <= c.MaxReplicas {
		return fmt.Errorf("invalid config: log_capacity %d must exceed max_replicas %d", c.LogCapacity, c.MaxReplicas)
	}
	if usable := c.LogCapacity - c.MaxReplicas; usable < uint64(c.MaxThreadsPerReplica) {
		return fmt.Errorf("invalid config: log_capacity %d leaves only %d usable slots after max_replicas %d slack, too small for max_threads_per_replica %d", c.LogCapacity, usable, c.MaxReplicas, c.MaxThreadsPerReplica)
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("invalid config: batch_size must be at least 1")
	}
	if c.CombinerWaitIters < 0 {
		return fmt.Errorf("invalid config: combiner_wait_iters must not be negative")
	}
	return nil
}
