// Package nr implements the core of a node-replicated shared log: one
// append-mostly, lock-free operation log shared by several replicas of a
// user data structure (typically one per NUMA node), each replaying the log
// independently to stay consistent with the others. Mutating calls are
// serialized into the log via a per-replica flat-combining executor; reads
// are served from a replica's local state once it has replayed up to a
// chosen log index.
//
// The log engine (internal/ring, internal/oplog, internal/combiner) is the
// only thing this module specifies; the data structure being replicated,
// thread pinning, and NUMA memory placement are the caller's concern -- see
// the Dispatch interface and the examples package for the minimal contract.
package nr
