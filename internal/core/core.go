// Package core holds the generic types shared by ring, oplog, and combiner.
// Keeping them in one leaf package avoids an import cycle between the three
// (each needs to name the other's type parameters without needing the
// other's behavior).
package core

// ThreadToken identifies a thread registered against one replica. It is only
// meaningful on the replica that issued it; using it against a different
// replica, or from two goroutines concurrently, is a programming error.
type ThreadToken struct {
	ReplicaID uint64
	Slot      uint32
}

// Dispatch is the contract a user data structure must satisfy to be
// replicated. ApplyMut must be deterministic given the same receiver state
// and input: every replica runs it once per log entry and their state must
// stay identical as a result.
type Dispatch[M any, R any, Rs any] interface {
	ApplyMut(op M, tok ThreadToken) Rs
	ApplyRead(op R) Rs
}

// Entry is the payload a log slot carries: the operation plus enough
// provenance (originating replica and thread) to route the result back to
// the submitter during the combiner's own in-line replay.
type Entry[M any] struct {
	Op        M
	ReplicaID uint64
	Token     ThreadToken
}
