package nr

import "errors"

// These are the capacity/misuse errors callers can see. NeedSync never
// reaches here: it is a recoverable signal internal to oplog/combiner and
// is always absorbed by Combiner.ExecuteMut's retry loop before a result is
// returned to the caller.
var (
	// ErrRegisterFull is returned by Replica.Register when every
	// max_threads_per_replica context slot is already taken.
	ErrRegisterFull = errors.New("nr: replica has no free thread slots")

	// ErrBadToken is the error wrapped into the panic raised when a
	// ThreadToken is used against a replica that did not issue it, or
	// when its slot is out of range. This is a programmer error, not a
	// runtime-recoverable condition.
	ErrBadToken = errors.New("nr: thread token is not valid for this replica")
)
