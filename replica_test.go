package nr_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	nr "github.com/gz/node-replication"
	"github.com/gz/node-replication/examples"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newCounterReplica(t *testing.T, log *nr.Log[examples.CounterOp], id uint64) *nr.Replica[examples.CounterOp, examples.CounterRead, int64] {
	t.Helper()
	r, err := nr.NewReplica[examples.CounterOp, examples.CounterRead, int64](log, id, &examples.Counter{})
	require.NoError(t, err)
	return r
}

// Single replica, single thread.
func TestSingleReplicaSingleThread(t *testing.T) {
	cfg := nr.DefaultConfig()
	cfg.LogCapacity = 16
	cfg.MaxReplicas = 1
	cfg.MaxThreadsPerReplica = 1
	log, err := nr.NewLog[examples.CounterOp](cfg)
	require.NoError(t, err)

	r := newCounterReplica(t, log, 0)
	tok, err := r.Register()
	require.NoError(t, err)

	var last int64
	for i := 0; i < 100; i++ {
		last = r.ExecuteMut(examples.CounterOp{Delta: 1}, tok)
	}
	require.EqualValues(t, 100, last)
	require.EqualValues(t, 100, log.Tail())
	require.EqualValues(t, 100, r.Stats().LocalTail)
}

// Two replicas, four threads each, converging on one shared total.
func TestTwoReplicasFourThreadsEach(t *testing.T) {
	cfg := nr.DefaultConfig()
	cfg.LogCapacity = 1 << 14
	cfg.MaxReplicas = 2
	cfg.MaxThreadsPerReplica = 5 // four workers plus one token for the final Sync
	log, err := nr.NewLog[examples.CounterOp](cfg)
	require.NoError(t, err)

	r0 := newCounterReplica(t, log, 0)
	r1 := newCounterReplica(t, log, 1)

	const perThread = 2500 // 4 threads * 2 replicas * 2500 == 20000 total Incs across the whole system
	const threadsPerReplica = 4

	var wg sync.WaitGroup
	for _, r := range []*nr.Replica[examples.CounterOp, examples.CounterRead, int64]{r0, r1} {
		r := r
		for i := 0; i < threadsPerReplica; i++ {
			tok, err := r.Register()
			require.NoError(t, err)
			wg.Add(1)
			go func(tok nr.ThreadToken) {
				defer wg.Done()
				for j := 0; j < perThread; j++ {
					r.ExecuteMut(examples.CounterOp{Delta: 1}, tok)
				}
			}(tok)
		}
	}
	wg.Wait()

	r0.Sync(mustRegister(t, r0))
	r1.Sync(mustRegister(t, r1))

	totalIncs := uint64(2 * threadsPerReplica * perThread)
	require.Equal(t, totalIncs, log.Tail())
	require.Equal(t, log.Tail(), r0.Stats().LocalTail)
	require.Equal(t, log.Tail(), r1.Stats().LocalTail)
}

func mustRegister(t *testing.T, r *nr.Replica[examples.CounterOp, examples.CounterRead, int64]) nr.ThreadToken {
	t.Helper()
	tok, err := r.Register()
	require.NoError(t, err)
	return tok
}

// Wrap-around with a small capacity.
func TestWrapAround(t *testing.T) {
	cfg := nr.DefaultConfig()
	cfg.LogCapacity = 8
	cfg.MaxReplicas = 1
	cfg.MaxThreadsPerReplica = 1
	log, err := nr.NewLog[examples.CounterOp](cfg)
	require.NoError(t, err)

	r := newCounterReplica(t, log, 0)
	tok, err := r.Register()
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		r.ExecuteMut(examples.CounterOp{Delta: 1}, tok)
	}

	require.EqualValues(t, 64, log.Tail())
	require.EqualValues(t, 64, r.Stats().LocalTail)
}

// Read freshness under interleaved mutation.
func TestReadFreshness(t *testing.T) {
	cfg := nr.DefaultConfig()
	cfg.LogCapacity = 1 << 12
	cfg.MaxReplicas = 1
	cfg.MaxThreadsPerReplica = 2
	log, err := nr.NewLog[examples.CounterOp](cfg)
	require.NoError(t, err)

	r := newCounterReplica(t, log, 0)
	writerTok, err := r.Register()
	require.NoError(t, err)
	readerTok, err := r.Register()
	require.NoError(t, err)

	const n = 500
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			r.ExecuteMut(examples.CounterOp{Delta: 1}, writerTok)
		}
	}()

	var lastRead int64
	for {
		select {
		case <-done:
			final := r.Execute(examples.CounterRead{}, readerTok)
			require.GreaterOrEqual(t, final, lastRead)
			require.EqualValues(t, n, final)
			return
		default:
			v := r.Execute(examples.CounterRead{}, readerTok)
			require.GreaterOrEqual(t, v, lastRead)
			lastRead = v
		}
	}
}

func TestRegisterFullAndBadToken(t *testing.T) {
	cfg := nr.DefaultConfig()
	cfg.MaxThreadsPerReplica = 1
	log, err := nr.NewLog[examples.CounterOp](cfg)
	require.NoError(t, err)

	r := newCounterReplica(t, log, 0)
	_, err = r.Register()
	require.NoError(t, err)

	_, err = r.Register()
	require.ErrorIs(t, err, nr.ErrRegisterFull)

	require.Panics(t, func() {
		r.ExecuteMut(examples.CounterOp{Delta: 1}, nr.ThreadToken{ReplicaID: 99})
	})
}

func TestNewLogRejectsBadConfig(t *testing.T) {
	cfg := nr.DefaultConfig()
	cfg.LogCapacity = 3 // not a power of two
	_, err := nr.NewLog[examples.CounterOp](cfg)
	require.Error(t, err)
}
