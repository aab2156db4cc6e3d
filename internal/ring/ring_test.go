package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	_, err := New[int](0)
	require.Error(t, err)

	_, err = New[int](3)
	require.Error(t, err)

	_, err = New[int](-8)
	require.Error(t, err)

	r, err := New[int](16)
	require.NoError(t, err)
	require.EqualValues(t, 16, r.Capacity())
}

func TestAtWrapsOnMask(t *testing.T) {
	r, err := New[int](8)
	require.NoError(t, err)

	a := r.At(2)
	b := r.At(10) // 10 & 7 == 2
	require.Same(t, a, b)
}

func TestPublishAndAlive(t *testing.T) {
	r, err := New[string](4)
	require.NoError(t, err)

	s := r.At(0)
	require.False(t, s.Alive())

	s.Publish("hello", 0b11, true)
	require.True(t, s.Alive())
	require.Equal(t, "hello", s.Payload())
	require.EqualValues(t, 0b11, s.ReplicasLeft())
}

func TestClearReplicaIsPerBitAndIdempotent(t *testing.T) {
	r, err := New[int](4)
	require.NoError(t, err)

	s := r.At(0)
	s.Publish(42, 0b111, true)

	remaining := s.ClearReplica(1)
	require.EqualValues(t, 0b101, remaining)

	// Clearing an already-clear bit is a no-op, not an error.
	remaining = s.ClearReplica(1)
	require.EqualValues(t, 0b101, remaining)

	remaining = s.ClearReplica(0)
	require.EqualValues(t, 0b100, remaining)

	remaining = s.ClearReplica(2)
	require.EqualValues(t, 0, remaining)
}

func TestClearReplicaConcurrent(t *testing.T) {
	r, err := New[int](4)
	require.NoError(t, err)

	s := r.At(0)
	s.Publish(7, ^uint64(0), true)

	done := make(chan struct{})
	for i := 0; i < 32; i++ {
		i := i
		go func() {
			s.ClearReplica(uint64(i))
			done <- struct{}{}
		}()
	}
	for i := 0; i < 32; i++ {
		<-done
	}

	remaining := s.ReplicasLeft()
	require.EqualValues(t, 0, remaining&((1<<32)-1))
}
