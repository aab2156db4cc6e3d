package nr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg = cfg.withDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultConfig().LogCapacity, cfg.LogCapacity)
	require.Equal(t, DefaultConfig().MaxReplicas, cfg.MaxReplicas)
	require.Equal(t, DefaultConfig().MaxThreadsPerReplica, cfg.MaxThreadsPerReplica)
	require.Equal(t, DefaultConfig().BatchSize, cfg.BatchSize)
	require.Equal(t, DefaultConfig().CombinerWaitIters, cfg.CombinerWaitIters)
}

func TestWithDefaultsPreservesNonZeroValues(t *testing.T) {
	cfg := Config{LogCapacity: 1 << 8, MaxReplicas: 2, MaxThreadsPerReplica: 1, BatchSize: 4, CombinerWaitIters: 7}
	got := cfg.withDefaults()
	require.Equal(t, cfg, got)
}
