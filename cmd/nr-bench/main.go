// Command nr-bench drives a configurable Counter workload against an nr.Log
// and reports overall throughput plus per-replica stats. It exists to exercise the library end
// to end: a flag-configured CLI, no subcommand framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	nr "github.com/gz/node-replication"
	"github.com/gz/node-replication/examples"
	"github.com/gz/node-replication/internal/nrlog"
)

var (
	replicas     int
	threads      int
	opsPerThread int
	logCapacity  int
	batchSize    int
	configFile   string
	verbose      bool
)

func init() {
	flag.IntVar(&replicas, "replicas", 2, "number of replicas (one per simulated NUMA node)")
	flag.IntVar(&threads, "threads", 4, "threads registered per replica")
	flag.IntVar(&opsPerThread, "ops", 100000, "mutating operations submitted per thread")
	flag.IntVar(&logCapacity, "log-capacity", 1<<20, "shared log capacity, must be a power of two")
	flag.IntVar(&batchSize, "batch-size", 32, "combiner context depth per thread")
	flag.StringVar(&configFile, "config", "", "optional yaml file overriding the above flags")
	flag.BoolVar(&verbose, "verbose", false, "log the log's creation and each replica's registration")
}

// fileConfig mirrors the command-line flags above so a run can be
// reproduced from a checked-in file instead of a long flag line.
type fileConfig struct {
	Replicas     int `yaml:"replicas"`
	Threads      int `yaml:"threads"`
	OpsPerThread int `yaml:"ops_per_thread"`
	LogCapacity  int `yaml:"log_capacity"`
	BatchSize    int `yaml:"batch_size"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parsing config: %w", err)
	}
	return fc, nil
}

func main() {
	flag.Parse()

	if configFile != "" {
		fc, err := loadFileConfig(configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if fc.Replicas > 0 {
			replicas = fc.Replicas
		}
		if fc.Threads > 0 {
			threads = fc.Threads
		}
		if fc.OpsPerThread > 0 {
			opsPerThread = fc.OpsPerThread
		}
		if fc.LogCapacity > 0 {
			logCapacity = fc.LogCapacity
		}
		if fc.BatchSize > 0 {
			batchSize = fc.BatchSize
		}
	}

	runID := uuid.New()
	var logger *nrlog.Logger
	if verbose {
		logger = nrlog.New(log.NewLogfmtLogger(os.Stderr))
		logger = logger.With("run_id", runID.String())
	} else {
		logger = nrlog.Nop()
	}

	cfg := nr.DefaultConfig()
	cfg.LogCapacity = uint64(logCapacity)
	cfg.MaxReplicas = uint64(replicas)
	cfg.MaxThreadsPerReplica = threads
	cfg.BatchSize = uint64(batchSize)
	cfg.Logger = logger

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg nr.Config) error {
	shared, err := nr.NewLog[examples.CounterOp](cfg)
	if err != nil {
		return fmt.Errorf("creating log: %w", err)
	}

	replicaObjs := make([]*nr.Replica[examples.CounterOp, examples.CounterRead, int64], replicas)
	for i := range replicaObjs {
		r, err := nr.NewReplica[examples.CounterOp, examples.CounterRead, int64](shared, uint64(i), &examples.Counter{})
		if err != nil {
			return fmt.Errorf("creating replica %d: %w", i, err)
		}
		replicaObjs[i] = r
	}

	g, _ := errgroup.WithContext(context.Background())
	start := time.Now()

	for i, r := range replicaObjs {
		r := r
		replicaIdx := i
		for t := 0; t < threads; t++ {
			tok, err := r.Register()
			if err != nil {
				return fmt.Errorf("registering thread on replica %d: %w", replicaIdx, err)
			}
			g.Go(func() error {
				for n := 0; n < opsPerThread; n++ {
					r.ExecuteMut(examples.CounterOp{Delta: 1}, tok)
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	totalOps := replicas * threads * opsPerThread
	fmt.Printf("replicas=%d threads/replica=%d ops/thread=%d total_ops=%d elapsed=%s ops/sec=%.0f\n",
		replicas, threads, opsPerThread, totalOps, elapsed, float64(totalOps)/elapsed.Seconds())

	for i, r := range replicaObjs {
		s := r.Stats()
		fmt.Printf("replica %d: local_tail=%d handoffs=%d need_syncs=%d\n", i, s.LocalTail, s.Handoffs, s.NeedSyncs)
	}
	return nil
}
