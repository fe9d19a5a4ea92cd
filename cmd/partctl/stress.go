package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/joshuapare/partkit/part"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	stressOps     int
	stressMaxSize int
	stressLive    int
	stressSeed    uint64
	stressPurge   bool
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressOps, "ops", 1_000_000, "Number of alloc/free operations")
	cmd.Flags().IntVar(&stressMaxSize, "max-size", 4096, "Maximum allocation size in bytes")
	cmd.Flags().IntVar(&stressLive, "live", 10_000, "Target number of live objects")
	cmd.Flags().Uint64Var(&stressSeed, "seed", 1, "PRNG seed")
	cmd.Flags().BoolVar(&stressPurge, "purge", false, "Run a full purge after the workload")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run a synthetic allocation workload",
		Long: `The stress command hammers one partition root with a randomized
mix of allocations and frees, then reports throughput and footprint.

Example:
  partctl stress --ops 5000000 --max-size 1024
  partctl stress --live 100000 --purge -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
}

func runStress() error {
	if stressMaxSize <= 0 || stressOps <= 0 || stressLive <= 0 {
		return fmt.Errorf("ops, max-size and live must be positive")
	}
	root := part.NewRoot(part.Options{})
	rng := rand.New(rand.NewPCG(stressSeed, 0))
	live := make([]part.Ref, 0, stressLive)

	printVerbose("running %d ops, max size %d, target live %d\n",
		stressOps, stressMaxSize, stressLive)

	start := time.Now()
	for i := 0; i < stressOps; i++ {
		if len(live) >= stressLive || (len(live) > 0 && rng.IntN(2) == 0) {
			j := rng.IntN(len(live))
			root.Free(live[j])
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}
		size := uintptr(1 + rng.IntN(stressMaxSize))
		ref, _ := root.Alloc(size, 0)
		live = append(live, ref)
	}
	elapsed := time.Since(start)

	for _, ref := range live {
		root.Free(ref)
	}
	if stressPurge {
		root.PurgeMemory(part.PurgeDecommitEmptySpans | part.PurgeReleaseEmptySuperPages)
	}

	result := struct {
		Ops            int           `json:"ops"`
		Elapsed        time.Duration `json:"elapsed_ns"`
		OpsPerSecond   float64       `json:"ops_per_second"`
		CommittedBytes uintptr       `json:"committed_bytes"`
	}{
		Ops:            stressOps,
		Elapsed:        elapsed,
		OpsPerSecond:   float64(stressOps) / elapsed.Seconds(),
		CommittedBytes: root.CommittedBytes(),
	}
	if jsonOut {
		return printJSON(result)
	}
	p := message.NewPrinter(language.English)
	p.Printf("%d ops in %v (%.0f ops/s)\n", result.Ops, elapsed.Round(time.Millisecond), result.OpsPerSecond)
	p.Printf("committed after teardown: %d bytes\n", result.CommittedBytes)
	return nil
}
