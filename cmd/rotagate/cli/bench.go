package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/rotagate/rotagate/internal/config"
	"github.com/rotagate/rotagate/internal/secret"
	"github.com/rotagate/rotagate/internal/service"
)

func newBenchCmd() *cobra.Command {
	var (
		cost       int
		iterations int
	)

	cmd := &cobra.Command{
		Use:     "bench",
		Aliases: []string{"benchmark"},
		Short:   "Benchmark the access-and-rotate chain",
		Long: `Measure access latency at a given bcrypt cost. A single key is created in an
in-memory store and presented repeatedly, each time with the value returned by
the previous rotation, so every iteration pays one verify and one hash.

Use the results to choose security.bcrypt_cost for your latency budget.`,
		Example: `  rotagate bench
  rotagate bench --cost 12 --iterations 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
				return fmt.Errorf("cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
			}
			if iterations < 1 {
				return fmt.Errorf("iterations must be positive")
			}
			return runBench(cmd.OutOrStdout(), cost, iterations)
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost to benchmark")
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 50, "Number of rotations in the chain")

	return cmd
}

// memStats captures a snapshot of memory statistics for reporting.
type memStats struct {
	HeapAlloc uint64
	Sys       uint64
}

func captureMemStats() memStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memStats{HeapAlloc: m.HeapAlloc, Sys: m.Sys}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// percentile returns the p-th percentile of sorted latencies.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func runBench(out io.Writer, cost, iterations int) error {
	fmt.Fprint(out, banner)
	fmt.Fprintln(out, "rotagate rotation benchmark")
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(out, "bcrypt cost: %d | Iterations: %d\n", cost, iterations)
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(out)

	pepper := make([]byte, 32)
	if _, err := rand.Read(pepper); err != nil {
		return fmt.Errorf("generate pepper: %w", err)
	}

	store, err := config.NewStore("")
	if err != nil {
		return fmt.Errorf("open in-memory store: %w", err)
	}
	defer store.Close()

	deriver, err := secret.New(secret.Options{Pepper: hex.EncodeToString(pepper), Cost: cost})
	if err != nil {
		return err
	}
	auth, err := service.NewAuthService(store, deriver, service.AuthOptions{JWTSecret: hex.EncodeToString(pepper)})
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := service.NewAuditor(store, logger, nil)
	keys := service.NewKeyService(store, deriver, auth, audit, logger, service.KeyServiceOptions{})

	ctx := context.Background()
	memBefore := captureMemStats()

	createStart := time.Now()
	created, err := keys.CreateKey(ctx, cliActor, "bench", service.RequestMeta{})
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	createDuration := time.Since(createStart)

	raw := created.RawKeyOnce
	latencies := make([]time.Duration, 0, iterations)
	chainStart := time.Now()
	for i := 0; i < iterations; i++ {
		start := time.Now()
		res, err := keys.AccessAndRotate(ctx, raw, service.RequestMeta{})
		if err != nil {
			return fmt.Errorf("rotation %d: %w", i+1, err)
		}
		latencies = append(latencies, time.Since(start))
		raw = res.RotatedKeyOnce
	}
	total := time.Since(chainStart)
	memAfter := captureMemStats()

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	fmt.Fprintln(out, "Results")
	fmt.Fprintln(out, "-------")
	fmt.Fprintf(out, "  Create key:     %s\n", createDuration)
	fmt.Fprintf(out, "  Rotations:      %d in %s\n", iterations, total)
	fmt.Fprintf(out, "  Throughput:     %.1f accesses/s\n", float64(iterations)/total.Seconds())
	fmt.Fprintf(out, "  Latency p50:    %s\n", percentile(latencies, 50))
	fmt.Fprintf(out, "  Latency p95:    %s\n", percentile(latencies, 95))
	fmt.Fprintf(out, "  Latency p99:    %s\n", percentile(latencies, 99))
	fmt.Fprintf(out, "  Latency max:    %s\n", latencies[len(latencies)-1])

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Memory")
	fmt.Fprintln(out, "------")
	fmt.Fprintf(out, "  Heap before:    %s\n", formatBytes(memBefore.HeapAlloc))
	fmt.Fprintf(out, "  Heap after:     %s\n", formatBytes(memAfter.HeapAlloc))
	fmt.Fprintf(out, "  RSS (sys) after: %s\n", formatBytes(memAfter.Sys))

	return nil
}
