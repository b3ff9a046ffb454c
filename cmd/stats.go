package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulseframe/taskeval/internal/results"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <results-file>",
		Short: "Print aggregate metrics from a results file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := results.Read(args[0])
			if err != nil {
				return err
			}

			info := record.EvaluationInfo
			agg := record.AggregateMetrics
			perf := record.PerformanceMetrics

			fmt.Printf("Evaluation: %s (%s)\n\n", info.EvaluationType, info.Timestamp)
			fmt.Printf("Data points:       %d\n", agg.TotalDataPoints)
			fmt.Printf("Correct:           %d\n", agg.CorrectCount)
			fmt.Printf("Success rate:      %.1f%%\n", agg.SuccessRate*100)
			fmt.Printf("Errors:            %d\n", agg.ErrorCount)
			fmt.Printf("Mean tokens:       %.1f\n", agg.MeanTokensGenerated)
			fmt.Printf("Mean time:         %.2fs\n", agg.MeanResponseTime)
			fmt.Printf("Mean tokens/sec:   %.1f\n", agg.MeanTokensPerSecond)
			fmt.Printf("\nSequential time:   %.2fs\n", perf.SequentialTime)
			fmt.Printf("Parallel time:     %.2fs\n", perf.ParallelTime)
			fmt.Printf("Est. speedup:      %.2fx\n", perf.Speedup)

			failures := 0
			for _, r := range record.IndividualResults {
				if r.Error != "" {
					failures++
				}
			}
			if failures > 0 {
				fmt.Printf("\nFailed items:\n")
				for _, r := range record.IndividualResults {
					if r.Error != "" {
						fmt.Printf("  - %s [%s]: %s\n", r.ItemID, r.Status, r.Error)
					}
				}
			}

			return nil
		},
	}

	return cmd
}
