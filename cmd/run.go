package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulseframe/taskeval/internal/config"
	"github.com/pulseframe/taskeval/internal/dataset"
	"github.com/pulseframe/taskeval/internal/evaluator"
	"github.com/pulseframe/taskeval/internal/groundtruth"
	"github.com/pulseframe/taskeval/internal/llama"
	"github.com/pulseframe/taskeval/internal/promptstore"
	"github.com/pulseframe/taskeval/internal/results"
	"github.com/pulseframe/taskeval/internal/schemastore"
)

const evaluationType = "task_detection"

func newRunCmd() *cobra.Command {
	var (
		dataDir    string
		singleFile string
		pattern    string
		output     string
		chunkSize  int
		generateGT bool
		gtModel    string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the task-detection evaluation",
		Long: `Evaluate recorded screen-state data points against the task-detection
model and write a JSON results record with aggregate metrics.

The inference server is health-probed first; an already-running server is
reused (and left running afterwards), otherwise one is spawned for the
duration of the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.Evaluation.OutputPath
			}
			if output == "" {
				output = "results/task_detection_results.json"
			}

			prompts, err := promptstore.New(cfg.Prompts.Dir)
			if err != nil {
				return fmt.Errorf("failed to load prompts: %w", err)
			}

			schemas, err := schemastore.New(cfg.Schemas.Dir, cfg.Schemas.Inline)
			if err != nil {
				return fmt.Errorf("failed to load schemas: %w", err)
			}

			loader := dataset.NewTaskDetectionLoader()
			var points []*dataset.Point
			if singleFile != "" {
				p, err := dataset.LoadFile(singleFile, loader)
				if err != nil {
					return err
				}
				points = []*dataset.Point{p}
			} else {
				points, err = dataset.LoadDir(dataDir, pattern, loader)
				if err != nil {
					return err
				}
			}
			if len(points) == 0 {
				return fmt.Errorf("no evaluation data points found in %s", dataDir)
			}

			stats := dataset.ComputeStats(points)
			slog.Info("dataset loaded",
				"data_points", stats.Total,
				"with_summary", stats.WithSummary,
				"mean_steps", stats.MeanSteps,
			)

			client := llama.NewClient(cfg.Server, cfg.Model, cfg.Generation.Params())
			if !client.EnsureRunning(ctx) {
				// A run that never reached the server is a different
				// failure class from a run that scored items incorrectly.
				return fmt.Errorf("%w: no healthy server at %s and startup did not succeed within %s",
					llama.ErrServerUnavailable, cfg.Server.BaseURL(), cfg.Server.StartupTimeout())
			}
			defer client.Shutdown()

			if generateGT {
				gt := groundtruth.New(
					groundtruth.WithBaseURL(cfg.Server.BaseURL()+"/v1"),
					groundtruth.WithModel(gtModel),
				)
				gt.Fill(ctx, points)
			}

			items := make([]evaluator.Item, len(points))
			for i, p := range points {
				items[i] = evaluator.Item{
					ID:           p.ID,
					PromptParams: loader.PromptParams(p),
					SchemaKey:    loader.SchemaKey(),
					GroundTruth:  p.GroundTruth,
				}
			}

			eval := evaluator.New(client, prompts, schemas, "task-detection", "detect_tasks", cfg.Evaluation)

			start := time.Now()
			evalResults := eval.EvaluateBatchChunked(ctx, items, chunkSize)
			elapsed := time.Since(start)

			record := results.NewRecord(evaluationType, evalResults)
			if err := results.Write(output, record); err != nil {
				return err
			}

			agg := record.AggregateMetrics
			perf := record.PerformanceMetrics
			fmt.Printf("\nEvaluation complete in %s.\n", elapsed.Round(time.Millisecond))
			fmt.Printf("Data points:    %d\n", agg.TotalDataPoints)
			fmt.Printf("Correct:        %d (%.1f%%)\n", agg.CorrectCount, agg.SuccessRate*100)
			fmt.Printf("Errors:         %d\n", agg.ErrorCount)
			fmt.Printf("Mean tokens:    %.1f\n", agg.MeanTokensGenerated)
			fmt.Printf("Mean time:      %.2fs\n", agg.MeanResponseTime)
			fmt.Printf("Est. speedup:   %.2fx\n", perf.Speedup)
			fmt.Printf("Results:        %s\n", output)

			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "Directory containing evaluation data files")
	cmd.Flags().StringVar(&singleFile, "single-file", "", "Evaluate a single data file")
	cmd.Flags().StringVar(&pattern, "pattern", "*.json", "File pattern to match in the data directory")
	cmd.Flags().StringVar(&output, "output", "", "Output file for results (overrides config)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Items per chunk (0 uses the configured chunk size)")
	cmd.Flags().BoolVar(&generateGT, "generate-gt", false, "Generate missing ground truth via the model before evaluating")
	cmd.Flags().StringVar(&gtModel, "gt-model", "", "Model name for ground-truth generation")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall timeout for the run (e.g. 30m). 0 means no timeout")

	return cmd
}
