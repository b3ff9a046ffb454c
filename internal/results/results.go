// Package results persists evaluation output as a single JSON record:
// run info, aggregate metrics, and the per-item results they summarize.
package results

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pulseframe/taskeval/internal/evaluator"
)

// EvaluationInfo describes the run that produced a record.
type EvaluationInfo struct {
	Timestamp       string `json:"timestamp"`
	TotalDataPoints int    `json:"total_data_points"`
	EvaluationType  string `json:"evaluation_type"`
}

// Record is the durable result of one evaluation run. Aggregate metrics
// are stored alongside the individual results they were computed from,
// so the two can never drift apart.
type Record struct {
	EvaluationInfo     EvaluationInfo             `json:"evaluation_info"`
	AggregateMetrics   evaluator.AggregateMetrics `json:"aggregate_metrics"`
	PerformanceMetrics evaluator.PerfMetrics      `json:"performance_metrics"`
	IndividualResults  []evaluator.Result         `json:"individual_results"`
}

// NewRecord assembles a record for an evaluation run, computing the
// aggregate and performance metrics from the result list.
func NewRecord(evaluationType string, results []evaluator.Result) *Record {
	return &Record{
		EvaluationInfo: EvaluationInfo{
			Timestamp:       time.Now().Format(time.RFC3339),
			TotalDataPoints: len(results),
			EvaluationType:  evaluationType,
		},
		AggregateMetrics:   evaluator.Aggregate(results),
		PerformanceMetrics: evaluator.Performance(results),
		IndividualResults:  results,
	}
}

// Write serializes the record to path, creating parent directories as
// needed.
func Write(path string, record *Record) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}

	slog.Info("results written", "path", path, "data_points", record.EvaluationInfo.TotalDataPoints)
	return nil
}

// Read loads a previously written record.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse results file %s: %w", path, err)
	}

	return &record, nil
}
