// Package evaluator turns evaluation items into scored results using a
// bounded worker pool whose size tracks the inference server's own
// parallelism. Output order always matches input order, and any failure
// that can be localized to one item is localized to one item.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulseframe/taskeval/internal/config"
	"github.com/pulseframe/taskeval/internal/llama"
	"github.com/pulseframe/taskeval/internal/promptstore"
	"github.com/pulseframe/taskeval/internal/schemastore"
)

// Item is one unit of evaluation work. Items are owned by the caller
// and read-only to the engine.
type Item struct {
	ID           string
	PromptParams map[string]string
	SchemaKey    string
	GroundTruth  []int // nil when no ground truth exists
}

// Terminal states of a single item's evaluation.
const (
	StatusCompleted = "completed"
	StatusTimedOut  = "timed_out"
	StatusFailed    = "failed"
)

// Result is the outcome of evaluating one item. Parsed is nil when the
// model output was not valid JSON; that is a recoverable condition, not
// an error. Exactly one of a successful parse or Error determines
// Correct: any error forces Correct=false with an empty step list.
type Result struct {
	ItemID          string         `json:"data_point_id"`
	Status          string         `json:"status"`
	Parsed          map[string]any `json:"parsed"`
	Analysis        string         `json:"analysis"`
	CompletedSteps  []int          `json:"completed_steps"`
	Correct         bool           `json:"correct"`
	TokensGenerated int            `json:"tokens_generated"`
	ResponseTime    float64        `json:"response_time"`
	TokensPerSecond float64        `json:"tokens_per_second"`
	Error           string         `json:"error,omitempty"`
}

// SlotsReporter is implemented by clients that can report the server's
// configured parallel sequence count.
type SlotsReporter interface {
	ParallelSlots(ctx context.Context) int
}

// Evaluator maps evaluation items to results through an inference
// backend, a prompt store, and a schema store.
type Evaluator struct {
	client       llama.Generator
	prompts      *promptstore.Store
	schemas      *schemastore.Store
	promptDomain string
	promptName   string
	cfg          config.EvaluationConfig
}

// New creates an Evaluator. promptDomain and promptName select the
// template used to format every item's prompt inputs.
func New(client llama.Generator, prompts *promptstore.Store, schemas *schemastore.Store, promptDomain, promptName string, cfg config.EvaluationConfig) *Evaluator {
	return &Evaluator{
		client:       client,
		prompts:      prompts,
		schemas:      schemas,
		promptDomain: promptDomain,
		promptName:   promptName,
		cfg:          cfg,
	}
}

// ConcurrencyBudget returns the worker-pool size for batch evaluation:
// the server's parallel slot count when the client can report it, the
// configured default otherwise. Oversubscribing the server's slots only
// adds queueing delay, and undersubscribing wastes capacity, so the
// bound tracks the server rather than a client-side constant.
func (e *Evaluator) ConcurrencyBudget(ctx context.Context) int {
	if reporter, ok := e.client.(SlotsReporter); ok {
		if slots := reporter.ParallelSlots(ctx); slots > 0 {
			return slots
		}
	}
	if e.cfg.DefaultWorkers > 0 {
		return e.cfg.DefaultWorkers
	}
	return 1
}

// EvaluateOne evaluates a single item. It never returns an error:
// prompt, transport, and parse failures all become failure results so
// one bad item cannot abort a batch.
func (e *Evaluator) EvaluateOne(ctx context.Context, item Item) Result {
	start := time.Now()

	prompt, err := e.prompts.Get(e.promptDomain, e.promptName, item.PromptParams)
	if err != nil {
		slog.Error("prompt formatting failed", "item", item.ID, "error", err)
		return failureResult(item, StatusFailed, fmt.Sprintf("prompt error: %v", err), time.Since(start))
	}

	var schema map[string]any
	if item.SchemaKey != "" {
		schema = e.schemas.Get(item.SchemaKey)
		if schema == nil {
			slog.Warn("schema not found, using unconstrained generation",
				"item", item.ID,
				"schema_key", item.SchemaKey,
			)
		}
	}

	resp, err := e.client.Generate(ctx, llama.GenerateRequest{
		Prompt: prompt,
		Schema: schema,
	})
	if err != nil {
		slog.Error("generation failed", "item", item.ID, "error", err)
		return failureResult(item, StatusFailed, err.Error(), time.Since(start))
	}

	result := Result{
		ItemID:          item.ID,
		Status:          StatusCompleted,
		CompletedSteps:  []int{},
		TokensGenerated: resp.TokensGenerated,
		ResponseTime:    resp.TimeTaken,
		TokensPerSecond: resp.TokensPerSecond,
	}
	if result.ResponseTime == 0 {
		result.ResponseTime = time.Since(start).Seconds()
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		slog.Warn("model output is not valid JSON", "item", item.ID, "error", err)
		result.Analysis = fmt.Sprintf("failed to parse model output as JSON: %v", err)
		return result
	}

	result.Parsed = parsed
	result.Analysis, _ = parsed["analysis"].(string)
	result.CompletedSteps = intSlice(parsed["completed"])

	if item.GroundTruth != nil {
		result.Correct = sameStepSet(result.CompletedSteps, item.GroundTruth)
	}

	return result
}

// EvaluateBatch evaluates all items and returns results in input order
// regardless of completion order. Small batches run sequentially; larger
// ones use a worker pool bounded by ConcurrencyBudget. A per-item
// timeout yields a synthetic failure result for that slot without
// cancelling sibling items.
func (e *Evaluator) EvaluateBatch(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))
	if len(items) == 0 {
		return results
	}

	budget := e.ConcurrencyBudget(ctx)
	if budget <= 1 || len(items) <= budget {
		slog.Info("evaluating batch sequentially", "items", len(items))
		for i, item := range items {
			results[i] = e.evaluateWithTimeout(ctx, item)
		}
		return results
	}

	slog.Info("evaluating batch in parallel", "items", len(items), "workers", budget)

	var wg sync.WaitGroup
	sem := make(chan struct{}, budget)
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item Item) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.evaluateWithTimeout(ctx, item)
		}(i, item)
	}
	wg.Wait()

	return results
}

// EvaluateBatchChunked splits items into sequential chunks and runs
// EvaluateBatch on each, with a short pause between chunks to bound the
// peak queued-request count against the server. Per-item semantics are
// unchanged; results concatenate in chunk order.
func (e *Evaluator) EvaluateBatchChunked(ctx context.Context, items []Item, chunkSize int) []Result {
	if chunkSize <= 0 {
		chunkSize = e.cfg.ChunkSize
	}
	if chunkSize <= 0 || chunkSize >= len(items) {
		return e.EvaluateBatch(ctx, items)
	}

	results := make([]Result, 0, len(items))
	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}

		slog.Info("evaluating chunk",
			"from", start,
			"to", end,
			"total", len(items),
		)
		results = append(results, e.EvaluateBatch(ctx, items[start:end])...)

		if end < len(items) {
			select {
			case <-ctx.Done():
				// Fill remaining slots with cancellation results so the
				// output still has one entry per input item.
				for _, item := range items[end:] {
					results = append(results, failureResult(item, StatusFailed, "evaluation cancelled", 0))
				}
				return results
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	return results
}

// evaluateWithTimeout bounds how long the engine waits for one item.
// On timeout the slot gets a synthetic failure result; the in-flight
// request is not cancelled -- the server may still finish the work, the
// engine just stops waiting for it.
func (e *Evaluator) evaluateWithTimeout(ctx context.Context, item Item) Result {
	timeout := e.cfg.ItemTimeout()
	if timeout <= 0 {
		return e.EvaluateOne(ctx, item)
	}

	done := make(chan Result, 1)
	start := time.Now()
	go func() {
		done <- e.EvaluateOne(ctx, item)
	}()

	select {
	case r := <-done:
		return r
	case <-time.After(timeout):
		slog.Error("item evaluation timed out", "item", item.ID, "timeout", timeout)
		return failureResult(item, StatusTimedOut,
			fmt.Sprintf("evaluation timed out after %s", timeout), time.Since(start))
	}
}

func failureResult(item Item, status, errMsg string, elapsed time.Duration) Result {
	return Result{
		ItemID:         item.ID,
		Status:         status,
		CompletedSteps: []int{},
		ResponseTime:   elapsed.Seconds(),
		Error:          errMsg,
	}
}

// intSlice coerces a decoded JSON array into []int, dropping anything
// that is not a number.
func intSlice(v any) []int {
	raw, ok := v.([]any)
	if !ok {
		return []int{}
	}
	out := make([]int, 0, len(raw))
	for _, e := range raw {
		if f, ok := e.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}

// sameStepSet reports set equality between detected and ground-truth
// step IDs. Exact match only: partial credit is deliberately not a
// thing here.
func sameStepSet(got, want []int) bool {
	gotSet := make(map[int]struct{}, len(got))
	for _, v := range got {
		gotSet[v] = struct{}{}
	}
	wantSet := make(map[int]struct{}, len(want))
	for _, v := range want {
		wantSet[v] = struct{}{}
	}
	if len(gotSet) != len(wantSet) {
		return false
	}
	for v := range wantSet {
		if _, ok := gotSet[v]; !ok {
			return false
		}
	}
	return true
}
