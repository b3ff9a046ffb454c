package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseframe/taskeval/internal/config"
	"github.com/pulseframe/taskeval/internal/promptstore"
	"github.com/pulseframe/taskeval/internal/schemastore"
	"github.com/pulseframe/taskeval/internal/testutil"
)

const detectSchema = `
type: object
properties:
  analysis:
    type: string
  completed:
    type: array
    items:
      type: integer
required:
  - analysis
  - completed
`

func newTestStores(t *testing.T) (*promptstore.Store, *schemastore.Store) {
	t.Helper()

	dir := t.TempDir()
	promptFile := "detect_tasks: |\n"
	for _, line := range []string{
		"  Previous summary: {previous_summary}",
		"  Screen changes: {text}",
		"  Active URL: {active_url}",
		"  Tasks: {tasks}",
		"  Report the completed step IDs.",
	} {
		promptFile += line + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "task-detection.yaml"), []byte(promptFile), 0o644))

	prompts, err := promptstore.New(dir)
	require.NoError(t, err)

	schemas, err := schemastore.New("", map[string]map[string]string{
		"task_detection": {"detect_tasks": detectSchema},
	})
	require.NoError(t, err)

	return prompts, schemas
}

func newTestEvaluator(t *testing.T, mock *testutil.MockGenerator, cfg config.EvaluationConfig) *Evaluator {
	t.Helper()
	prompts, schemas := newTestStores(t)
	return New(mock, prompts, schemas, "task-detection", "detect_tasks", cfg)
}

func testItem(id string, groundTruth []int) Item {
	return Item{
		ID: id,
		PromptParams: map[string]string{
			"previous_summary": "summary for " + id,
			"text":             "screen diff for " + id,
			"active_url":       "https://example.com/" + id,
			"tasks":            "[]",
		},
		SchemaKey:   "task_detection.detect_tasks",
		GroundTruth: groundTruth,
	}
}

func TestEvaluateOneCorrectDetection(t *testing.T) {
	mock := &testutil.MockGenerator{
		DefaultResponse: `{"analysis":"both steps visible","completed":[1,2]}`,
		TokensGenerated: 20,
		TimeTaken:       0.5,
	}

	e := newTestEvaluator(t, mock, config.EvaluationConfig{DefaultWorkers: 1})

	r := e.EvaluateOne(context.Background(), testItem("a", []int{1, 2}))
	assert.Equal(t, "a", r.ItemID)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.True(t, r.Correct)
	assert.Equal(t, []int{1, 2}, r.CompletedSteps)
	assert.Equal(t, "both steps visible", r.Analysis)
	assert.Equal(t, 20, r.TokensGenerated)
	assert.Empty(t, r.Error)
	// The schema must have been passed through to the request.
	assert.NotNil(t, mock.LastRequest.Schema)
}

func TestEvaluateOneSetEqualityIgnoresOrder(t *testing.T) {
	mock := &testutil.MockGenerator{
		DefaultResponse: `{"analysis":"ok","completed":[3,1,2]}`,
	}
	e := newTestEvaluator(t, mock, config.EvaluationConfig{DefaultWorkers: 1})

	r := e.EvaluateOne(context.Background(), testItem("a", []int{1, 2, 3}))
	assert.True(t, r.Correct)
}

func TestEvaluateOnePartialMatchIsIncorrect(t *testing.T) {
	mock := &testutil.MockGenerator{
		DefaultResponse: `{"analysis":"ok","completed":[1]}`,
	}
	e := newTestEvaluator(t, mock, config.EvaluationConfig{DefaultWorkers: 1})

	// Exact set equality only: no partial credit.
	r := e.EvaluateOne(context.Background(), testItem("a", []int{1, 2}))
	assert.False(t, r.Correct)
}

func TestEvaluateOneMalformedJSONIsRecoverable(t *testing.T) {
	mock := &testutil.MockGenerator{DefaultResponse: `not-json`}
	e := newTestEvaluator(t, mock, config.EvaluationConfig{DefaultWorkers: 1})

	r := e.EvaluateOne(context.Background(), testItem("a", []int{}))
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Nil(t, r.Parsed)
	assert.Empty(t, r.CompletedSteps)
	assert.False(t, r.Correct)
	assert.Contains(t, r.Analysis, "failed to parse")
	assert.Empty(t, r.Error)
}

func TestEvaluateOneSchemaAbsentFallsBack(t *testing.T) {
	mock := &testutil.MockGenerator{
		DefaultResponse: `{"analysis":"ok","completed":[]}`,
	}
	e := newTestEvaluator(t, mock, config.EvaluationConfig{DefaultWorkers: 1})

	item := testItem("a", []int{})
	item.SchemaKey = "task_detection.nonexistent"

	r := e.EvaluateOne(context.Background(), item)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Empty(t, r.Error)
	assert.True(t, r.Correct)
	// Unconstrained generation: no schema on the request.
	assert.Nil(t, mock.LastRequest.Schema)
}

func TestEvaluateOnePromptErrorIsPerItemFailure(t *testing.T) {
	mock := &testutil.MockGenerator{}
	e := newTestEvaluator(t, mock, config.EvaluationConfig{DefaultWorkers: 1})

	item := testItem("a", []int{1})
	delete(item.PromptParams, "tasks")

	r := e.EvaluateOne(context.Background(), item)
	assert.Equal(t, StatusFailed, r.Status)
	assert.False(t, r.Correct)
	assert.Contains(t, r.Error, "prompt error")
	assert.Zero(t, mock.Calls)
}

func TestEvaluateBatchPreservesOrderUnderRandomLatency(t *testing.T) {
	mock := &testutil.MockGenerator{
		DefaultResponse: `{"analysis":"ok","completed":[]}`,
		Slots:           4,
		Delay: func() time.Duration {
			// rand's top-level functions are safe for concurrent workers.
			return time.Duration(1+rand.Intn(20)) * time.Millisecond
		},
	}

	e := newTestEvaluator(t, mock, config.EvaluationConfig{DefaultWorkers: 4, ItemTimeoutSeconds: 10})

	items := make([]Item, 12)
	for i := range items {
		items[i] = testItem(fmt.Sprintf("item-%02d", i), []int{})
	}

	results := e.EvaluateBatch(context.Background(), items)
	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, items[i].ID, r.ItemID)
	}
}

func TestEvaluateBatchFailureIsolation(t *testing.T) {
	mock := &testutil.MockGenerator{
		DefaultResponse: `{"analysis":"ok","completed":[]}`,
		FailFor:         map[string]error{"item-03": errors.New("connection reset")},
		Slots:           4,
	}

	e := newTestEvaluator(t, mock, config.EvaluationConfig{DefaultWorkers: 4, ItemTimeoutSeconds: 10})

	items := make([]Item, 8)
	for i := range items {
		items[i] = testItem(fmt.Sprintf("item-%02d", i), []int{})
	}

	results := e.EvaluateBatch(context.Background(), items)
	require.Len(t, results, len(items))

	for i, r := range results {
		if i == 3 {
			assert.Equal(t, StatusFailed, r.Status)
			assert.Contains(t, r.Error, "connection reset")
			assert.False(t, r.Correct)
			continue
		}
		assert.Equal(t, StatusCompleted, r.Status, "sibling item %d must be unaffected", i)
		assert.Empty(t, r.Error)
		assert.True(t, r.Correct)
	}
}

func TestEvaluateBatchSequentialAndParallelAgreeOnContent(t *testing.T) {
	newMock := func(slots int) *testutil.MockGenerator {
		return &testutil.MockGenerator{
			Responses: map[string]string{
				"item-00": `{"analysis":"a0","completed":[1]}`,
				"item-01": `{"analysis":"a1","completed":[2]}`,
				"item-02": `{"analysis":"a2","completed":[]}`,
				"item-03": `{"analysis":"a3","completed":[1,2]}`,
				"item-04": `{"analysis":"a4","completed":[3]}`,
				"item-05": `{"analysis":"a5","completed":[]}`,
			},
			Slots: slots,
		}
	}

	items := make([]Item, 6)
	for i := range items {
		items[i] = testItem(fmt.Sprintf("item-%02d", i), []int{1})
	}

	cfg := config.EvaluationConfig{ItemTimeoutSeconds: 10}

	seq := newTestEvaluator(t, newMock(1), cfg).EvaluateBatch(context.Background(), items)
	par := newTestEvaluator(t, newMock(4), cfg).EvaluateBatch(context.Background(), items)

	require.Len(t, seq, len(items))
	require.Len(t, par, len(items))
	for i := range items {
		assert.Equal(t, seq[i].ItemID, par[i].ItemID)
		assert.Equal(t, seq[i].Analysis, par[i].Analysis)
		assert.Equal(t, seq[i].CompletedSteps, par[i].CompletedSteps)
		assert.Equal(t, seq[i].Correct, par[i].Correct)
	}
}

func TestEvaluateBatchEmptyInput(t *testing.T) {
	e := newTestEvaluator(t, &testutil.MockGenerator{}, config.EvaluationConfig{DefaultWorkers: 2})
	results := e.EvaluateBatch(context.Background(), nil)
	assert.Empty(t, results)
}

func TestEvaluateBatchItemTimeout(t *testing.T) {
	mock := &testutil.MockGenerator{
		DefaultResponse: `{"analysis":"ok","completed":[]}`,
		Delay:           func() time.Duration { return 5 * time.Second },
		Slots:           1,
	}

	e := newTestEvaluator(t, mock, config.EvaluationConfig{ItemTimeoutSeconds: 1})

	items := []Item{testItem("slow", []int{})}
	results := e.EvaluateBatch(context.Background(), items)

	require.Len(t, results, 1)
	assert.Equal(t, StatusTimedOut, results[0].Status)
	assert.Contains(t, results[0].Error, "timed out")
	assert.False(t, results[0].Correct)
}

func TestScenarioMixedCorrectness(t *testing.T) {
	mock := &testutil.MockGenerator{
		Responses: map[string]string{
			"screen diff for a": `{"analysis":"ok","completed":[1,2]}`,
			"screen diff for b": `not-json`,
		},
		Slots: 1,
	}

	e := newTestEvaluator(t, mock, config.EvaluationConfig{ItemTimeoutSeconds: 10})

	items := []Item{
		testItem("a", []int{1, 2}),
		testItem("b", []int{}),
	}

	results := e.EvaluateBatch(context.Background(), items)
	require.Len(t, results, 2)

	assert.True(t, results[0].Correct)
	assert.Nil(t, results[1].Parsed)
	assert.False(t, results[1].Correct)

	agg := Aggregate(results)
	assert.Equal(t, 0.5, agg.SuccessRate)
}

func TestEvaluateBatchChunkedConcatenatesInOrder(t *testing.T) {
	mock := &testutil.MockGenerator{
		DefaultResponse: `{"analysis":"ok","completed":[]}`,
		Slots:           2,
	}

	e := newTestEvaluator(t, mock, config.EvaluationConfig{ItemTimeoutSeconds: 10, ChunkSize: 3})

	items := make([]Item, 7)
	for i := range items {
		items[i] = testItem(fmt.Sprintf("item-%02d", i), []int{})
	}

	results := e.EvaluateBatchChunked(context.Background(), items, 3)
	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, items[i].ID, r.ItemID)
	}
	assert.Equal(t, len(items), mock.Calls)
}

func TestEvaluateBatchChunkedCancellationFillsRemainingSlots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	mock := &testutil.MockGenerator{
		DefaultResponse: `{"analysis":"ok","completed":[]}`,
		Slots:           1,
		Delay: func() time.Duration {
			cancel() // cancel mid-run so the chunk boundary observes it
			return time.Millisecond
		},
	}

	e := newTestEvaluator(t, mock, config.EvaluationConfig{ItemTimeoutSeconds: 10})

	items := make([]Item, 4)
	for i := range items {
		items[i] = testItem(fmt.Sprintf("item-%02d", i), []int{})
	}

	results := e.EvaluateBatchChunked(ctx, items, 2)
	require.Len(t, results, len(items), "output must have one entry per input item")
}

func TestConcurrencyBudgetTracksServerSlots(t *testing.T) {
	e := newTestEvaluator(t, &testutil.MockGenerator{Slots: 3},
		config.EvaluationConfig{DefaultWorkers: 8})
	assert.Equal(t, 3, e.ConcurrencyBudget(context.Background()))
}

func TestConcurrencyBudgetFallsBackToConfig(t *testing.T) {
	e := newTestEvaluator(t, &testutil.MockGenerator{Slots: 0},
		config.EvaluationConfig{DefaultWorkers: 8})
	assert.Equal(t, 8, e.ConcurrencyBudget(context.Background()))
}

func TestConcurrencyBudgetNeverBelowOne(t *testing.T) {
	e := newTestEvaluator(t, &testutil.MockGenerator{}, config.EvaluationConfig{})
	assert.Equal(t, 1, e.ConcurrencyBudget(context.Background()))
}
