package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateEmptyListIsSafe(t *testing.T) {
	m := Aggregate(nil)
	assert.Equal(t, 0, m.TotalDataPoints)
	assert.Equal(t, 0.0, m.SuccessRate)
	assert.Equal(t, 0.0, m.MeanTokensGenerated)
	assert.Equal(t, 0.0, m.MeanResponseTime)
	assert.Equal(t, 0.0, m.MeanTokensPerSecond)
}

func TestAggregateComputesMeans(t *testing.T) {
	results := []Result{
		{Correct: true, TokensGenerated: 10, ResponseTime: 1.0, TokensPerSecond: 10},
		{Correct: false, TokensGenerated: 30, ResponseTime: 3.0, TokensPerSecond: 10},
		{Correct: true, TokensGenerated: 20, ResponseTime: 2.0, TokensPerSecond: 10, Error: ""},
		{Correct: false, Error: "boom"},
	}

	m := Aggregate(results)
	assert.Equal(t, 4, m.TotalDataPoints)
	assert.Equal(t, 2, m.CorrectCount)
	assert.Equal(t, 0.5, m.SuccessRate)
	assert.Equal(t, 1, m.ErrorCount)
	assert.Equal(t, 15.0, m.MeanTokensGenerated)
	assert.Equal(t, 1.5, m.MeanResponseTime)
	assert.Equal(t, 7.5, m.MeanTokensPerSecond)
}

func TestPerformanceSpeedup(t *testing.T) {
	results := []Result{
		{ResponseTime: 1.0},
		{ResponseTime: 2.0},
		{ResponseTime: 4.0},
	}

	p := Performance(results)
	assert.Equal(t, 7.0, p.TotalResponseTime)
	assert.Equal(t, 7.0, p.SequentialTime)
	assert.Equal(t, 4.0, p.ParallelTime)
	assert.InDelta(t, 1.75, p.Speedup, 1e-9)
}

func TestPerformanceZeroParallelTimeYieldsUnitSpeedup(t *testing.T) {
	p := Performance(nil)
	assert.Equal(t, 0.0, p.ParallelTime)
	assert.Equal(t, 1.0, p.Speedup)

	p = Performance([]Result{{ResponseTime: 0}})
	assert.Equal(t, 1.0, p.Speedup)
}
