// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pulseframe/taskeval/internal/llama"
)

// MockGenerator is a configurable test double for llama.Generator.
// It is safe for concurrent use so batch-evaluation tests can exercise
// the worker pool against it.
type MockGenerator struct {
	mu sync.Mutex

	// Responses maps a prompt substring to canned response content.
	// The first matching entry wins.
	Responses map[string]string

	// FailFor maps a prompt substring to an error returned instead of
	// a response, for failure-isolation tests.
	FailFor map[string]error

	// DefaultResponse is returned when no entry in Responses matches.
	DefaultResponse string

	// Delay, when set, is called per request to inject latency.
	Delay func() time.Duration

	// Slots is reported via ParallelSlots.
	Slots int

	// Calls counts Generate invocations.
	Calls int

	// LastRequest stores the most recent request for inspection.
	LastRequest llama.GenerateRequest

	// TokensGenerated and TimeTaken populate the mock response timing.
	TokensGenerated int
	TimeTaken       float64
}

func (m *MockGenerator) Generate(ctx context.Context, req llama.GenerateRequest) (*llama.GenerateResponse, error) {
	m.mu.Lock()
	m.Calls++
	m.LastRequest = req
	delay := m.Delay
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay()):
		}
	}

	for substr, err := range m.FailFor {
		if strings.Contains(req.Prompt, substr) {
			return nil, err
		}
	}

	content := m.DefaultResponse
	for substr, resp := range m.Responses {
		if strings.Contains(req.Prompt, substr) {
			content = resp
			break
		}
	}
	if content == "" {
		content = `{"analysis":"mock analysis","completed":[]}`
	}

	resp := &llama.GenerateResponse{
		Content:         content,
		TokensGenerated: m.TokensGenerated,
		TimeTaken:       m.TimeTaken,
	}
	if resp.TimeTaken > 0 {
		resp.TokensPerSecond = float64(resp.TokensGenerated) / resp.TimeTaken
	}
	return resp, nil
}

// ParallelSlots implements the slot-reporting interface the evaluator
// derives its concurrency budget from.
func (m *MockGenerator) ParallelSlots(_ context.Context) int {
	return m.Slots
}
