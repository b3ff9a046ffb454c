// Package groundtruth generates ground-truth step IDs for data points
// that lack them, using a model behind an OpenAI-compatible chat
// endpoint as the annotator. Generated labels are a bootstrap aid, not
// a substitute for human review.
package groundtruth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/pulseframe/taskeval/internal/dataset"
)

// Generator labels data points via chat completion.
type Generator struct {
	client *openai.Client
	model  string
}

// Option is a functional option for configuring a Generator.
type Option func(*generatorConfig)

type generatorConfig struct {
	baseURL string
	apiKey  string
	model   string
}

// WithBaseURL points the generator at an OpenAI-compatible endpoint,
// such as the local llama.cpp server's /v1 API.
func WithBaseURL(url string) Option {
	return func(c *generatorConfig) {
		c.baseURL = url
	}
}

// WithAPIKey sets the API key. Local servers typically ignore it.
func WithAPIKey(key string) Option {
	return func(c *generatorConfig) {
		c.apiKey = key
	}
}

// WithModel sets the annotator model name.
func WithModel(model string) Option {
	return func(c *generatorConfig) {
		c.model = model
	}
}

// New creates a Generator defaulting to a local server and a
// placeholder API key.
func New(opts ...Option) *Generator {
	cfg := &generatorConfig{
		baseURL: "http://localhost:8012/v1",
		apiKey:  "not-needed",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	config := openai.DefaultConfig(cfg.apiKey)
	config.BaseURL = cfg.baseURL

	return &Generator{
		client: openai.NewClientWithConfig(config),
		model:  cfg.model,
	}
}

// StepIDs asks the annotator model which step IDs were completed in the
// given data point's screen transition.
func (g *Generator) StepIDs(ctx context.Context, p *dataset.Point) ([]int, error) {
	loader := dataset.NewTaskDetectionLoader()
	params := loader.PromptParams(p)

	user := fmt.Sprintf(
		"Previous summary:\n%s\n\nScreen diff:\n%s\n\nActive URL: %s\n\nActive tasks:\n%s",
		params["previous_summary"], params["text"], params["active_url"], params["tasks"],
	)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("ground truth generation failed for %s: %w", p.ID, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned for %s", p.ID)
	}

	return parseStepIDs(resp.Choices[0].Message.Content)
}

// Fill generates ground truth for every point that has none. Points
// that already carry labels are left untouched; per-point failures are
// logged and skipped.
func (g *Generator) Fill(ctx context.Context, points []*dataset.Point) {
	for _, p := range points {
		if len(p.GroundTruth) > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			slog.Warn("ground truth generation cancelled", "remaining", len(points))
			return
		}

		ids, err := g.StepIDs(ctx, p)
		if err != nil {
			slog.Error("skipping ground truth for data point", "id", p.ID, "error", err)
			continue
		}
		p.GroundTruth = ids
		slog.Info("generated ground truth", "id", p.ID, "steps", len(ids))
	}
}

// parseStepIDs extracts the completed step IDs from the model's reply,
// tolerating markdown code fences around the JSON object.
func parseStepIDs(content string) ([]int, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var reply struct {
		Completed []int `json:"completed"`
	}
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("annotator reply is not valid JSON: %w", err)
	}
	if reply.Completed == nil {
		reply.Completed = []int{}
	}
	return reply.Completed, nil
}
