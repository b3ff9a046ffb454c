// Package config loads and validates the harness configuration.
//
// Configuration is layered: generation parameters defined here are the
// defaults layer, which session-level and call-site overrides may shadow
// (later layers win). Validation happens at load time so that bad values
// fail before a server process is ever spawned.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an evaluation run.
type Config struct {
	Server     ServerConfig     `yaml:"server" validate:"required"`
	Model      ModelConfig      `yaml:"model" validate:"required"`
	Generation GenerationConfig `yaml:"generation"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Prompts    PromptsConfig    `yaml:"prompts"`
	Schemas    SchemasConfig    `yaml:"schemas"`
}

// ServerConfig describes the llama.cpp server process and how to reach it.
type ServerConfig struct {
	Executable            string `yaml:"executable" validate:"required"`
	Host                  string `yaml:"host" validate:"required,hostname|ip"`
	Port                  int    `yaml:"port" validate:"required,gt=0,lte=65535"`
	TimeoutSeconds        int    `yaml:"timeout" validate:"gte=0"`
	StartupTimeoutSeconds int    `yaml:"startup_timeout" validate:"gte=0"`
	HealthTimeoutSeconds  int    `yaml:"health_timeout" validate:"gte=0"`
	Parallel              int    `yaml:"parallel" validate:"gte=0"`
}

// BaseURL returns the http base URL of the server.
func (s ServerConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// RequestTimeout is the per-request timeout for generation calls.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// StartupTimeout bounds how long EnsureRunning waits for a freshly
// spawned server to pass its health probe.
func (s ServerConfig) StartupTimeout() time.Duration {
	return time.Duration(s.StartupTimeoutSeconds) * time.Second
}

// HealthTimeout is the short timeout applied to a single health probe.
func (s ServerConfig) HealthTimeout() time.Duration {
	return time.Duration(s.HealthTimeoutSeconds) * time.Second
}

// ModelConfig describes the model file handed to the server at spawn time.
type ModelConfig struct {
	Path        string `yaml:"path" validate:"required"`
	ContextSize int    `yaml:"context_size" validate:"gte=0"`
	GPULayers   int    `yaml:"gpu_layers" validate:"gte=0"`
}

// GenerationConfig holds default generation parameters. All fields are
// optional; unset fields are simply not sent to the server. These form
// the lowest-precedence layer of parameter merging.
type GenerationConfig struct {
	Temperature *float64 `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64 `yaml:"top_p" validate:"omitempty,gt=0,lte=1"`
	TopK        *int     `yaml:"top_k" validate:"omitempty,gt=0"`
	MaxTokens   *int     `yaml:"max_tokens" validate:"omitempty,gt=0"`
}

// Params returns the defaults layer as a parameter map. Only explicitly
// configured values appear, so an unset field never shadows a server-side
// default.
func (g GenerationConfig) Params() map[string]any {
	p := make(map[string]any)
	if g.Temperature != nil {
		p["temperature"] = *g.Temperature
	}
	if g.TopP != nil {
		p["top_p"] = *g.TopP
	}
	if g.TopK != nil {
		p["top_k"] = *g.TopK
	}
	if g.MaxTokens != nil {
		p["n_predict"] = *g.MaxTokens
	}
	return p
}

// EvaluationConfig controls batch evaluation behaviour.
type EvaluationConfig struct {
	ChunkSize          int    `yaml:"chunk_size" validate:"gte=0"`
	ItemTimeoutSeconds int    `yaml:"item_timeout" validate:"gte=0"`
	DefaultWorkers     int    `yaml:"default_workers" validate:"gte=0"`
	OutputPath         string `yaml:"output"`
}

// ItemTimeout is the per-item evaluation deadline.
func (e EvaluationConfig) ItemTimeout() time.Duration {
	return time.Duration(e.ItemTimeoutSeconds) * time.Second
}

// PromptsConfig points at the directory of per-domain prompt YAML files.
type PromptsConfig struct {
	Dir string `yaml:"dir"`
}

// SchemasConfig describes where response schemas come from: a directory
// of JSON files plus inline YAML definitions keyed by evaluation type
// and prompt name. File entries take precedence over inline entries.
type SchemasConfig struct {
	Dir    string                       `yaml:"dir"`
	Inline map[string]map[string]string `yaml:"inline"`
}

// Load reads, decodes, and validates a configuration file. Unknown keys
// are rejected rather than silently dropped.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.TimeoutSeconds == 0 {
		c.Server.TimeoutSeconds = 120
	}
	if c.Server.StartupTimeoutSeconds == 0 {
		c.Server.StartupTimeoutSeconds = 30
	}
	if c.Server.HealthTimeoutSeconds == 0 {
		c.Server.HealthTimeoutSeconds = 2
	}
	if c.Evaluation.ChunkSize == 0 {
		c.Evaluation.ChunkSize = 10
	}
	if c.Evaluation.ItemTimeoutSeconds == 0 {
		c.Evaluation.ItemTimeoutSeconds = 120
	}
	if c.Evaluation.DefaultWorkers == 0 {
		c.Evaluation.DefaultWorkers = 4
	}
	if c.Prompts.Dir == "" {
		c.Prompts.Dir = "prompts"
	}
}
