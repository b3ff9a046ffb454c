// Package llama manages a llama.cpp inference server: process lifecycle
// (probe, adopt, spawn, teardown) and schema-constrained generation
// requests against it.
package llama

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pulseframe/taskeval/internal/config"
)

// Generator is the single operation the evaluation engine needs from an
// inference backend. Implemented by Client; tests substitute mocks.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest describes one generation call. A non-nil Schema asks
// the server for schema-constrained JSON output. Overrides are the
// highest-precedence parameter layer for this call only.
type GenerateRequest struct {
	Prompt    string
	Schema    map[string]any
	Overrides map[string]any
}

// GenerateResponse holds the raw model output and timing fields.
// Content is returned verbatim; decoding it as JSON is the caller's
// responsibility so a malformed response can degrade gracefully.
type GenerateResponse struct {
	Content         string  `json:"content"`
	TokensGenerated int     `json:"tokens_generated"`
	TimeTaken       float64 `json:"time_taken"`
	TokensPerSecond float64 `json:"tokens_per_second"`
}

// serverProps is the subset of the server's /props payload we read.
type serverProps struct {
	TotalSlots int `json:"total_slots"`
}

// Client talks to a llama.cpp server over HTTP and supervises the
// backing process. Session parameter mutation is not safe concurrently
// with in-flight Generate calls; callers must set session params before
// dispatching a batch.
type Client struct {
	server   config.ServerConfig
	model    config.ModelConfig
	defaults map[string]any
	session  map[string]any

	http    *resty.Client
	locator ProcessLocator

	state       State
	selfStarted bool
	cmd         *exec.Cmd

	// startFn spawns the server process; replaced in tests.
	startFn func() error
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithLocator sets the process locator used for server adoption.
func WithLocator(l ProcessLocator) Option {
	return func(c *Client) {
		c.locator = l
	}
}

// WithHTTPClient sets the underlying resty client.
func WithHTTPClient(hc *resty.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a Client for the configured server and model.
// defaults is the lowest-precedence generation parameter layer.
func NewClient(server config.ServerConfig, model config.ModelConfig, defaults map[string]any, opts ...Option) *Client {
	c := &Client{
		server:   server,
		model:    model,
		defaults: defaults,
		session:  make(map[string]any),
		locator:  OSLocator{},
		state:    StateUnknown,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = resty.New().
			SetBaseURL(server.BaseURL()).
			SetTimeout(server.RequestTimeout()).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				// Retry only on connection failures, never on HTTP errors:
				// a non-2xx is a per-item failure, not a transient fault.
				return err != nil
			})
	}
	c.startFn = c.startProcess
	return c
}

// State returns the observed server lifecycle state.
func (c *Client) State() State {
	return c.state
}

// SelfStarted reports whether this client spawned the server process it
// is using and is therefore responsible for terminating it.
func (c *Client) SelfStarted() bool {
	return c.selfStarted
}

// SetSessionParams merges params into the session override layer.
func (c *Client) SetSessionParams(params map[string]any) {
	for k, v := range params {
		c.session[k] = v
	}
}

// ClearSessionParams drops all session overrides.
func (c *Client) ClearSessionParams() {
	c.session = make(map[string]any)
}

// EnsureRunning makes sure a healthy server is reachable. It is
// idempotent: a healthy server short-circuits, an existing process is
// adopted (and never killed on teardown), and only as a last resort is
// a new process spawned and health-polled up to the startup timeout.
func (c *Client) EnsureRunning(ctx context.Context) bool {
	c.state = StateProbing

	if c.healthy(ctx) {
		slog.Debug("server already healthy", "url", c.server.BaseURL())
		c.state = StateRunning
		return true
	}

	pid, found, err := c.locator.FindServer(c.server.Executable)
	if err != nil {
		slog.Warn("process scan failed", "error", err)
	}
	if found {
		slog.Info("adopted existing server process", "pid", pid)
		c.state = StateRunning
		return true
	}

	if err := c.startFn(); err != nil {
		slog.Error("failed to start server", "error", err)
		c.state = StateStopped
		return false
	}
	c.selfStarted = true

	deadline := time.Now().Add(c.server.StartupTimeout())
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		if c.healthy(ctx) {
			slog.Info("server started", "url", c.server.BaseURL())
			c.state = StateRunning
			return true
		}
		time.Sleep(time.Second)
	}

	slog.Error("server failed to become healthy within startup timeout",
		"timeout", c.server.StartupTimeout(),
	)
	return false
}

// Shutdown terminates the server, but only if this client spawned it.
// An adopted or externally managed server is left alone. Shutdown never
// fails; problems are logged.
func (c *Client) Shutdown() {
	if !c.selfStarted || c.cmd == nil || c.cmd.Process == nil {
		return
	}

	c.state = StateStopping
	slog.Info("stopping server", "pid", c.cmd.Process.Pid)

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("failed to signal server", "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case <-done:
		slog.Info("server stopped")
	case <-time.After(5 * time.Second):
		if err := c.cmd.Process.Kill(); err != nil {
			slog.Error("failed to kill server", "error", err)
		} else {
			slog.Info("server force killed")
		}
		<-done
	}
	c.state = StateStopped
}

// Generate issues a completion request, starting the server first if
// needed. Parameters merge defaults < session < call-site overrides,
// later layers winning on key collision.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if c.state != StateRunning {
		if !c.EnsureRunning(ctx) {
			return nil, ErrServerUnavailable
		}
	}

	body := make(map[string]any)
	for k, v := range c.defaults {
		body[k] = v
	}
	for k, v := range c.session {
		body[k] = v
	}
	for k, v := range req.Overrides {
		body[k] = v
	}
	body["prompt"] = req.Prompt
	body["stream"] = false

	if req.Schema != nil {
		body["response_format"] = map[string]any{
			"type":   "json_object",
			"schema": req.Schema,
		}
	}

	var out GenerateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/completion")
	if err != nil {
		return nil, &GenerationError{Cause: err}
	}
	if resp.IsError() {
		return nil, &GenerationError{StatusCode: resp.StatusCode()}
	}

	if out.TokensPerSecond == 0 && out.TimeTaken > 0 {
		out.TokensPerSecond = float64(out.TokensGenerated) / out.TimeTaken
	}

	return &out, nil
}

// ParallelSlots reports how many sequences the server decodes
// concurrently, read from the server's /props endpoint. Returns the
// configured value when the endpoint is unavailable, and 0 when the
// count is unknown entirely.
func (c *Client) ParallelSlots(ctx context.Context) int {
	var props serverProps
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&props).
		Get("/props")
	if err == nil && resp.IsSuccess() && props.TotalSlots > 0 {
		return props.TotalSlots
	}

	slog.Debug("could not read parallel slots from server, using configured value",
		"configured", c.server.Parallel,
	)
	return c.server.Parallel
}

// healthy runs a single short health probe.
func (c *Client) healthy(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.server.HealthTimeout())
	defer cancel()

	resp, err := c.http.R().SetContext(probeCtx).Get("/health")
	return err == nil && resp.StatusCode() == 200
}

// startProcess spawns the server executable with the configured model.
func (c *Client) startProcess() error {
	args := []string{
		"-m", c.model.Path,
		"--host", c.server.Host,
		"--port", strconv.Itoa(c.server.Port),
		"--ctx-size", strconv.Itoa(c.model.ContextSize),
		"--n-gpu-layers", strconv.Itoa(c.model.GPULayers),
	}
	if c.server.Parallel > 0 {
		args = append(args, "-np", strconv.Itoa(c.server.Parallel))
	}

	cmd := exec.Command(c.server.Executable, args...)
	cmd.Dir = filepath.Dir(c.server.Executable)

	slog.Info("starting server", "executable", c.server.Executable, "args", args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn %s: %w", c.server.Executable, err)
	}

	c.cmd = cmd
	return nil
}
