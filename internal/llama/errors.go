package llama

import (
	"errors"
	"fmt"
)

// ErrServerUnavailable is returned when the server cannot be reached and
// cannot be started within the startup timeout. This is the only failure
// that is fatal to a whole evaluation run.
var ErrServerUnavailable = errors.New("inference server unavailable")

// GenerationError reports a failed generation request: a transport error
// or a non-2xx response. It is recoverable; the evaluator converts it
// into a per-item failure result.
type GenerationError struct {
	StatusCode int
	Cause      error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("generation request failed: %v", e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// State tracks the lifecycle of the backing server process as observed
// by this client.
type State int

const (
	StateUnknown State = iota
	StateProbing
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
