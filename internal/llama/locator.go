package llama

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessLocator finds an already-running server process so the client
// can adopt it instead of spawning a second one. The OS-specific scan
// lives behind this interface so it can be swapped per platform and
// faked in tests.
type ProcessLocator interface {
	// FindServer returns the PID of a running process matching the
	// executable, or found=false when none exists.
	FindServer(executable string) (pid int32, found bool, err error)
}

// OSLocator scans the process table for the server executable by name
// or command line.
type OSLocator struct{}

func (OSLocator) FindServer(executable string) (int32, bool, error) {
	target := filepath.Base(executable)

	procs, err := process.Processes()
	if err != nil {
		return 0, false, fmt.Errorf("failed to list processes: %w", err)
	}

	for _, p := range procs {
		name, err := p.Name()
		if err == nil && strings.Contains(name, target) {
			return p.Pid, true, nil
		}
		// Name can be truncated on some platforms; fall back to cmdline.
		cmdline, err := p.Cmdline()
		if err == nil && strings.Contains(cmdline, target) {
			return p.Pid, true, nil
		}
	}
	return 0, false, nil
}
