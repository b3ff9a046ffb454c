// Package dataset loads evaluation data points from recorded screen-state
// snapshots on disk. A Loader implementation defines, per evaluation
// type, how a raw file becomes a Point, which points qualify, and how a
// point turns into prompt parameters.
package dataset

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Point is a single evaluation data point: one recorded screen-state
// transition plus the ground-truth step IDs a correct detection should
// produce. Immutable once loaded.
type Point struct {
	ID              string
	Timestamp       string           `json:"timestamp"`
	GroundTruth     []int            `json:"ground_truth_completed_step_ids"`
	PrevPrevState   map[string]any   `json:"prev_prev_screen_state"`
	PrevPrevSummary string           `json:"prev_prev_summary"`
	PrevState       map[string]any   `json:"prev_screen_state"`
	ScreenDiff      string           `json:"screen_diff_markdown"`
	ActiveTasks     []map[string]any `json:"active_tasks"`
	FormattedTasks  []map[string]any `json:"formatted_tasks"`
}

// ActiveURL returns the active URL recorded in the previous screen
// state, or empty when none was captured.
func (p *Point) ActiveURL() string {
	if p.PrevState == nil {
		return ""
	}
	url, _ := p.PrevState["active_url"].(string)
	return url
}

// Loader defines the per-evaluation-type behaviour of data loading.
type Loader interface {
	// Decode parses one raw data file into a Point.
	Decode(data []byte) (*Point, error)

	// ShouldInclude reports whether the point qualifies for evaluation.
	ShouldInclude(p *Point) bool

	// PromptParams converts a point into named prompt template parameters.
	PromptParams(p *Point) map[string]string

	// SchemaKey names the response schema for this evaluation type.
	SchemaKey() string
}

// LoadFile loads a single data file through the loader. The point's ID
// is the filename without extension.
func LoadFile(path string, loader Loader) (*Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file %s: %w", path, err)
	}

	p, err := loader.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data file %s: %w", path, err)
	}

	base := filepath.Base(path)
	p.ID = base[:len(base)-len(filepath.Ext(base))]
	return p, nil
}

// LoadDir loads all files in dir matching pattern, in sorted filename
// order. Files that fail to decode or do not qualify are skipped with a
// log line rather than failing the load; the evaluation should run on
// whatever valid data exists.
func LoadDir(dir, pattern string, loader Loader) ([]*Point, error) {
	if pattern == "" {
		pattern = "*.json"
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid data file pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	slog.Info("loading evaluation data", "dir", dir, "files", len(matches))

	var points []*Point
	for _, path := range matches {
		p, err := LoadFile(path, loader)
		if err != nil {
			slog.Error("skipping data file", "file", path, "error", err)
			continue
		}
		if !loader.ShouldInclude(p) {
			slog.Debug("filtered out data point", "id", p.ID)
			continue
		}
		points = append(points, p)
	}

	return points, nil
}

// Stats summarizes a loaded dataset.
type Stats struct {
	Total          int     `json:"total"`
	WithSummary    int     `json:"with_summary"`
	WithPrevState  int     `json:"with_prev_state"`
	MinSteps       int     `json:"min_steps"`
	MaxSteps       int     `json:"max_steps"`
	MeanSteps      float64 `json:"mean_steps"`
	WithActiveTask int     `json:"with_active_tasks"`
}

// ComputeStats derives summary statistics from a set of points.
func ComputeStats(points []*Point) Stats {
	s := Stats{Total: len(points)}
	if len(points) == 0 {
		return s
	}

	s.MinSteps = len(points[0].GroundTruth)
	total := 0
	for _, p := range points {
		n := len(p.GroundTruth)
		total += n
		if n < s.MinSteps {
			s.MinSteps = n
		}
		if n > s.MaxSteps {
			s.MaxSteps = n
		}
		if p.PrevPrevSummary != "" {
			s.WithSummary++
		}
		if p.PrevState != nil {
			s.WithPrevState++
		}
		if len(p.ActiveTasks) > 0 {
			s.WithActiveTask++
		}
	}
	s.MeanSteps = float64(total) / float64(len(points))

	return s
}
