package dataset

import (
	"encoding/json"
	"fmt"
)

// TaskDetectionLoader loads data points for the task-detection
// evaluation: given two consecutive screen states and the list of
// active tasks, the model must report which task steps completed.
type TaskDetectionLoader struct {
	// MinScreenDiffLength filters out points whose screen diff carries
	// too little text to detect anything from.
	MinScreenDiffLength int
}

// NewTaskDetectionLoader creates a loader with the default filter.
func NewTaskDetectionLoader() *TaskDetectionLoader {
	return &TaskDetectionLoader{MinScreenDiffLength: 10}
}

func (l *TaskDetectionLoader) Decode(data []byte) (*Point, error) {
	var p Point
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	if p.Timestamp == "" {
		return nil, fmt.Errorf("missing required field: timestamp")
	}
	if p.GroundTruth == nil {
		return nil, fmt.Errorf("missing required field: ground_truth_completed_step_ids")
	}
	if p.ScreenDiff == "" {
		return nil, fmt.Errorf("missing required field: screen_diff_markdown")
	}

	return &p, nil
}

func (l *TaskDetectionLoader) ShouldInclude(p *Point) bool {
	return len(p.ScreenDiff) >= l.MinScreenDiffLength
}

// PromptParams prepares the template parameters for the detect_tasks
// prompt. Absent context fields get explicit placeholder text so the
// prompt never contains empty slots.
func (l *TaskDetectionLoader) PromptParams(p *Point) map[string]string {
	summary := p.PrevPrevSummary
	if summary == "" {
		summary = "No previous summary available"
	}

	url := p.ActiveURL()
	if url == "" {
		url = "No URL available"
	}

	tasks := "[]"
	if len(p.FormattedTasks) > 0 {
		if data, err := json.MarshalIndent(p.FormattedTasks, "", "  "); err == nil {
			tasks = string(data)
		}
	}

	return map[string]string{
		"previous_summary": summary,
		"text":             p.ScreenDiff,
		"active_url":       url,
		"tasks":            tasks,
	}
}

func (l *TaskDetectionLoader) SchemaKey() string {
	return "task_detection.detect_tasks"
}
