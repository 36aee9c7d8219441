package crew

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingInput is returned by Kickoff when a referenced input is not supplied.
	ErrMissingInput = errors.New("missing crew input")
	// ErrInvalidOutput is returned when a structured answer never matched its schema.
	ErrInvalidOutput = errors.New("invalid task output")
)

// TaskError reports the task that stopped the pipeline.
type TaskError struct {
	Task  string
	Agent string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (agent %s): %v", e.Task, e.Agent, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

type EventKind string

const (
	EventTaskStarted   EventKind = "task_started"
	EventToolUsed      EventKind = "tool_used"
	EventTaskCompleted EventKind = "task_completed"
	EventTaskFailed    EventKind = "task_failed"
)

// Event describes pipeline progress. Index is the zero-based task position.
type Event struct {
	Kind     EventKind
	Task     string
	Agent    string
	Tool     string
	Index    int
	Total    int
	Duration time.Duration
	Err      error
}

// Observer receives events synchronously. Tool events may be delivered from
// concurrent goroutines.
type Observer func(Event)
