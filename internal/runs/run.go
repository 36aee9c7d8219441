package runs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/spigell/resume-crew/internal/crew"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const subscriberBuffer = 256

// Request holds the inputs of one pipeline run.
type Request struct {
	JobURL      string
	CompanyName string
	// ResumeFile is the stored upload.
	ResumeFile string
	Model      string
}

// Inputs returns the crew kickoff inputs.
func (r Request) Inputs() map[string]string {
	return map[string]string{
		"job_url":      r.JobURL,
		"company_name": r.CompanyName,
	}
}

// Progress reports how far the pipeline got.
type Progress struct {
	Task      string
	Agent     string
	Completed int
	Total     int
}

// Run is one pipeline execution. It implements io.Writer so a logger can
// stream its output into the run log.
type Run struct {
	ID        string
	Request   Request
	Dir       string
	CreatedAt time.Time

	artifacts []string

	mu         sync.Mutex
	status     Status
	err        string
	finishedAt time.Time
	progress   Progress
	lines      []string
	partial    []byte
	subs       map[chan string]struct{}
	done       chan struct{}
}

func newRun(id string, req Request, dir string, artifacts []string) *Run {
	return &Run{
		ID:        id,
		Request:   req,
		Dir:       dir,
		CreatedAt: time.Now(),
		artifacts: artifacts,
		status:    StatusPending,
		subs:      make(map[chan string]struct{}),
		done:      make(chan struct{}),
	}
}

// Write appends complete lines to the run log and forwards them to subscribers.
func (r *Run) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial = append(r.partial, p...)
	for {
		idx := bytes.IndexByte(r.partial, '\n')
		if idx == -1 {
			break
		}
		r.appendLine(string(bytes.TrimRight(r.partial[:idx], "\r")))
		r.partial = r.partial[idx+1:]
	}
	return len(p), nil
}

// Logf appends a formatted line to the run log.
func (r *Run) Logf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLine(fmt.Sprintf(format, args...))
}

func (r *Run) appendLine(line string) {
	r.lines = append(r.lines, line)
	for ch := range r.subs {
		select {
		case ch <- line:
		default:
			// A full buffer ends the subscription rather than losing lines.
			delete(r.subs, ch)
			close(ch)
		}
	}
}

// Subscribe returns the log so far and a channel with the lines that follow.
// The channel is closed when the run ends, when cancel is called, or when the
// subscriber falls more than subscriberBuffer lines behind. In the last case
// Done is still open and the subscriber has to subscribe again to get the
// full log.
func (r *Run) Subscribe() (history []string, updates <-chan string, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history = slices.Clone(r.lines)
	ch := make(chan string, subscriberBuffer)

	if r.finished() {
		close(ch)
		return history, ch, func() {}
	}

	r.subs[ch] = struct{}{}
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.subs[ch]; ok {
				delete(r.subs, ch)
				close(ch)
			}
		})
	}
	return history, ch, cancel
}

// Observe records pipeline progress. It is passed to the crew as its observer.
func (r *Run) Observe(e crew.Event) {
	switch e.Kind {
	case crew.EventTaskStarted:
		r.mu.Lock()
		r.progress = Progress{Task: e.Task, Agent: e.Agent, Completed: e.Index, Total: e.Total}
		r.mu.Unlock()
	case crew.EventTaskCompleted:
		r.mu.Lock()
		r.progress.Completed = e.Index + 1
		r.progress.Total = e.Total
		r.mu.Unlock()
	}
}

func (r *Run) setRunning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusRunning
}

func (r *Run) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.partial) > 0 {
		r.appendLine(string(r.partial))
		r.partial = nil
	}

	r.status = StatusCompleted
	if err != nil {
		r.status = StatusFailed
		r.err = err.Error()
	}
	r.finishedAt = time.Now()

	// Done first, so a closed subscription on a finished run is never
	// mistaken for a lagging one.
	close(r.done)
	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
}

// InputDir is where the run keeps its converted inputs.
func (r *Run) InputDir() string {
	return filepath.Join(r.Dir, "input")
}

func (r *Run) finished() bool {
	return r.status == StatusCompleted || r.status == StatusFailed
}

func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the failure message of a failed run.
func (r *Run) Err() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// FinishedAt is zero until the run ends.
func (r *Run) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

// Lines returns a copy of the run log.
func (r *Run) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.lines)
}

// Done is closed when the run ends.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Artifact returns the path of a produced output file. Only the names the
// pipeline declares are served.
func (r *Run) Artifact(name string) (string, error) {
	if !slices.Contains(r.artifacts, name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownArtifact, name)
	}

	path := filepath.Join(r.Dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	return path, nil
}

// Artifacts returns the declared output files that exist so far.
func (r *Run) Artifacts() []string {
	var names []string
	for _, name := range r.artifacts {
		if _, err := os.Stat(filepath.Join(r.Dir, name)); err == nil {
			names = append(names, name)
		}
	}
	return names
}

// ReadArtifact returns the content of a produced output file.
func (r *Run) ReadArtifact(name string) ([]byte, error) {
	path, err := r.Artifact(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
