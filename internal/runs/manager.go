// Package runs executes pipeline runs in the background and keeps their
// status, logs and artifacts for the web UI.
package runs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spigell/resume-crew/internal/logger"
	"github.com/spigell/resume-crew/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrNotFound is returned for unknown run IDs and missing artifacts.
	ErrNotFound = errors.New("not found")
	// ErrUnknownArtifact is returned for file names the pipeline never produces.
	ErrUnknownArtifact = errors.New("unknown artifact")
)

const defaultMaxConcurrent = 2

// Pipeline executes one run. Logs written to log end up in the run log.
type Pipeline func(ctx context.Context, run *Run, log *zap.Logger) error

type Config struct {
	OutputDir     string
	MaxConcurrent int
	// Artifacts lists the output file names a run may serve.
	Artifacts []string
}

type Manager struct {
	cfg      Config
	pipeline Pipeline
	logger   *zap.Logger
	sem      *semaphore.Weighted

	mu   sync.RWMutex
	runs map[string]*Run
	wg   sync.WaitGroup
}

func NewManager(cfg Config, pipeline Pipeline, log *zap.Logger) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   log,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		runs:     make(map[string]*Run),
	}
}

// Start registers a run and executes it in the background. The run waits
// for a free slot while more than MaxConcurrent runs are active. ctx bounds
// the whole run, not just the call.
func (m *Manager) Start(ctx context.Context, req Request) (*Run, error) {
	if strings.TrimSpace(req.ResumeFile) == "" {
		return nil, errors.New("resume file is required")
	}

	id := uuid.NewString()
	dir := filepath.Join(m.cfg.OutputDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	run := newRun(id, req, dir, m.cfg.Artifacts)

	m.mu.Lock()
	m.runs[id] = run
	m.mu.Unlock()

	m.logger.Info("run queued",
		zap.String(logger.FieldRun, id),
		zap.String("company_name", req.CompanyName),
		zap.String("job_url", req.JobURL),
		zap.String("model", req.Model),
	)

	m.wg.Add(1)
	go m.execute(ctx, run)

	return run, nil
}

func (m *Manager) execute(ctx context.Context, run *Run) {
	defer m.wg.Done()

	log := logger.Tee(m.logger, run).With(zap.String(logger.FieldRun, run.ID))

	if err := m.sem.Acquire(ctx, 1); err != nil {
		log.Warn("run cancelled before start", zap.Error(err))
		run.finish(err)
		return
	}
	defer m.sem.Release(1)

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	run.setRunning()
	log.Info("run started")

	err := m.pipeline(ctx, run, log)
	if err != nil {
		log.Error("run failed", zap.Error(err))
	} else {
		log.Info("run completed", zap.Strings("artifacts", run.Artifacts()))
	}

	run.finish(err)
}

// Get returns the run with the given ID.
func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return run, nil
}

// List returns all runs, newest first.
func (m *Manager) List() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs
}

// Wait blocks until every started run has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
