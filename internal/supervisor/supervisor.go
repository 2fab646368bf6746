// Package supervisor tracks crawl jobs running as isolated OS processes.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/telemetry"
)

// Sentinel errors returned by job-control operations.
var (
	ErrAlreadyRunning = errors.New("spider is already running")
	ErrNotRunning     = errors.New("spider is not running")
	ErrUnknownSpider  = errors.New("unknown spider")
)

// Process is a launched crawl job. Done is closed when the process exits;
// Err reports the exit error after Done is closed.
type Process interface {
	Signal(sig syscall.Signal) error
	Kill() error
	Done() <-chan struct{}
	Err() error
}

// Launcher spawns one crawl job as an isolated process.
type Launcher interface {
	Launch(ctx context.Context, spider string, params crawler.JobParams) (Process, error)
}

// RunStats aggregates outcomes across a spider's runs.
type RunStats struct {
	TotalRuns      int              `json:"total_runs"`
	SuccessfulRuns int              `json:"successful_runs"`
	FailedRuns     int              `json:"failed_runs"`
	LastRunTime    time.Time        `json:"last_run_time,omitempty"`
	LastRunStatus  crawler.JobState `json:"last_run_status,omitempty"`
}

// Status is the externally visible view of one spider.
type Status struct {
	Spider    string            `json:"spider"`
	JobID     string            `json:"job_id,omitempty"`
	State     crawler.JobState  `json:"state"`
	Params    crawler.JobParams `json:"params,omitempty"`
	StartedAt time.Time         `json:"started_at,omitempty"`
	Stats     RunStats          `json:"stats"`
}

type job struct {
	id        string
	params    crawler.JobParams
	state     crawler.JobState
	startedAt time.Time
	proc      Process
	stopping  bool
}

// Supervisor holds at most one live job per spider name and never blocks
// on the job's own work.
type Supervisor struct {
	mu       sync.Mutex
	spiders  map[string]bool
	jobs     map[string]*job
	starting map[string]bool
	stats    map[string]*RunStats
	launcher Launcher
	grace    time.Duration
	logger   *zap.Logger
}

// New builds a Supervisor over the known spider names.
func New(launcher Launcher, spiders []string, grace time.Duration, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if grace <= 0 {
		grace = 10 * time.Second
	}
	known := make(map[string]bool, len(spiders))
	for _, name := range spiders {
		known[name] = true
	}
	return &Supervisor{
		spiders:  known,
		jobs:     make(map[string]*job),
		starting: make(map[string]bool),
		stats:    make(map[string]*RunStats),
		launcher: launcher,
		grace:    grace,
		logger:   logger,
	}
}

// Start launches a crawl job for the spider and returns its job id. A
// second Start while a job is live returns ErrAlreadyRunning and leaves the
// original run untouched. A failed launch leaves no handle behind.
func (s *Supervisor) Start(ctx context.Context, spider string, params crawler.JobParams) (string, error) {
	s.mu.Lock()
	if !s.spiders[spider] {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownSpider, spider)
	}
	if s.starting[spider] {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, spider)
	}
	if existing, ok := s.jobs[spider]; ok && !existing.state.Terminal() {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, spider)
	}
	// Reserve the name before launching so an overlapping Start cannot
	// pass the check and spawn a second process.
	s.starting[spider] = true
	s.mu.Unlock()

	proc, err := s.launcher.Launch(ctx, spider, params)

	s.mu.Lock()
	delete(s.starting, spider)
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("launch %s: %w", spider, err)
	}
	j := &job{
		id:        uuid.NewString(),
		params:    params,
		state:     crawler.JobStateRunning,
		startedAt: time.Now().UTC(),
		proc:      proc,
	}
	s.jobs[spider] = j
	s.mu.Unlock()

	telemetry.ObserveJobState(string(crawler.JobStateRunning))
	s.logger.Info("crawl job started",
		zap.String("spider", spider),
		zap.String("job_id", j.id),
		zap.String("keyword", params.Keyword),
		zap.Int("max_pages", params.MaxPages))

	go s.observe(spider, j)
	return j.id, nil
}

// observe waits for the process to exit and folds the outcome into the
// spider's aggregate stats.
func (s *Supervisor) observe(spider string, j *job) {
	<-j.proc.Done()
	err := j.proc.Err()

	s.mu.Lock()
	defer s.mu.Unlock()

	state := crawler.JobStateCompleted
	switch {
	case j.stopping:
		state = crawler.JobStateStopped
	case err != nil:
		state = crawler.JobStateFailed
	}
	j.state = state

	agg := s.aggLocked(spider)
	agg.TotalRuns++
	agg.LastRunTime = time.Now().UTC()
	agg.LastRunStatus = state
	switch state {
	case crawler.JobStateCompleted:
		agg.SuccessfulRuns++
	case crawler.JobStateFailed:
		agg.FailedRuns++
	}

	telemetry.ObserveJobState(string(state))
	if err != nil && state == crawler.JobStateFailed {
		s.logger.Warn("crawl job failed", zap.String("spider", spider), zap.Error(err))
	} else {
		s.logger.Info("crawl job finished",
			zap.String("spider", spider),
			zap.String("state", string(state)))
	}
}

// Stop signals a live job to shut down, escalating to a hard kill after
// the grace period.
func (s *Supervisor) Stop(ctx context.Context, spider string) error {
	s.mu.Lock()
	if !s.spiders[spider] {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSpider, spider)
	}
	j, ok := s.jobs[spider]
	if !ok || j.state.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, spider)
	}
	j.stopping = true
	proc := j.proc
	s.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("graceful signal failed, killing",
			zap.String("spider", spider), zap.Error(err))
		return s.kill(spider, proc)
	}

	select {
	case <-proc.Done():
		return nil
	case <-time.After(s.grace):
		s.logger.Warn("grace period elapsed, killing", zap.String("spider", spider))
		return s.kill(spider, proc)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) kill(spider string, proc Process) error {
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill %s: %w", spider, err)
	}
	<-proc.Done()
	return nil
}

// Status reports the spider's current state and aggregate run stats.
func (s *Supervisor) Status(spider string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.spiders[spider] {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownSpider, spider)
	}
	return s.statusLocked(spider), nil
}

// StatusAll reports every known spider.
func (s *Supervisor) StatusAll() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.spiders))
	for name := range s.spiders {
		out = append(out, s.statusLocked(name))
	}
	return out
}

func (s *Supervisor) statusLocked(spider string) Status {
	status := Status{Spider: spider, State: crawler.JobStateIdle, Stats: *s.aggLocked(spider)}
	if j, ok := s.jobs[spider]; ok {
		status.JobID = j.id
		status.State = j.state
		status.Params = j.params
		status.StartedAt = j.startedAt
	}
	return status
}

func (s *Supervisor) aggLocked(spider string) *RunStats {
	agg, ok := s.stats[spider]
	if !ok {
		agg = &RunStats{}
		s.stats[spider] = agg
	}
	return agg
}
