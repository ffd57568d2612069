// Package scheduler runs the engine's periodic jobs. Each job gets its
// own serialized loop: a run must finish before the next tick fires,
// panics are contained, and consecutive failures raise a one-shot
// alert at the configured threshold.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/observability"
)

// Job is a periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// RunOnStart fires the job immediately when the scheduler starts.
	RunOnStart bool
	Fn         func(ctx context.Context) error
}

// JobHealth is a snapshot of one job's recent history.
type JobHealth struct {
	Name          string     `json:"name"`
	Runs          int64      `json:"runs"`
	Failures      int64      `json:"failures"`
	FailureStreak int        `json:"failureStreak"`
	LastRun       *time.Time `json:"lastRun,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// AlertFunc receives failure-streak and recovery events.
type AlertFunc func(job string, streak int, err error)

// Scheduler owns the job loops.
type Scheduler struct {
	jobs             []Job
	failureThreshold int
	metrics          *observability.Metrics
	logger           *zap.Logger

	// OnFailureStreak fires once when a job's consecutive failures
	// reach the threshold. OnRecovery fires when such a job next
	// succeeds.
	OnFailureStreak AlertFunc
	OnRecovery      AlertFunc

	mu     sync.Mutex
	health map[string]*JobHealth

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a scheduler. metrics may be nil.
func New(failureThreshold int, metrics *observability.Metrics, logger *zap.Logger) *Scheduler {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &Scheduler{
		failureThreshold: failureThreshold,
		metrics:          metrics,
		logger:           logger.Named("scheduler"),
		health:           make(map[string]*JobHealth),
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
	s.mu.Lock()
	s.health[job.Name] = &JobHealth{Name: job.Name}
	s.mu.Unlock()
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop cancels all job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Health returns a snapshot of every job's state.
func (s *Scheduler) Health() []JobHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobHealth, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *s.health[job.Name])
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	if job.RunOnStart {
		s.runOnce(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	err := s.execute(ctx, job)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(job.Name).Inc()
		s.metrics.JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
		if err != nil {
			s.metrics.JobFailures.WithLabelValues(job.Name).Inc()
		}
	}

	s.mu.Lock()
	h := s.health[job.Name]
	now := start.UTC()
	h.Runs++
	h.LastRun = &now

	if err != nil {
		h.Failures++
		h.FailureStreak++
		h.LastError = err.Error()
		streak := h.FailureStreak
		s.mu.Unlock()

		s.logger.Error("job failed",
			zap.String("job", job.Name),
			zap.Int("streak", streak),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		if streak == s.failureThreshold && s.OnFailureStreak != nil {
			s.OnFailureStreak(job.Name, streak, err)
		}
		return
	}

	recovered := h.FailureStreak >= s.failureThreshold
	h.FailureStreak = 0
	h.LastError = ""
	s.mu.Unlock()

	s.logger.Debug("job completed",
		zap.String("job", job.Name),
		zap.Duration("elapsed", elapsed))
	if recovered && s.OnRecovery != nil {
		s.OnRecovery(job.Name, 0, nil)
	}
}

// execute runs the job with panic containment.
func (s *Scheduler) execute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			s.logger.Error("job panic recovered",
				zap.String("job", job.Name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	return job.Fn(ctx)
}
