/*
Package jobs runs the periodic maintenance sweeps.

PURPOSE:
  The duplicate cleaner and the idle shift closer run on cron schedules
  and on demand (admin endpoint, maintenance bus topics). A job never
  overlaps itself, whichever way it was started.

DESIGN:
  - robfig/cron with Recover and SkipIfStillRunning wrappers
  - Every run, scheduled or manual, takes the job's try-lock; a run that
    finds the lock taken is skipped, not queued
  - An optional Locker extends the lock across processes (Redis)
  - Run time is observed in the job_duration_seconds histogram

USAGE:
  s := jobs.NewScheduler(logger)
  s.Register(jobs.Job{Name: jobs.RemoveDuplicates, Spec: "@every 10m", Run: fn})
  s.Start()
  defer s.Stop()

SEE ALSO:
  - tracking/sweeps.go: The sweeps themselves
  - lock.go: Cross-process locking
*/
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/worktime-engine/metrics"
)

// Job names.
const (
	RemoveDuplicates = "remove-duplicates"
	ResolveShifts    = "resolve-shifts"
)

// ErrUnknownJob is returned when running a job that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is one named unit of periodic work. An empty Spec registers the
// job for manual runs only.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Status reports the last run of a job.
type Status struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec,omitempty"`
	Running  bool      `json:"running"`
	LastRun  time.Time `json:"lastRun,omitempty"`
	LastErr  string    `json:"lastError,omitempty"`
	NextRun  time.Time `json:"nextRun,omitempty"`
	Runs     int       `json:"runs"`
	Skipped  int       `json:"skipped"`
	Duration string    `json:"duration,omitempty"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	running sync.Mutex

	mu     sync.Mutex
	status Status
}

// Scheduler runs registered jobs.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocker adds a cross-process lock around every run.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithTimeout bounds a single run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

func NewScheduler(logger *zap.Logger, opts ...Option) *Scheduler {
	logger = logger.Named("jobs")
	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: 10 * time.Minute,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Jobs with a Spec are also scheduled.
func (s *Scheduler) Register(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[j.Name]; ok {
		return fmt.Errorf("job %s already registered", j.Name)
	}

	e := &entry{job: j, status: Status{Name: j.Name, Spec: j.Spec}}
	if j.Spec != "" {
		id, err := s.cron.AddFunc(j.Spec, func() {
			if _, err := s.run(context.Background(), e); err != nil {
				s.logger.Warn("scheduled job failed", zap.String("job", j.Name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Spec, err)
		}
		e.id = id
	}
	s.entries[j.Name] = e
	return nil
}

// Start begins the cron schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entries)))
}

// Stop halts the schedule and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow runs a job immediately. ran is false when the job was already
// running here or elsewhere.
func (s *Scheduler) RunNow(ctx context.Context, name string) (ran bool, err error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, e)
}

// Statuses returns the state of every job, ordered by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		st := e.status
		e.mu.Unlock()
		if e.id != 0 {
			st.NextRun = s.cron.Entry(e.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) run(ctx context.Context, e *entry) (bool, error) {
	if !e.running.TryLock() {
		s.skipped(e, "already running")
		return false, nil
	}
	defer e.running.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, e.job.Name, s.lockTTL())
		if err != nil {
			return false, fmt.Errorf("job %s: lock: %w", e.job.Name, err)
		}
		if !ok {
			s.skipped(e, "locked by another instance")
			return false, nil
		}
		defer unlock()
	}

	e.mu.Lock()
	e.status.Running = true
	e.mu.Unlock()

	start := time.Now()
	err := e.job.Run(ctx)
	elapsed := time.Since(start)
	metrics.JobDuration.WithLabelValues(e.job.Name).Observe(elapsed.Seconds())

	e.mu.Lock()
	e.status.Running = false
	e.status.LastRun = start
	e.status.Runs++
	e.status.Duration = elapsed.String()
	e.status.LastErr = ""
	if err != nil {
		e.status.LastErr = err.Error()
	}
	e.mu.Unlock()

	s.logger.Debug("job finished", zap.String("job", e.job.Name), zap.Duration("took", elapsed), zap.Error(err))
	return true, err
}

func (s *Scheduler) skipped(e *entry, reason string) {
	e.mu.Lock()
	e.status.Skipped++
	e.mu.Unlock()
	s.logger.Info("job skipped", zap.String("job", e.job.Name), zap.String("reason", reason))
}

func (s *Scheduler) lockTTL() time.Duration {
	if s.timeout > 0 {
		return s.timeout
	}
	return time.Hour
}

// cronLogger routes cron's logr-style calls to zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
