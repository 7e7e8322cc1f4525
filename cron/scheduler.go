// Package cron runs recurring producers: entries registered at startup
// that enqueue a job, or run a maintenance function, on a cron
// schedule. Entries live in process memory; idempotent consumers absorb
// the duplicate enqueues when several processes run the same schedules,
// so there is no leader election here.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/loomery/backlog/job"
)

// EnqueueFunc is the callback entries use to enqueue jobs. This breaks
// the import cycle: the composition root wires in the queue service.
type EnqueueFunc func(ctx context.Context, typeName string, payload map[string]any, opts ...job.Option) (*job.Job, error)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// EntryInfo is a read-only snapshot of a scheduled entry.
type EntryInfo struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	JobType   string     `json:"jobType,omitempty"`
	NextRunAt time.Time  `json:"nextRunAt"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
}

type entry struct {
	name      string
	expr      string
	schedule  cronlib.Schedule
	jobType   string
	run       func(ctx context.Context) error
	nextRunAt time.Time
	lastRunAt *time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler fires registered entries on a tick loop.
type Scheduler struct {
	enqueue EnqueueFunc
	logger  *slog.Logger

	tickInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a Scheduler. The enqueue callback is used by
// entries registered with AddJob.
func NewScheduler(enqueue EnqueueFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		logger:       logger,
		tickInterval: time.Second,
		now:          func() time.Time { return time.Now().UTC() },
		entries:      make(map[string]*entry),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers an entry that enqueues a job of the given type on
// each firing. The name must be unique among entries.
func (s *Scheduler) AddJob(name, expr, typeName string, payload map[string]any, opts ...job.Option) error {
	return s.add(name, expr, typeName, func(ctx context.Context) error {
		j, err := s.enqueue(ctx, typeName, payload, opts...)
		if err != nil {
			return err
		}
		s.logger.Info("scheduled job enqueued",
			slog.String("entry", name),
			slog.String("job_type", typeName),
			slog.String("job_id", j.ID.String()),
		)
		return nil
	})
}

// AddFunc registers an entry that runs an arbitrary function on each
// firing. Used for in-process maintenance like retention purges.
func (s *Scheduler) AddFunc(name, expr string, fn func(ctx context.Context) error) error {
	return s.add(name, expr, "", fn)
}

func (s *Scheduler) add(name, expr, jobType string, run func(ctx context.Context) error) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("cron: entry %q: parse %q: %w", name, expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("cron: entry %q already registered", name)
	}
	s.entries[name] = &entry{
		name:      name,
		expr:      expr,
		schedule:  sched,
		jobType:   jobType,
		run:       run,
		nextRunAt: sched.Next(s.now()),
	}
	return nil
}

// Entries returns snapshots of all registered entries, for
// introspection endpoints.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		infos = append(infos, EntryInfo{
			Name:      e.name,
			Schedule:  e.expr,
			JobType:   e.jobType,
			NextRunAt: e.nextRunAt,
			LastRunAt: e.lastRunAt,
		})
	}
	return infos
}

// Start launches the tick goroutine. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("cron scheduler started",
		slog.Int("entries", len(s.entries)),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Tick fires every due entry once and advances its next run time.
// Exported for tests driving the scheduler without the tick goroutine.
func (s *Scheduler) Tick() { s.tick() }

func (s *Scheduler) tick() {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.nextRunAt.After(now) {
			due = append(due, e)
			e.lastRunAt = &now
			e.nextRunAt = e.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if err := e.run(context.Background()); err != nil {
			s.logger.Error("cron entry failed",
				slog.String("entry", e.name),
				slog.String("error", err.Error()),
			)
		}
	}
}
