// Package scheduler repeats runs on a cron expression.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// ErrRunInProgress is returned by Trigger when a run is already executing
var ErrRunInProgress = errors.New("run already in progress")

// RunFunc executes one scheduled run
type RunFunc func(ctx context.Context) error

// Status is a point-in-time view of the scheduler
type Status struct {
	Schedule  string
	Running   bool
	Busy      bool
	Runs      int
	Skipped   int
	LastRun   *time.Time
	NextRun   *time.Time
	LastError string
}

// Scheduler triggers a RunFunc on a standard 5-field cron schedule.
// Triggers that arrive while a run is executing are skipped.
type Scheduler struct {
	schedule string
	run      RunFunc
	logger   arbor.ILogger
	cron     *cron.Cron
	entryID  cron.EntryID

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	busy      bool
	runs      int
	skipped   int
	lastRun   *time.Time
	lastError string
	wg        sync.WaitGroup
}

// Parse validates a 5-field cron expression
func Parse(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NewScheduler creates a scheduler. The expression is validated here.
func NewScheduler(expr string, run RunFunc, logger arbor.ILogger) (*Scheduler, error) {
	if run == nil {
		return nil, fmt.Errorf("run function is required")
	}
	if _, err := Parse(expr); err != nil {
		return nil, err
	}
	return &Scheduler{
		schedule: expr,
		run:      run,
		logger:   logger,
		cron:     cron.New(),
	}, nil
}

// Start registers the schedule and begins triggering. Runs receive a context
// derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	id, err := s.cron.AddFunc(s.schedule, s.trigger)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = id
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", s.schedule).
		Msg("Scheduler started")
	return nil
}

// Stop halts triggering, cancels an in-flight run and waits for it to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	cancel()
	<-stopCtx.Done()
	s.wg.Wait()

	s.cron.Remove(s.entryID)
	s.logger.Info().Msg("Scheduler stopped")
}

// Trigger runs immediately on the caller's goroutine. It returns
// ErrRunInProgress when a run is already executing.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.acquire() {
		return ErrRunInProgress
	}
	return s.execute(ctx)
}

// Status reports counters and the next fire time
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Schedule:  s.schedule,
		Running:   s.running,
		Busy:      s.busy,
		Runs:      s.runs,
		Skipped:   s.skipped,
		LastRun:   s.lastRun,
		LastError: s.lastError,
	}
	if s.running {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

func (s *Scheduler) trigger() {
	if !s.acquire() {
		s.logger.Warn().
			Str("cron_expr", s.schedule).
			Msg("Previous run still in progress, skipping this cycle")
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	_ = s.execute(ctx)
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		s.skipped++
		return false
	}
	s.busy = true
	return true
}

func (s *Scheduler) execute(ctx context.Context) (err error) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in scheduled run")
			err = fmt.Errorf("panic: %v", r)
		}

		s.mu.Lock()
		s.busy = false
		s.runs++
		s.lastRun = &started
		if err != nil {
			s.lastError = err.Error()
		} else {
			s.lastError = ""
		}
		s.mu.Unlock()
	}()

	s.logger.Info().Msg("Scheduled run started")

	err = s.run(ctx)
	if err != nil {
		s.logger.Error().
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("Scheduled run failed")
		return err
	}

	s.logger.Info().
		Dur("duration", time.Since(started)).
		Msg("Scheduled run completed")
	return nil
}
