package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// SchedulerState describes what the scheduler is doing right now.
type SchedulerState int

const (
	SchedulerIdle SchedulerState = iota
	SchedulerRunning
	SchedulerStopped
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerRunning:
		return "running"
	case SchedulerStopped:
		return "stopped"
	}
	return ""
}

// Scheduler fires a check function on a fixed interval, with on-demand
// triggers coalesced into the same single-flight execution.
//
// A cycle's errors are recorded and logged but never stop future cycles;
// only Stop halts the loop. Stop lets an in-flight cycle finish within
// the grace period, then cancels its context and returns. Abandoned
// in_progress work items are swept back to retryable at next startup.
type Scheduler struct {
	interval time.Duration
	grace    time.Duration
	check    func(context.Context) error
	logger   *log.Logger

	trigger  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	state     SchedulerState
	started   bool
	lastError error
	lastRun   time.Time
	nextRun   time.Time
	cancel    context.CancelFunc
}

// NewScheduler creates a Scheduler driving the given check function.
func NewScheduler(interval, grace time.Duration, check func(context.Context) error, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Scheduler{
		interval: interval,
		grace:    grace,
		check:    check,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the scheduling loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.state = SchedulerIdle
	s.nextRun = time.Now().Add(s.interval)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "interval", shared.FormatDuration(s.interval))
	go s.loop()
}

// TriggerNow requests an immediate check. If a cycle is already running
// or a trigger is already queued, the request coalesces into a no-op.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
		s.logger.Debug("immediate check triggered")
	default:
		s.logger.Debug("check already pending, trigger coalesced")
	}
}

// Stop halts the loop. An in-flight cycle gets the grace period to
// finish its current batch; past the deadline its context is cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stop)
	})

	if !started {
		s.mu.Lock()
		s.state = SchedulerStopped
		s.mu.Unlock()
		return
	}

	select {
	case <-s.done:
	case <-time.After(s.grace):
		s.logger.Warn("shutdown grace elapsed, cancelling in-flight cycle")
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		<-s.done
	}

	s.mu.Lock()
	s.state = SchedulerStopped
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// State returns the scheduler's current state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error annotation from the most recent cycle, if any.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// NextRun returns when the next scheduled check fires.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// LastRun returns when the most recent cycle started, zero if none ran yet.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runOnce()
		case <-s.trigger:
			s.runOnce()
		}

		s.mu.Lock()
		s.nextRun = time.Now().Add(s.interval)
		s.mu.Unlock()
	}
}

// runOnce executes one check cycle. Cycle errors are annotations, never
// loop-fatal; the loop itself serializes cycles so two can never overlap.
func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.state = SchedulerRunning
	s.lastRun = time.Now()
	s.cancel = cancel
	s.mu.Unlock()

	err := s.check(ctx)
	cancel()

	s.mu.Lock()
	s.state = SchedulerIdle
	s.cancel = nil
	s.lastError = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("check cycle finished with error", "error", err)
	}
}
