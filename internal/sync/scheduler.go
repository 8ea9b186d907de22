package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultSyncInterval is the period between scheduled cycles.
const DefaultSyncInterval = 30 * time.Second

var (
	// ErrOffline is returned by RunNow when the device is offline.
	ErrOffline = errors.New("sync: offline")
	// ErrCycleInProgress is returned by RunNow when another cycle holds the
	// scheduler. The request is dropped, not queued.
	ErrCycleInProgress = errors.New("sync: cycle already in progress")
	// ErrNotStarted is returned by operations that need a running scheduler.
	ErrNotStarted = errors.New("sync: scheduler not started")
)

// CycleFunc runs one push-then-pull cycle. A returned error means the cycle
// failed; the report may still carry partial counts.
type CycleFunc func(ctx context.Context, trigger Trigger) (*CycleReport, error)

// SchedulerConfig holds the inputs for NewScheduler.
type SchedulerConfig struct {
	Cycle    CycleFunc
	Online   func() bool // nil means always online
	Bus      *Bus
	Interval time.Duration
	Logger   *slog.Logger
}

// Scheduler runs at most one cycle at a time. Cycles start from a periodic
// timer or from explicit triggers, and only while online.
type Scheduler struct {
	cycle  CycleFunc
	online func() bool
	bus    *Bus
	logger *slog.Logger

	sem   *semaphore.Weighted
	state atomic.Int32

	// lifecycle serialises Start and Stop; mu guards the fields below.
	lifecycle stdsync.Mutex

	mu       stdsync.Mutex
	interval time.Duration
	reset    chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       stdsync.WaitGroup
}

// NewScheduler creates an idle Scheduler. Call Start to enable the timer and
// asynchronous triggers.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bus := cfg.Bus
	if bus == nil {
		bus = NewBus(logger)
	}

	online := cfg.Online
	if online == nil {
		online = func() bool { return true }
	}

	return &Scheduler{
		cycle:    cfg.Cycle,
		online:   online,
		bus:      bus,
		logger:   logger,
		sem:      semaphore.NewWeighted(1),
		interval: interval,
		reset:    make(chan struct{}, 1),
	}
}

// State reports whether a cycle is running.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Interval returns the current timer period.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.interval
}

// SetInterval changes the timer period. A running timer restarts with the
// new period.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}

	s.mu.Lock()
	changed := d != s.interval
	s.interval = d
	s.mu.Unlock()

	if !changed {
		return
	}

	s.logger.Info("sync interval changed", slog.Duration("interval", d))

	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Start launches the periodic timer. Cycles started by the timer or by
// Trigger run under ctx; Stop cancels it. A stopped scheduler can be
// started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("sync: scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = runCtx, cancel

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.loop(runCtx)
	}()

	return nil
}

// Stop cancels any running cycle and waits for the timer and triggered
// cycles to finish. No cycle starts after Stop returns. Safe to call more
// than once.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	// Cancelling under mu orders Stop after any Trigger that already
	// registered with wg, and before any Trigger that has not.
	s.mu.Lock()
	cancel := s.cancel
	s.ctx, s.cancel = nil, nil

	if cancel != nil {
		cancel()
	}
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	s.wg.Wait()
}

// Trigger requests a cycle without waiting for it. Offline or busy
// conditions drop the request silently.
func (s *Scheduler) Trigger(trigger Trigger) {
	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.Debug("trigger ignored, scheduler not running", slog.String("trigger", string(trigger)))

		return
	}

	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runQuiet(ctx, trigger)
	}()
}

// RunNow runs a cycle on the calling goroutine and returns its report.
func (s *Scheduler) RunNow(ctx context.Context, trigger Trigger) (*CycleReport, error) {
	if !s.online() {
		return nil, ErrOffline
	}

	if !s.sem.TryAcquire(1) {
		return nil, ErrCycleInProgress
	}
	defer s.sem.Release(1)

	s.state.Store(int32(StateSyncing))
	defer s.state.Store(int32(StateIdle))

	s.bus.Emit(Event{Type: EventStarted, Trigger: trigger})

	report, err := s.runGuarded(ctx, trigger)
	if err != nil {
		s.logger.Error("sync cycle failed",
			slog.String("trigger", string(trigger)),
			slog.String("error", err.Error()),
		)
		s.bus.Emit(Event{Type: EventFailed, Err: err, Report: report})

		return report, err
	}

	s.bus.Emit(Event{Type: EventCompleted, Report: report})

	return report, nil
}

// runGuarded converts a panic inside the cycle into an error.
func (s *Scheduler) runGuarded(ctx context.Context, trigger Trigger) (report *CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("sync: panic in cycle: %v", r)
		}
	}()

	return s.cycle(ctx, trigger)
}

// runQuiet runs a triggered cycle, logging dropped requests at debug level.
func (s *Scheduler) runQuiet(ctx context.Context, trigger Trigger) {
	_, err := s.RunNow(ctx, trigger)

	switch {
	case err == nil:
	case errors.Is(err, ErrOffline):
		s.logger.Debug("cycle skipped while offline", slog.String("trigger", string(trigger)))
	case errors.Is(err, ErrCycleInProgress):
		s.logger.Debug("cycle dropped, another is running", slog.String("trigger", string(trigger)))
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	s.logger.Info("scheduler started", slog.Duration("interval", s.Interval()))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return

		case <-s.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

			timer.Reset(s.Interval())

		case <-timer.C:
			s.runQuiet(ctx, TriggerInterval)
			timer.Reset(s.Interval())
		}
	}
}
