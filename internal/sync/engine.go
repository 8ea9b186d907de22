package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/propscout/propsync/internal/store"
)

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Store            *store.Store
	Remote           Remote       // satisfied by *api.Client
	Connectivity     Connectivity // satisfied by *connectivity.Monitor; nil means always online
	Bus              *Bus         // optional; NewEngine creates one when nil
	SyncInterval     time.Duration
	MaxRetryAttempts int
	Pull             PullOptions
	Logger           *slog.Logger
}

// CycleReport summarizes one sync cycle.
type CycleReport struct {
	Trigger  Trigger
	Started  time.Time
	Duration time.Duration
	Push     PushResult
	Pulled   int

	// PullErr is the absorbed pull failure, if any. It never fails the cycle.
	PullErr error
}

// Engine owns the scheduler, push and pull for one local store. Create it
// with NewEngine, start background syncing with Init and stop it with
// Shutdown. SyncNow works with or without Init.
type Engine struct {
	store     *store.Store
	bus       *Bus
	pusher    *Pusher
	puller    *Puller
	scheduler *Scheduler
	conn      Connectivity
	logger    *slog.Logger

	mu          stdsync.Mutex
	unsubscribe func()
	nowFunc     func() time.Time
}

// NewEngine wires an Engine from cfg. It does not start anything.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("sync: engine requires a store")
	}

	if cfg.Remote == nil {
		return nil, errors.New("sync: engine requires a remote client")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bus := cfg.Bus
	if bus == nil {
		bus = NewBus(logger)
	}

	e := &Engine{
		store:   cfg.Store,
		bus:     bus,
		pusher:  NewPusher(cfg.Store, cfg.Remote, bus, cfg.MaxRetryAttempts, logger),
		puller:  NewPuller(cfg.Store, cfg.Remote, bus, cfg.Pull, logger),
		conn:    cfg.Connectivity,
		logger:  logger,
		nowFunc: time.Now,
	}

	var online func() bool
	if cfg.Connectivity != nil {
		online = cfg.Connectivity.IsOnline
	}

	e.scheduler = NewScheduler(SchedulerConfig{
		Cycle:    e.runCycle,
		Online:   online,
		Bus:      bus,
		Interval: cfg.SyncInterval,
		Logger:   logger,
	})

	return e, nil
}

// Events returns the bus lifecycle events are published on.
func (e *Engine) Events() *Bus {
	return e.bus
}

// State reports whether a cycle is running.
func (e *Engine) State() State {
	return e.scheduler.State()
}

// Init subscribes to connectivity changes, starts the periodic timer and
// requests a startup cycle.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}

	if e.conn != nil {
		unsub := e.conn.OnChange(e.onNetworkChange)

		e.mu.Lock()
		e.unsubscribe = unsub
		e.mu.Unlock()
	}

	e.logger.Info("sync engine started", slog.Duration("interval", e.scheduler.Interval()))
	e.scheduler.Trigger(TriggerStartup)

	return nil
}

// Shutdown stops background syncing and waits for a running cycle to
// observe cancellation.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	e.scheduler.Stop()
	e.logger.Info("sync engine stopped")
}

// SyncNow runs a cycle immediately. Returns ErrOffline or
// ErrCycleInProgress when the cycle cannot start.
func (e *Engine) SyncNow(ctx context.Context) (*CycleReport, error) {
	return e.scheduler.RunNow(ctx, TriggerManual)
}

// Trigger requests a background cycle. Requires Init.
func (e *Engine) Trigger(trigger Trigger) {
	e.scheduler.Trigger(trigger)
}

// SetInterval changes the period between scheduled cycles.
func (e *Engine) SetInterval(d time.Duration) {
	e.scheduler.SetInterval(d)
}

func (e *Engine) onNetworkChange(online bool) {
	e.bus.Emit(Event{Type: EventNetworkChange, Online: online})

	if online {
		e.scheduler.Trigger(TriggerNetwork)
	}
}

// runCycle pushes, then pulls. A push error fails the cycle and skips the
// pull; a pull error is logged and recorded on the report only.
func (e *Engine) runCycle(ctx context.Context, trigger Trigger) (*CycleReport, error) {
	start := e.nowFunc()
	report := &CycleReport{Trigger: trigger, Started: start}

	e.logger.Info("sync cycle starting", slog.String("trigger", string(trigger)))

	pushed, err := e.pusher.Push(ctx)
	report.Push = pushed

	if err != nil {
		report.Duration = e.nowFunc().Sub(start)
		return report, fmt.Errorf("sync: push: %w", err)
	}

	pulled, err := e.puller.Pull(ctx)
	report.Pulled = pulled

	if err != nil {
		report.PullErr = err

		e.logger.Warn("pull failed, continuing",
			slog.Int("merged", pulled),
			slog.String("error", err.Error()),
		)
	}

	report.Duration = e.nowFunc().Sub(start)

	e.logger.Info("sync cycle complete",
		slog.String("trigger", string(trigger)),
		slog.Duration("duration", report.Duration),
		slog.Int("pushed", pushed.Processed),
		slog.Int("push_failed", pushed.Failed),
		slog.Int("dead_lettered", pushed.DeadLettered),
		slog.Int("pulled", pulled),
	)

	return report, nil
}
