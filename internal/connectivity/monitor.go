// Package connectivity tracks whether the device can reach the network and
// notifies subscribers when that changes. Monitor holds the state; Prober
// feeds it by polling a health URL.
package connectivity

import (
	"log/slog"
	"sync"
)

// State is one connectivity report. InternetReachable is nil when the
// reporter cannot tell, which counts as reachable.
type State struct {
	Connected         bool
	InternetReachable *bool
}

// Online reports whether the state counts as online.
func (s State) Online() bool {
	return s.Connected && (s.InternetReachable == nil || *s.InternetReachable)
}

// Reachable is a convenience for building a State with a known
// InternetReachable value.
func Reachable(v bool) *bool {
	return &v
}

// Monitor holds the current online flag and fans transitions out to
// subscribers. Safe for concurrent use.
type Monitor struct {
	logger *slog.Logger

	// updateMu serializes Update so subscribers observe transitions in order.
	updateMu sync.Mutex

	mu       sync.Mutex
	online   bool
	state    State
	nextID   int
	handlers map[int]func(online bool)
}

// NewMonitor returns a Monitor whose initial online flag is initialOnline.
func NewMonitor(initialOnline bool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		logger:   logger,
		online:   initialOnline,
		state:    State{Connected: initialOnline},
		handlers: make(map[int]func(bool)),
	}
}

// IsOnline returns the current computed online flag.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online
}

// State returns the last reported state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// OnChange registers fn to be called with the new value whenever the online
// flag flips. fn must not call Update. The returned func unsubscribes.
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = fn
	m.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, id)
			m.mu.Unlock()
		})
	}
}

// Update records a new state. Subscribers are called synchronously, and
// only when the computed online flag differs from the previous one.
func (m *Monitor) Update(s State) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.Lock()
	m.state = s
	next := s.Online()
	changed := next != m.online
	m.online = next

	var snapshot []func(bool)
	if changed {
		snapshot = make([]func(bool), 0, len(m.handlers))
		for _, fn := range m.handlers {
			snapshot = append(snapshot, fn)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info("connectivity changed", slog.Bool("online", next))

	for _, fn := range snapshot {
		m.call(fn, next)
	}
}

// call invokes one subscriber, containing a panic so the rest still run.
func (m *Monitor) call(fn func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity subscriber panicked", slog.Any("panic", r))
		}
	}()

	fn(online)
}
