package sync

import (
	"log/slog"
	stdsync "sync"
	"time"
)

// Event is one lifecycle notification. Only the fields relevant to Type are
// set.
type Event struct {
	Type EventType
	Time time.Time

	// started
	Trigger Trigger

	// progress; Total is -1 when the pull cannot know it
	Phase     Phase
	Processed int
	Total     int

	// completed
	Report *CycleReport

	// failed
	Err error

	// conflict
	Conflict *ConflictDecision

	// network_change
	Online bool
}

// Handler receives events on the emitting goroutine.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus fans events out to subscribers synchronously, in subscription order.
// A panicking subscriber is logged and skipped; the others still run.
type Bus struct {
	logger *slog.Logger

	mu     stdsync.Mutex
	nextID int
	subs   []subscription
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{logger: logger}
}

// Subscribe registers fn. The returned func removes it and is safe to call
// more than once.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers ev to a snapshot of the current subscribers. Time is set
// when zero.
func (b *Bus) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		b.deliver(s.fn, ev)
	}
}

func (b *Bus) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				slog.String("event", string(ev.Type)),
				slog.Any("panic", r),
			)
		}
	}()

	fn(ev)
}
