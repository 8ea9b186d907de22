// Package sync implements the offline-first sync engine for propsync. A
// cycle pushes the durable mutation queue to the service and then pulls
// remote changes since the last cursor, reporting progress on an event bus.
package sync

import (
	"context"

	"github.com/propscout/propsync/internal/api"
)

// EventType names a lifecycle event published on the Bus.
type EventType string

// Lifecycle events.
const (
	EventStarted       EventType = "started"
	EventProgress      EventType = "progress"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
	EventConflict      EventType = "conflict"
	EventNetworkChange EventType = "network_change"
)

// Resolution is the side whose data wins a conflict.
type Resolution string

// Conflict resolutions.
const (
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionRemoteWins Resolution = "remote_wins"
)

// Phase identifies the half of a cycle a progress event belongs to.
type Phase string

// Cycle phases.
const (
	PhasePush Phase = "push"
	PhasePull Phase = "pull"
)

// State is the scheduler state.
type State int

// Scheduler states.
const (
	StateIdle State = iota
	StateSyncing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// Trigger names what started a cycle. Logged and carried on the started event.
type Trigger string

// Cycle triggers.
const (
	TriggerStartup  Trigger = "startup"
	TriggerInterval Trigger = "interval"
	TriggerNetwork  Trigger = "network"
	TriggerManual   Trigger = "manual"
	TriggerRemote   Trigger = "remote"
)

// RecordClient pushes single records to the service. Satisfied by *api.Client.
type RecordClient interface {
	CreateRecord(ctx context.Context, table string, payload []byte) error
	GetRecord(ctx context.Context, table, id string) (*api.RemoteRecord, error)
	UpdateRecord(ctx context.Context, table, id string, payload []byte, opts api.UpdateOptions) error
	DeleteRecord(ctx context.Context, table, id string) error
}

// ChangesFetcher pages remote changes. Satisfied by *api.Client.
type ChangesFetcher interface {
	Changes(ctx context.Context, req api.ChangesRequest) (*api.ChangesPage, error)
}

// Remote is the full service surface the engine needs.
type Remote interface {
	RecordClient
	ChangesFetcher
}

// Connectivity reports and announces the online state. Satisfied by
// *connectivity.Monitor.
type Connectivity interface {
	IsOnline() bool
	OnChange(fn func(online bool)) (unsubscribe func())
}
