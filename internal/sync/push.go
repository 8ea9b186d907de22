package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/propscout/propsync/internal/api"
	"github.com/propscout/propsync/internal/store"
)

// DefaultMaxRetryAttempts is the retry cap after which a queue item is
// dead-lettered.
const DefaultMaxRetryAttempts = 5

// PushResult counts the outcome of one push phase.
type PushResult struct {
	Processed    int // acknowledged by the server and removed from the queue
	Failed       int // failed this time; attempts incremented
	DeadLettered int // skipped because the retry cap was already reached
	Deferred     int // held back behind an earlier unsent item for the same record
}

// Pusher drains the mutation queue to the service, oldest first.
type Pusher struct {
	store       *store.Store
	remote      RecordClient
	bus         *Bus
	maxAttempts int
	logger      *slog.Logger
}

// NewPusher creates a Pusher. maxAttempts <= 0 selects DefaultMaxRetryAttempts.
func NewPusher(st *store.Store, remote RecordClient, bus *Bus, maxAttempts int, logger *slog.Logger) *Pusher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRetryAttempts
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pusher{
		store:       st,
		remote:      remote,
		bus:         bus,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Push sends every live queue item to the server sequentially. Per-item
// failures are recorded on the item and do not stop the phase; a store
// error or context cancellation does, and is returned.
//
// Once an item for a record fails or is dead-lettered, later items for the
// same record are deferred to a later cycle untouched, so the server never
// sees a record's mutations out of order.
func (p *Pusher) Push(ctx context.Context) (PushResult, error) {
	var res PushResult

	blocked := make(map[string]bool)

	items, err := p.store.PendingMutations(ctx)
	if err != nil {
		return res, fmt.Errorf("sync: loading queue: %w", err)
	}

	if len(items) == 0 {
		return res, nil
	}

	p.logger.Info("push starting", slog.Int("queued", len(items)))

	for i, m := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		key := recordKey(m)

		switch {
		case blocked[key]:
			p.logger.Debug("mutation deferred behind earlier item for the same record",
				slog.String("mutation", m.ID),
				slog.String("table", m.Table.String()),
				slog.String("record", m.RecordID),
			)

			res.Deferred++
			p.progress(i+1, len(items))

			continue

		case m.Attempts >= p.maxAttempts:
			blocked[key] = true
			res.DeadLettered++
			p.progress(i+1, len(items))

			continue
		}

		if err := p.pushOne(ctx, m); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}

			if err := p.recordFailure(ctx, m, err); err != nil {
				return res, err
			}

			blocked[key] = true
			res.Failed++
		} else {
			if err := p.store.RemoveMutation(ctx, m.ID); err != nil {
				return res, fmt.Errorf("sync: removing pushed mutation %s: %w", m.ID, err)
			}

			res.Processed++
		}

		p.progress(i+1, len(items))
	}

	p.logger.Info("push complete",
		slog.Int("processed", res.Processed),
		slog.Int("failed", res.Failed),
		slog.Int("dead_lettered", res.DeadLettered),
		slog.Int("deferred", res.Deferred),
	)

	return res, nil
}

func recordKey(m *store.Mutation) string {
	return m.Table.String() + "/" + m.RecordID
}

func (p *Pusher) recordFailure(ctx context.Context, m *store.Mutation, cause error) error {
	attempts, err := p.store.RecordAttemptFailure(ctx, m.ID, cause.Error())
	if err != nil {
		return fmt.Errorf("sync: recording push failure for %s: %w", m.ID, err)
	}

	attrs := []any{
		slog.String("mutation", m.ID),
		slog.String("table", m.Table.String()),
		slog.String("record", m.RecordID),
		slog.String("action", string(m.Action)),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()),
	}

	if attempts >= p.maxAttempts {
		p.logger.Warn("mutation dead-lettered", attrs...)
	} else {
		p.logger.Debug("mutation push failed", attrs...)
	}

	return nil
}

func (p *Pusher) progress(done, total int) {
	p.bus.Emit(Event{Type: EventProgress, Phase: PhasePush, Processed: done, Total: total})
}

// pushOne dispatches a single item.
func (p *Pusher) pushOne(ctx context.Context, m *store.Mutation) error {
	if m.PayloadErr != nil {
		return fmt.Errorf("undecodable payload: %w", m.PayloadErr)
	}

	table := m.Table.String()

	switch m.Action {
	case store.ActionCreate:
		payload, err := marshalPayload(m)
		if err != nil {
			return err
		}

		return p.remote.CreateRecord(ctx, table, payload)

	case store.ActionUpdate:
		return p.pushUpdate(ctx, m)

	case store.ActionDelete:
		err := p.remote.DeleteRecord(ctx, table, m.RecordID)
		if errors.Is(err, api.ErrNotFound) {
			p.logger.Debug("remote record already deleted",
				slog.String("table", table),
				slog.String("record", m.RecordID),
			)

			return nil
		}

		return err

	default:
		return fmt.Errorf("unknown action %q", m.Action)
	}
}

// pushUpdate reads the remote copy for conflict reporting, then overwrites
// it. A missing remote record becomes a create; a server-reported conflict
// is re-sent with the force-overwrite marker.
func (p *Pusher) pushUpdate(ctx context.Context, m *store.Mutation) error {
	payload, err := marshalPayload(m)
	if err != nil {
		return err
	}

	table := m.Table.String()
	localTS := m.Payload.LastUpdated()

	var remoteTS int64
	conflictReported := false

	if m.Table.RemoteReadable() {
		remote, err := p.remote.GetRecord(ctx, table, m.RecordID)

		switch {
		case err == nil:
			remoteTS = remote.UpdatedAt

			if d := ResolvePush(m.Table, m.RecordID, localTS, remoteTS); d.Conflict {
				p.reportConflict(d)
				conflictReported = true
			}
		case errors.Is(err, api.ErrNotFound):
			// The PUT below gets the same 404 and turns into a create.
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			p.logger.Warn("pre-update read failed, updating anyway",
				slog.String("table", table),
				slog.String("record", m.RecordID),
				slog.String("error", err.Error()),
			)
		}
	}

	err = p.remote.UpdateRecord(ctx, table, m.RecordID, payload, api.UpdateOptions{})

	switch {
	case err == nil:
		return nil

	case errors.Is(err, api.ErrNotFound):
		p.logger.Info("remote record missing, creating instead",
			slog.String("table", table),
			slog.String("record", m.RecordID),
		)

		return p.remote.CreateRecord(ctx, table, payload)

	case errors.Is(err, api.ErrConflict):
		if !conflictReported {
			d := ResolvePush(m.Table, m.RecordID, localTS, remoteTS)
			d.Conflict = true
			p.reportConflict(d)
		}

		return p.remote.UpdateRecord(ctx, table, m.RecordID, payload, api.UpdateOptions{
			Force:          true,
			LocalUpdatedAt: localTS,
		})

	default:
		return err
	}
}

func (p *Pusher) reportConflict(d ConflictDecision) {
	p.logger.Info("conflict resolved",
		slog.String("table", d.Table.String()),
		slog.String("record", d.RecordID),
		slog.Int64("local_updated_at", d.LocalUpdatedAt),
		slog.Int64("remote_updated_at", d.RemoteUpdatedAt),
		slog.String("resolution", string(d.Resolution)),
	)

	p.bus.Emit(Event{Type: EventConflict, Conflict: &d})
}

func marshalPayload(m *store.Mutation) ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("%s mutation for %s/%s has no payload", m.Action, m.Table, m.RecordID)
	}

	data, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	return data, nil
}
