package sync

import "github.com/propscout/propsync/internal/store"

// ConflictDecision records which side won when a local and a remote copy of
// the same record met. Conflict flags a divergence worth reporting; its
// meaning per direction is given on ResolvePush and ResolvePull.
// Timestamps are Unix milliseconds.
type ConflictDecision struct {
	Table           store.Table
	RecordID        string
	LocalUpdatedAt  int64
	RemoteUpdatedAt int64
	Resolution      Resolution
	Conflict        bool
}

// ResolvePush decides a queued local update against the remote copy. A
// queued mutation is explicit user intent, so local always wins; Conflict
// only reports that the remote copy was newer.
func ResolvePush(table store.Table, id string, localTS, remoteTS int64) ConflictDecision {
	return ConflictDecision{
		Table:           table,
		RecordID:        id,
		LocalUpdatedAt:  localTS,
		RemoteUpdatedAt: remoteTS,
		Resolution:      ResolutionLocalWins,
		Conflict:        remoteTS > localTS,
	}
}

// ResolvePull decides a pulled record against the local row. The remote
// copy wins only when strictly newer; ties keep the local row. Conflict is
// set when a remote change is discarded because the local row is newer.
func ResolvePull(table store.Table, id string, localTS, remoteTS int64) ConflictDecision {
	d := ConflictDecision{
		Table:           table,
		RecordID:        id,
		LocalUpdatedAt:  localTS,
		RemoteUpdatedAt: remoteTS,
		Resolution:      ResolutionLocalWins,
	}

	if remoteTS > localTS {
		d.Resolution = ResolutionRemoteWins
	} else {
		d.Conflict = remoteTS < localTS
	}

	return d
}

// pullPolicy adapts ResolvePull to the store's merge callback.
func pullPolicy(c store.Change, localUpdatedAt int64) bool {
	return ResolvePull(c.Table, c.RecordID, localUpdatedAt, c.UpdatedAt).Resolution == ResolutionRemoteWins
}
