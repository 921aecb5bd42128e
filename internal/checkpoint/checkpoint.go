// Package checkpoint persists session state as an append-only chain of
// immutable snapshots keyed by (sessionID, sequence). The latest checkpoint
// defines current state: a session can be reconstructed from the chain
// alone, in a different process, at any later time. Storage is file-backed
// with atomic writes, mirroring one directory per session.
package checkpoint

import (
	"context"
	"time"

	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/stage"
	"github.com/ApexChef/groomflow/internal/state"
)

// Checkpoint is one immutable snapshot of full session state. ParentSeq
// points to the predecessor in the chain (Seq-1 for every record after the
// first). Stage names the unit of work whose output the record commits;
// NextStage is where execution resumes.
type Checkpoint struct {
	SessionID string         `json:"session_id"`
	Seq       uint64         `json:"seq"`
	ParentSeq uint64         `json:"parent_seq"`
	Stage     string         `json:"stage"`
	NextStage string         `json:"next_stage"`
	CreatedAt time.Time      `json:"created_at"`
	State     state.Snapshot `json:"state"`
}

// SessionInfo summarizes one persisted session for listings.
type SessionInfo struct {
	SessionID       string    `json:"session_id"`
	CheckpointCount int       `json:"checkpoint_count"`
	LatestSeq       uint64    `json:"latest_seq"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store is the durable checkpoint contract. Implementations must support
// concurrent readers; writers are serialized per session by the writer lock.
type Store interface {
	// Append durably writes a checkpoint. It fails with ErrCheckpointExists
	// if the (session, seq) slot is already taken: records are never
	// rewritten.
	Append(ctx context.Context, cp Checkpoint) error

	// Latest returns the highest-sequence checkpoint for a session, or
	// ErrSessionNotFound if the session has none.
	Latest(ctx context.Context, sessionID string) (Checkpoint, error)

	// Chain returns every checkpoint of a session in sequence order.
	Chain(ctx context.Context, sessionID string) ([]Checkpoint, error)

	// List summarizes all sessions, sorted most recently updated first.
	List(ctx context.Context) ([]SessionInfo, error)

	// Exists reports whether the session has at least one checkpoint.
	Exists(ctx context.Context, sessionID string) bool

	// Delete removes a session and its chain. It fails with
	// ErrSessionLocked while a live writer holds the session.
	Delete(ctx context.Context, sessionID string) error
}

// Repair migrates a checkpoint written by an older version forward to the
// current structural requirements. Legacy records may predate routing
// bookkeeping or the explicit resumption pointer; they are repaired, never
// rejected.
func Repair(cp Checkpoint) Checkpoint {
	// Every work item must carry a routing entry.
	for _, wi := range cp.State.WorkItems {
		found := false
		for _, rs := range cp.State.Routing {
			if rs.WorkItemID == wi.ID {
				found = true
				break
			}
		}
		if !found {
			cp.State.Routing = append(cp.State.Routing, cp.State.RoutingFor(wi.ID))
		}
	}

	// A record without a resumption pointer resumes at routing when scored
	// work exists, otherwise at the beginning of the pipeline.
	if cp.NextStage == "" {
		if len(cp.State.Scores) > 0 {
			cp.NextStage = stage.Route
		} else {
			cp.NextStage = stage.Detect
		}
	}

	// An active interrupt implies the matching interrupt stage.
	if cp.State.Pending != nil {
		switch cp.State.Pending.Kind {
		case item.InterruptApproval:
			cp.NextStage = stage.Approve
		case item.InterruptContext:
			cp.NextStage = stage.RequestContext
		}
	}

	if cp.Seq > 0 && cp.ParentSeq == 0 {
		cp.ParentSeq = cp.Seq - 1
	}

	return cp
}
