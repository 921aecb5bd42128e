package state

import (
	"context"
	"fmt"
	"sync"
)

// Committer persists one snapshot durably before the store treats the
// corresponding patch as committed. Implementations must be atomic: a failed
// Commit must leave no readable record at seq.
type Committer interface {
	Commit(ctx context.Context, stage, nextStage string, seq uint64, snap Snapshot) error
}

// CommitterFunc adapts a function to the Committer interface.
type CommitterFunc func(ctx context.Context, stage, nextStage string, seq uint64, snap Snapshot) error

// Commit implements Committer.
func (f CommitterFunc) Commit(ctx context.Context, stage, nextStage string, seq uint64, snap Snapshot) error {
	return f(ctx, stage, nextStage, seq, snap)
}

// Store owns the canonical in-memory state of one session. Every Apply is
// write-through: the merged snapshot is committed durably first, and on
// commit failure the in-memory state stays at the last durable snapshot so
// a retried apply with the same patch is safe.
type Store struct {
	mu        sync.Mutex
	sessionID string
	seq       uint64
	snap      Snapshot
	committer Committer
}

// NewStore creates a Store for a fresh session at sequence 0.
func NewStore(sessionID string, initial Snapshot, committer Committer) *Store {
	return &Store{
		sessionID: sessionID,
		snap:      initial.Clone(),
		committer: committer,
	}
}

// Restore creates a Store positioned at a previously committed snapshot,
// typically loaded from the latest checkpoint of a suspended session.
func Restore(sessionID string, seq uint64, snap Snapshot, committer Committer) *Store {
	return &Store{
		sessionID: sessionID,
		seq:       seq,
		snap:      snap.Clone(),
		committer: committer,
	}
}

// SessionID returns the session this store belongs to.
func (s *Store) SessionID() string { return s.sessionID }

// Seq returns the sequence number of the last committed snapshot.
func (s *Store) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Get returns a deep copy of the current snapshot.
func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Apply merges the patch into the current snapshot, commits the result
// durably under the next sequence number, and only then advances the
// in-memory state. stage names the unit of work whose output this patch is;
// nextStage is the resumption point recorded alongside the snapshot.
//
// On commit failure the store rolls back to the pre-apply snapshot and
// returns the error; the caller may retry the same patch safely.
func (s *Store) Apply(ctx context.Context, stage, nextStage string, p Patch) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := Merge(s.snap, p)
	next := s.seq + 1

	if err := s.committer.Commit(ctx, stage, nextStage, next, merged); err != nil {
		return s.snap.Clone(), fmt.Errorf("committing state for stage %s: %w", stage, err)
	}

	s.snap = merged
	s.seq = next
	return merged.Clone(), nil
}
