package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ApexChef/groomflow/internal/errors"
)

// Directory layout under the base dir:
//
//	.groomflow/sessions/<session-id>/checkpoints/000000042.json
//	.groomflow/sessions/<session-id>/session.lock
//	.groomflow/sessions/<session-id>/debug.log
const (
	sessionsDirName    = "sessions"
	checkpointsDirName = "checkpoints"
	dataDirName        = ".groomflow"
)

// SessionsDir returns the path holding all sessions under baseDir.
func SessionsDir(baseDir string) string {
	return filepath.Join(baseDir, dataDirName, sessionsDirName)
}

// SessionDir returns the directory of one session.
func SessionDir(baseDir, sessionID string) string {
	return filepath.Join(SessionsDir(baseDir), sessionID)
}

// FileStore is a file-backed checkpoint Store. One JSON file per checkpoint,
// created with O_EXCL so records are append-only, written atomically via
// temp-file + rename. Safe for concurrent use.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a FileStore rooted at baseDir, creating the sessions
// directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(SessionsDir(baseDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// BaseDir returns the base directory for this store.
func (fs *FileStore) BaseDir() string { return fs.baseDir }

// SessionDir returns the directory of one session under this store.
func (fs *FileStore) SessionDir(sessionID string) string {
	return SessionDir(fs.baseDir, sessionID)
}

// Append implements Store.
func (fs *FileStore) Append(ctx context.Context, cp Checkpoint) error {
	if cp.SessionID == "" {
		return fmt.Errorf("%w: checkpoint session id is empty", errors.ErrInvalidInput)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := fs.checkpointsDir(cp.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := filepath.Join(dir, seqFileName(cp.Seq))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s seq %d", errors.ErrCheckpointExists, cp.SessionID, cp.Seq)
	}

	return atomicWriteNew(path, data)
}

// Latest implements Store.
func (fs *FileStore) Latest(ctx context.Context, sessionID string) (Checkpoint, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	seqs, err := fs.sequences(sessionID)
	if err != nil {
		return Checkpoint{}, err
	}
	return fs.read(sessionID, seqs[len(seqs)-1])
}

// Chain implements Store.
func (fs *FileStore) Chain(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	seqs, err := fs.sequences(sessionID)
	if err != nil {
		return nil, err
	}

	chain := make([]Checkpoint, 0, len(seqs))
	for _, seq := range seqs {
		cp, err := fs.read(sessionID, seq)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cp)
	}
	return chain, nil
}

// List implements Store.
func (fs *FileStore) List(ctx context.Context) ([]SessionInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(SessionsDir(fs.baseDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var infos []SessionInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID := entry.Name()

		seqs, err := fs.sequences(sessionID)
		if err != nil {
			continue // no checkpoints yet, not listable
		}
		latest := seqs[len(seqs)-1]

		info, statErr := os.Stat(filepath.Join(fs.checkpointsDir(sessionID), seqFileName(latest)))
		if statErr != nil {
			continue
		}

		infos = append(infos, SessionInfo{
			SessionID:       sessionID,
			CheckpointCount: len(seqs),
			LatestSeq:       latest,
			UpdatedAt:       info.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Exists implements Store.
func (fs *FileStore) Exists(ctx context.Context, sessionID string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, err := fs.sequences(sessionID)
	return err == nil
}

// Delete removes a session and its entire checkpoint chain. The session must
// not be held by a live writer. Returns ErrSessionNotFound if it never existed.
func (fs *FileStore) Delete(ctx context.Context, sessionID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.sequences(sessionID); err != nil {
		return err
	}
	if lock, held := IsLocked(fs.baseDir, sessionID); held {
		return fmt.Errorf("%w: held by PID %d on %s",
			errors.ErrSessionLocked, lock.PID, lock.Hostname)
	}

	if err := os.RemoveAll(SessionDir(fs.baseDir, sessionID)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// read loads and migrates one checkpoint record.
func (fs *FileStore) read(sessionID string, seq uint64) (Checkpoint, error) {
	path := filepath.Join(fs.checkpointsDir(sessionID), seqFileName(seq))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, fmt.Errorf("%w: %s seq %d", errors.ErrCheckpointNotFound, sessionID, seq)
		}
		return Checkpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", errors.ErrSessionCorrupted, err)
	}
	if cp.SessionID == "" {
		cp.SessionID = sessionID
	}
	return Repair(cp), nil
}

// sequences returns the sorted checkpoint sequence numbers of a session, or
// ErrSessionNotFound if there are none.
func (fs *FileStore) sequences(sessionID string) ([]uint64, error) {
	entries, err := os.ReadDir(fs.checkpointsDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	var seqs []uint64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrSessionNotFound, sessionID)
	}

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (fs *FileStore) checkpointsDir(sessionID string) string {
	return filepath.Join(SessionDir(fs.baseDir, sessionID), checkpointsDirName)
}

func seqFileName(seq uint64) string {
	return fmt.Sprintf("%09d.json", seq)
}

// atomicWriteNew writes data to a new file atomically: the content lands in
// a temp file in the same directory, is synced, then renamed over the target
// only if the target still does not exist.
func atomicWriteNew(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	// Re-check existence right before the rename; the store lock makes
	// this race-free within one process, O_EXCL semantics are kept for
	// cross-process appends by the session writer lock.
	if _, err := os.Stat(path); err == nil {
		return errors.ErrCheckpointExists
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
