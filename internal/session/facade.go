// Package session exposes one persisted grooming run to external callers
// (CLI, dashboards). A Facade wraps a session id plus its checkpoint chain:
// it answers status queries from durable state alone, independent of any
// live engine, and turns submitted human decisions into engine resumes.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ApexChef/groomflow/internal/checkpoint"
	"github.com/ApexChef/groomflow/internal/config"
	"github.com/ApexChef/groomflow/internal/engine"
	"github.com/ApexChef/groomflow/internal/errors"
	"github.com/ApexChef/groomflow/internal/event"
	"github.com/ApexChef/groomflow/internal/interrupt"
	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/logging"
	"github.com/ApexChef/groomflow/internal/router"
	"github.com/ApexChef/groomflow/internal/stage"
	"github.com/ApexChef/groomflow/internal/state"
)

// Status is the externally visible lifecycle state of a session.
type Status string

// Session statuses.
const (
	StatusIdle             Status = "idle"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusAwaitingContext  Status = "awaiting_context"
	StatusCompleted        Status = "completed"
	StatusError            Status = "error"
)

// NewSessionID generates a short, unique session identifier.
func NewSessionID() string {
	return "gs-" + strings.Split(uuid.NewString(), "-")[0]
}

// Facade is a stateful adapter over one persisted session.
type Facade struct {
	id    string
	store *checkpoint.FileStore

	cfg       *config.Config
	bus       *event.Bus
	log       *logging.Logger
	registry  *stage.Registry
	retriever stage.Retriever
}

// Option configures a Facade.
type Option func(*Facade)

// WithConfig overrides the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(f *Facade) { f.cfg = cfg }
}

// WithBus attaches an event bus; engine events are published onto it.
func WithBus(bus *event.Bus) Option {
	return func(f *Facade) { f.bus = bus }
}

// WithLogger attaches a logger.
func WithLogger(log *logging.Logger) Option {
	return func(f *Facade) { f.log = log }
}

// WithRegistry replaces the built-in stage functions wholesale.
func WithRegistry(r *stage.Registry) Option {
	return func(f *Facade) { f.registry = r }
}

// WithRetriever sets the document-retrieval backend used by enrichment.
func WithRetriever(r stage.Retriever) Option {
	return func(f *Facade) { f.retriever = r }
}

// NewFacade creates a Facade for the given session id. The session need not
// exist yet; Start creates it.
func NewFacade(sessionID string, store *checkpoint.FileStore, opts ...Option) *Facade {
	f := &Facade{
		id:    sessionID,
		store: store,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.cfg == nil {
		f.cfg = config.Default()
	}
	if f.bus == nil {
		f.bus = event.NewBus()
	}
	if f.log == nil {
		f.log = logging.NopLogger()
	}
	if f.retriever == nil {
		f.retriever = stage.NopRetriever{}
	}
	if f.registry == nil {
		f.registry = stage.Builtins{
			Retriever:   f.retriever,
			ExportDir:   f.store.SessionDir(sessionID),
			Parallelism: f.cfg.Pipeline.Parallelism,
		}.Registry()
	}
	return f
}

// ID returns the session id.
func (f *Facade) ID() string { return f.id }

// LoadState reconstructs the current state from the latest checkpoint,
// independent of any live engine. Legacy checkpoints are migrated forward
// on read. Returns ErrSessionNotFound if the session has no checkpoints.
func (f *Facade) LoadState(ctx context.Context) (state.Snapshot, error) {
	cp, err := f.latest(ctx)
	if err != nil {
		return state.Snapshot{}, err
	}
	return cp.State, nil
}

// GetStatus derives the session's lifecycle state from durable state alone.
func (f *Facade) GetStatus(ctx context.Context) (Status, error) {
	cp, err := f.latest(ctx)
	if err != nil {
		return "", err
	}
	return statusOf(cp), nil
}

func statusOf(cp checkpoint.Checkpoint) Status {
	snap := cp.State

	if snap.Err != "" {
		return StatusError
	}
	if snap.Pending != nil {
		switch snap.Pending.Kind {
		case item.InterruptApproval:
			return StatusAwaitingApproval
		case item.InterruptContext:
			return StatusAwaitingContext
		}
	}
	if cp.NextStage == stage.Done {
		return StatusCompleted
	}
	if len(snap.WorkItems) > 0 && len(snap.NonTerminal()) == 0 &&
		(len(snap.ApprovedForEnrichment) > 0 || len(snap.ExportedIDs) > 0) {
		return StatusCompleted
	}
	if cp.Seq == 0 {
		return StatusIdle
	}
	return StatusRunning
}

// IsComplete reports whether the session has finished successfully.
func (f *Facade) IsComplete(ctx context.Context) bool {
	status, err := f.GetStatus(ctx)
	return err == nil && status == StatusCompleted
}

// GetPendingApprovals returns the items awaiting an approval decision.
// Empty when the session is not awaiting approval.
func (f *Facade) GetPendingApprovals(ctx context.Context) ([]interrupt.PayloadItem, error) {
	return f.pendingItems(ctx, item.InterruptApproval)
}

// GetPendingContextRequests returns the items awaiting additional context,
// including their synthesized clarifying questions.
func (f *Facade) GetPendingContextRequests(ctx context.Context) ([]interrupt.PayloadItem, error) {
	return f.pendingItems(ctx, item.InterruptContext)
}

func (f *Facade) pendingItems(ctx context.Context, kind item.InterruptKind) ([]interrupt.PayloadItem, error) {
	snap, err := f.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Pending == nil || snap.Pending.Kind != kind {
		return nil, nil
	}
	payload, err := interrupt.Build(snap)
	if err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// GetInterruptMessage returns the active interrupt's human-facing message,
// or "" when the session is not suspended.
func (f *Facade) GetInterruptMessage(ctx context.Context) (string, error) {
	snap, err := f.LoadState(ctx)
	if err != nil {
		return "", err
	}
	if snap.Pending == nil {
		return "", nil
	}
	return snap.Pending.Message, nil
}

// Summary aggregates the externally interesting results of a run.
type Summary struct {
	SessionID    string   `json:"session_id"`
	Status       Status   `json:"status"`
	EventType    string   `json:"event_type,omitempty"`
	TotalItems   int      `json:"total_items"`
	Approved     int      `json:"approved"`
	AutoApproved int      `json:"auto_approved"`
	Rejected     int      `json:"rejected"`
	Exported     int      `json:"exported"`
	AverageScore float64  `json:"average_score"`
	Degraded     []string `json:"degraded,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// GetResultsSummary builds the run summary, including notes for items whose
// analyses degraded to fallbacks.
func (f *Facade) GetResultsSummary(ctx context.Context) (Summary, error) {
	cp, err := f.latest(ctx)
	if err != nil {
		return Summary{}, err
	}
	snap := cp.State

	s := Summary{
		SessionID:    f.id,
		Status:       statusOf(cp),
		EventType:    snap.EventType,
		TotalItems:   len(snap.WorkItems),
		Exported:     len(snap.ExportedIDs),
		AverageScore: snap.AverageScore,
		Error:        snap.Err,
	}
	for _, rs := range snap.Routing {
		switch rs.Status {
		case item.StatusApproved:
			s.Approved++
		case item.StatusAutoApproved:
			s.AutoApproved++
		case item.StatusRejectedFinal:
			s.Rejected++
		}
	}
	for _, e := range snap.Enrichments {
		if e.Degraded {
			s.Degraded = append(s.Degraded, fmt.Sprintf("%s: %s", e.WorkItemID, e.Note))
		}
	}
	for _, r := range snap.Risks {
		if r.Degraded {
			s.Degraded = append(s.Degraded, fmt.Sprintf("%s: %s", r.WorkItemID, r.Note))
		}
	}
	return s, nil
}

// Start creates the session and runs the pipeline until it suspends or
// terminates. The transcript is the raw meeting text.
func (f *Facade) Start(ctx context.Context, transcript string) (engine.Decision, error) {
	if strings.TrimSpace(transcript) == "" {
		return engine.Decision{}, fmt.Errorf("%w: transcript is empty", errors.ErrInvalidInput)
	}
	if f.store.Exists(ctx, f.id) {
		return engine.Decision{}, fmt.Errorf("session %s already exists", f.id)
	}

	lock, err := checkpoint.AcquireLock(f.store.BaseDir(), f.id)
	if err != nil {
		return engine.Decision{}, err
	}
	defer lock.Release()

	initial := state.Snapshot{Transcript: transcript}
	if err := f.store.Append(ctx, checkpoint.Checkpoint{
		SessionID: f.id,
		Seq:       0,
		Stage:     "init",
		NextStage: stage.Detect,
		CreatedAt: time.Now(),
		State:     initial,
	}); err != nil {
		return engine.Decision{}, err
	}

	f.bus.Publish(event.NewSessionStartedEvent(f.id, ""))

	eng := f.engineAt(0, initial, stage.Detect)
	d := eng.Run(ctx)
	return d, d.Err
}

// SubmitApprovals validates that the session is awaiting approval, then
// resumes the engine from the persisted suspension point with the given
// per-item decisions ("approve" or "reject"). A submission against any
// other status is rejected synchronously with no state change.
func (f *Facade) SubmitApprovals(ctx context.Context, decisions map[string]string) (engine.Decision, error) {
	return f.resume(ctx, StatusAwaitingApproval, func(eng *engine.Engine) (engine.Decision, error) {
		return eng.ResumeApprovals(ctx, decisions)
	})
}

// SubmitContext validates that the session is awaiting context, then resumes
// with the given per-item texts. An empty map is a valid "skip" response:
// it still consumes a rescore round for every item in the interrupt.
func (f *Facade) SubmitContext(ctx context.Context, contexts map[string]string) (engine.Decision, error) {
	return f.resume(ctx, StatusAwaitingContext, func(eng *engine.Engine) (engine.Decision, error) {
		return eng.ResumeContext(ctx, contexts)
	})
}

func (f *Facade) resume(ctx context.Context, want Status, fn func(*engine.Engine) (engine.Decision, error)) (engine.Decision, error) {
	cp, err := f.latest(ctx)
	if err != nil {
		return engine.Decision{}, err
	}
	if got := statusOf(cp); got != want {
		sentinel := errors.ErrNotAwaitingApproval
		if want == StatusAwaitingContext {
			sentinel = errors.ErrNotAwaitingContext
		}
		return engine.Decision{}, fmt.Errorf("%w: session %s is %s", sentinel, f.id, got)
	}

	lock, err := checkpoint.AcquireLock(f.store.BaseDir(), f.id)
	if err != nil {
		return engine.Decision{}, err
	}
	defer lock.Release()

	eng := f.engineAt(cp.Seq, cp.State, cp.NextStage)
	d, err := fn(eng)
	if err != nil {
		return engine.Decision{}, err
	}
	return d, d.Err
}

// engineAt builds an engine positioned at a restored checkpoint.
func (f *Facade) engineAt(seq uint64, snap state.Snapshot, next string) *engine.Engine {
	store := state.Restore(f.id, seq, snap, f.committer())
	runner := stage.NewRunner(f.registry, f.log, stage.RetryConfig{
		MaxAttempts:     f.cfg.Retry.MaxAttempts,
		InitialInterval: f.cfg.Retry.InitialInterval,
		MaxInterval:     f.cfg.Retry.MaxInterval,
	})
	cfg := engine.Config{
		Router: router.Config{
			AutoThreshold:      f.cfg.Scoring.AutoThreshold,
			HumanThreshold:     f.cfg.Scoring.HumanThreshold,
			MaxRescoreAttempts: f.cfg.Scoring.MaxRescoreAttempts,
		},
		DependencyMapping: f.cfg.Pipeline.DependencyMapping,
	}
	return engine.New(store, runner, cfg, f.bus, f.log, next)
}

// committer persists each applied patch as the session's next checkpoint.
func (f *Facade) committer() state.Committer {
	return state.CommitterFunc(func(ctx context.Context, stageName, nextStage string, seq uint64, snap state.Snapshot) error {
		parent := uint64(0)
		if seq > 0 {
			parent = seq - 1
		}
		return f.store.Append(ctx, checkpoint.Checkpoint{
			SessionID: f.id,
			Seq:       seq,
			ParentSeq: parent,
			Stage:     stageName,
			NextStage: nextStage,
			CreatedAt: time.Now(),
			State:     snap,
		})
	})
}

func (f *Facade) latest(ctx context.Context) (checkpoint.Checkpoint, error) {
	return f.store.Latest(ctx, f.id)
}

// List summarizes all persisted sessions, most recently updated first.
func List(ctx context.Context, store *checkpoint.FileStore) ([]checkpoint.SessionInfo, error) {
	return store.List(ctx)
}
