// Package engine drives one session through the grooming pipeline. The
// Engine is an explicit state machine over stage names: each step produces
// an inspectable Decision (continue, suspend, terminate) instead of
// signalling through control flow, and every transition is checkpointed
// before the next stage begins. Suspension is a full stop: the engine
// returns, holding no locks and no goroutines, and a new Engine in any later
// process resumes from the persisted resumption point.
package engine

import (
	"context"
	"fmt"

	"github.com/ApexChef/groomflow/internal/errors"
	"github.com/ApexChef/groomflow/internal/event"
	"github.com/ApexChef/groomflow/internal/interrupt"
	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/logging"
	"github.com/ApexChef/groomflow/internal/router"
	"github.com/ApexChef/groomflow/internal/stage"
	"github.com/ApexChef/groomflow/internal/state"
)

// Kind is the exit type of one engine step.
type Kind int

const (
	// Continue means a stage committed its patch and a next stage is set.
	Continue Kind = iota
	// Suspend means the session is paused awaiting an external decision.
	Suspend
	// Terminate means the session reached done or failed fatally.
	Terminate
)

// String returns the string representation of the decision kind.
func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Suspend:
		return "suspend"
	case Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Decision is the engine's verdict after executing a stage. It is a plain
// value: serializable, inspectable, and sufficient for callers to render
// pending work or final results without reaching into the engine.
type Decision struct {
	Kind Kind
	// Next is the stage that will execute next (Continue only).
	Next string
	// Payload describes the pending interrupt (Suspend only).
	Payload *interrupt.Payload
	// Final is the terminal state snapshot (Terminate only).
	Final *state.Snapshot
	// Err is the fatal error that ended the session, if any.
	Err error
}

// Config carries the engine's routing and sequencing knobs.
type Config struct {
	Router router.Config
	// DependencyMapping toggles the optional depmap stage.
	DependencyMapping bool
}

// Engine executes one session. It is single-writer by construction: all
// mutations flow through its state store sequentially, and callers hold the
// session's writer lock for the duration of a Run or resume.
type Engine struct {
	store   *state.Store
	runner  *stage.Runner
	cfg     Config
	bus     *event.Bus
	log     *logging.Logger
	current string // next stage to execute
}

// New creates an Engine positioned at the given stage. For fresh sessions
// that is stage.Detect; for restored sessions it is the NextStage of the
// latest checkpoint.
func New(store *state.Store, runner *stage.Runner, cfg Config, bus *event.Bus, log *logging.Logger, current string) *Engine {
	if log == nil {
		log = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	if current == "" {
		current = stage.Detect
	}
	return &Engine{
		store:   store,
		runner:  runner,
		cfg:     cfg,
		bus:     bus,
		log:     log.WithSession(store.SessionID()),
		current: current,
	}
}

// Current returns the stage the engine will execute next.
func (e *Engine) Current() string { return e.current }

// Run drives the pipeline until it suspends or terminates. At most one
// stage executes against the session's state at a time; a crash after any
// checkpoint resumes at the recorded next stage, never re-running a
// committed one.
func (e *Engine) Run(ctx context.Context) Decision {
	for {
		d := e.Step(ctx)
		if d.Kind != Continue {
			return d
		}
	}
}

// Step executes exactly one stage and returns the resulting Decision.
func (e *Engine) Step(ctx context.Context) Decision {
	name := e.current
	log := e.log.WithStage(name)

	switch name {
	case stage.Route:
		return e.routeStep(ctx)

	case stage.Approve, stage.RequestContext:
		// Reached when a restored session is still suspended: re-emit
		// the suspension without touching state.
		payload, err := interrupt.Build(e.store.Get())
		if err != nil {
			return e.fatal(ctx, name, err)
		}
		return Decision{Kind: Suspend, Next: name, Payload: &payload}

	case stage.Done:
		return e.finish(ctx)

	default:
		snap := e.store.Get()
		patch, err := e.runner.Run(ctx, name, snap)
		if err != nil {
			log.Error("stage failed", "error", err)
			return e.fatal(ctx, name, err)
		}

		next := e.nextAfter(name)
		if _, err := e.store.Apply(ctx, name, next, patch); err != nil {
			return Decision{Kind: Terminate, Err: err}
		}

		log.Info("stage completed", "next", next, "seq", e.store.Seq())
		e.bus.Publish(event.NewStageCompletedEvent(e.store.SessionID(), name, next, e.store.Seq()))

		e.current = next
		return Decision{Kind: Continue, Next: next}
	}
}

// routeStep asks the router for the next move and applies its transitions.
func (e *Engine) routeStep(ctx context.Context) Decision {
	snap := e.store.Get()
	d := router.Route(snap, e.cfg.Router)

	merged, err := e.store.Apply(ctx, stage.Route, d.Next, d.Patch)
	if err != nil {
		return Decision{Kind: Terminate, Err: err}
	}
	e.bus.Publish(event.NewStageCompletedEvent(e.store.SessionID(), stage.Route, d.Next, e.store.Seq()))
	e.current = d.Next

	if d.Interrupt == nil {
		return Decision{Kind: Continue, Next: d.Next}
	}

	payload, err := interrupt.Build(merged)
	if err != nil {
		return e.fatal(ctx, stage.Route, err)
	}

	e.log.Info("session suspended",
		"kind", string(d.Interrupt.Kind),
		"items", d.Interrupt.WorkItemIDs)
	e.bus.Publish(event.NewInterruptRaisedEvent(
		e.store.SessionID(), string(d.Interrupt.Kind), d.Interrupt.WorkItemIDs, d.Interrupt.Message))

	return Decision{Kind: Suspend, Next: d.Next, Payload: &payload}
}

// ResumeApprovals injects submitted approval decisions and continues the
// run. The continuation target is fixed (the router) regardless of payload
// content.
func (e *Engine) ResumeApprovals(ctx context.Context, decisions map[string]string) (Decision, error) {
	res, err := interrupt.ResumeApproval(e.store.Get(), decisions)
	if err != nil {
		return Decision{}, err
	}
	return e.resume(ctx, stage.Approve, item.InterruptApproval, res)
}

// ResumeContext injects submitted context text and continues the run with a
// rescore. An empty submission is valid and still consumes a rescore round.
func (e *Engine) ResumeContext(ctx context.Context, contexts map[string]string) (Decision, error) {
	res, err := interrupt.ResumeContext(e.store.Get(), contexts)
	if err != nil {
		return Decision{}, err
	}
	return e.resume(ctx, stage.RequestContext, item.InterruptContext, res)
}

// resume commits the interrupter's patch, clearing the pending interrupt,
// and re-enters the loop at the fixed continuation stage.
func (e *Engine) resume(ctx context.Context, from string, kind item.InterruptKind, res interrupt.Resumption) (Decision, error) {
	if _, err := e.store.Apply(ctx, from, res.Next, res.Patch); err != nil {
		// The checkpoint write failed, so the interrupt is still
		// pending; the caller may retry the same payload safely.
		return Decision{}, err
	}

	e.log.Info("session resumed", "kind", string(kind), "next", res.Next)
	e.bus.Publish(event.NewSessionResumedEvent(e.store.SessionID(), string(kind)))

	e.current = res.Next
	return e.Run(ctx), nil
}

// finish checkpoints nothing further; it summarizes and terminates.
func (e *Engine) finish(ctx context.Context) Decision {
	snap := e.store.Get()

	approved, rejected := 0, 0
	for _, rs := range snap.Routing {
		switch rs.Status {
		case item.StatusApproved, item.StatusAutoApproved:
			approved++
		case item.StatusRejectedFinal:
			rejected++
		}
	}

	e.log.Info("session completed",
		"approved", approved, "rejected", rejected, "exported", len(snap.ExportedIDs))
	e.bus.Publish(event.NewSessionCompletedEvent(
		e.store.SessionID(), approved, rejected, len(snap.ExportedIDs)))

	return Decision{Kind: Terminate, Final: &snap}
}

// fatal records the failure in state so the session reads as errored from
// its checkpoint chain alone, then terminates.
func (e *Engine) fatal(ctx context.Context, failedStage string, cause error) Decision {
	msg := fmt.Sprintf("stage %s: %v", failedStage, cause)
	errPatch := state.Patch{Err: &msg}

	snap, applyErr := e.store.Apply(ctx, failedStage, stage.Done, errPatch)
	if applyErr != nil {
		// The error state could not be persisted; surface both.
		cause = errors.Join(cause, applyErr)
	}

	e.bus.Publish(event.NewSessionFailedEvent(e.store.SessionID(), failedStage, msg))
	return Decision{
		Kind:  Terminate,
		Final: &snap,
		Err:   fmt.Errorf("session %s: %w", e.store.SessionID(), cause),
	}
}

// nextAfter returns the successor of a linear pipeline stage.
func (e *Engine) nextAfter(name string) string {
	switch name {
	case stage.Detect:
		return stage.Extract
	case stage.Extract:
		if e.cfg.DependencyMapping {
			return stage.DepMap
		}
		return stage.Score
	case stage.DepMap:
		return stage.Score
	case stage.Score:
		return stage.Route
	case stage.Enrich:
		return stage.Consolidate
	case stage.Consolidate:
		return stage.Risk
	case stage.Risk:
		return stage.Export
	case stage.Export:
		return stage.Done
	default:
		return stage.Done
	}
}
