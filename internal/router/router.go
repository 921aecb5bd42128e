// Package router decides what the engine does next. Route is a pure
// function from a state snapshot to a Decision: identical snapshots always
// produce identical decisions, which keeps routing reproducible across
// process restarts and replays.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/stage"
	"github.com/ApexChef/groomflow/internal/state"
)

// Config carries the routing thresholds and the rescore cap.
type Config struct {
	// AutoThreshold: scores at or above are auto-approved.
	AutoThreshold float64
	// HumanThreshold: scores at or above (but below AutoThreshold) go to
	// human approval; below it the item needs more context.
	HumanThreshold float64
	// MaxRescoreAttempts caps context/rescore rounds per item.
	MaxRescoreAttempts int
}

// Decision is the router's verdict for one round.
type Decision struct {
	// Next is the stage to continue with when Interrupt is nil:
	// stage.Enrich when approved work exists, stage.Done otherwise.
	Next string
	// Interrupt, when non-nil, suspends the session. Approval interrupts
	// take priority over context interrupts raised in the same round.
	Interrupt *item.PendingInterrupt
	// Patch carries the status transitions this round produced and must be
	// applied whether the session continues or suspends.
	Patch state.Patch
}

// Route inspects every non-terminal work item's score and decision history
// and produces the next Decision.
//
// Per item, with category derived from the overall score:
//
//	high (≥ AutoThreshold)            → auto_approved (terminal)
//	medium, no human decision         → awaiting_approval
//	medium, approved                  → approved (terminal)
//	medium, rejected                  → awaiting_context
//	low, rescore count below the cap  → awaiting_context
//	low, rescore count at the cap     → rejected_final (terminal)
//
// Resolving a context round increments the item's rescore count regardless
// of which branch led there, so an item oscillating between rejected-medium
// and low scores is bounded by the same cap.
func Route(snap state.Snapshot, cfg Config) Decision {
	var d Decision

	var awaitingApproval, awaitingContext []string
	var approved []string

	for _, wi := range snap.WorkItems {
		rs := snap.RoutingFor(wi.ID)
		if rs.Status.Terminal() {
			continue
		}

		score, ok := snap.ScoreFor(wi.ID)
		if !ok {
			// Not scored yet; scoring precedes routing, so leave the
			// item untouched rather than guessing.
			continue
		}

		switch {
		case score.Overall >= cfg.AutoThreshold:
			rs.Status = item.StatusAutoApproved
			approved = append(approved, wi.ID)

		case score.Overall >= cfg.HumanThreshold:
			switch rs.HumanDecision {
			case item.DecisionApprove:
				rs.Status = item.StatusApproved
				approved = append(approved, wi.ID)
			case item.DecisionReject:
				rs = enterContext(rs, cfg)
			default:
				rs.Status = item.StatusAwaitingApproval
			}

		default:
			rs = enterContext(rs, cfg)
		}

		switch rs.Status {
		case item.StatusAwaitingApproval:
			awaitingApproval = append(awaitingApproval, wi.ID)
		case item.StatusAwaitingContext:
			awaitingContext = append(awaitingContext, wi.ID)
		}

		d.Patch.Routing = append(d.Patch.Routing, rs)
	}

	d.Patch.ApprovedForEnrichment = approved

	switch {
	case len(awaitingApproval) > 0:
		d.Interrupt = &item.PendingInterrupt{
			Kind:        item.InterruptApproval,
			WorkItemIDs: awaitingApproval,
			Message: fmt.Sprintf("%d item(s) scored in the review band and need an approval decision: %s",
				len(awaitingApproval), strings.Join(awaitingApproval, ", ")),
		}
		d.Next = stage.Approve

	case len(awaitingContext) > 0:
		d.Interrupt = &item.PendingInterrupt{
			Kind:        item.InterruptContext,
			WorkItemIDs: awaitingContext,
			Message: fmt.Sprintf("%d item(s) need more context before they can be rescored: %s",
				len(awaitingContext), strings.Join(awaitingContext, ", ")),
		}
		d.Next = stage.RequestContext

	case hasApprovedWork(snap, approved):
		d.Next = stage.Enrich

	default:
		d.Next = stage.Done
	}

	if d.Interrupt != nil {
		sort.Strings(d.Interrupt.WorkItemIDs)
		d.Patch.Pending = d.Interrupt
		d.Patch.SetPending = true
	}

	return d
}

// enterContext transitions an item into awaiting_context. An item that has
// already consumed all its rescore attempts is forced to rejected_final
// regardless of score.
func enterContext(rs item.RoutingStatus, cfg Config) item.RoutingStatus {
	if rs.RescoreCount >= cfg.MaxRescoreAttempts {
		rs.Status = item.StatusRejectedFinal
		return rs
	}
	rs.Status = item.StatusAwaitingContext
	return rs
}

// hasApprovedWork reports whether this round or any earlier one approved at
// least one item.
func hasApprovedWork(snap state.Snapshot, newlyApproved []string) bool {
	return len(newlyApproved) > 0 || len(snap.ApprovedForEnrichment) > 0
}
