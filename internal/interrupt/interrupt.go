// Package interrupt maps between engine state and the human-facing side of
// a suspension. For an active PendingInterrupt it builds the payload shown
// to the caller; for a submitted response it builds the state patch and the
// continuation target that re-enter the pipeline.
//
// Suspension itself is a value returned by the engine, not control flow:
// nothing here blocks a goroutine or holds a lock while waiting.
package interrupt

import (
	"fmt"
	"strings"

	"github.com/ApexChef/groomflow/internal/errors"
	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/stage"
	"github.com/ApexChef/groomflow/internal/state"
)

// MaxQuestionsPerItem bounds the clarifying questions synthesized for one
// work item in a context payload.
const MaxQuestionsPerItem = 5

// Payload is the human-facing view of a suspension.
type Payload struct {
	Kind    item.InterruptKind `json:"kind"`
	Message string             `json:"message"`
	Items   []PayloadItem      `json:"items"`
}

// PayloadItem is one work item awaiting a decision.
type PayloadItem struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
	// Questions is populated for context interrupts only.
	Questions []string `json:"questions,omitempty"`
}

// Resumption is an interrupter's mapping of an external response back into
// the pipeline: a state patch plus the fixed stage to continue with.
type Resumption struct {
	Patch state.Patch
	Next  string
}

// Build constructs the payload for the snapshot's active interrupt.
// Returns ErrNoPendingInterrupt when the session is not suspended.
func Build(snap state.Snapshot) (Payload, error) {
	if snap.Pending == nil {
		return Payload{}, errors.ErrNoPendingInterrupt
	}

	p := Payload{
		Kind:    snap.Pending.Kind,
		Message: snap.Pending.Message,
	}

	for _, id := range snap.Pending.WorkItemIDs {
		wi, ok := snap.WorkItem(id)
		if !ok {
			continue
		}
		pi := PayloadItem{ID: id, Title: wi.Title}
		if score, ok := snap.ScoreFor(id); ok {
			pi.Score = score.Overall
			if p.Kind == item.InterruptContext {
				pi.Questions = Questions(score)
			}
		}
		p.Items = append(p.Items, pi)
	}

	return p, nil
}

// Questions synthesizes clarifying questions from a score's missing
// elements and recommendations, at most MaxQuestionsPerItem. Template
// rules:
//
//	mentions "acceptance criteria" → ask for done-conditions
//	mentions "description"         → ask to elaborate
//	mentions "scope"               → ask for boundaries
//	anything else                  → "Please provide: X"
func Questions(score item.Score) []string {
	var questions []string
	seen := make(map[string]bool)

	add := func(q string) {
		if len(questions) < MaxQuestionsPerItem && !seen[q] {
			seen[q] = true
			questions = append(questions, q)
		}
	}

	for _, element := range score.Missing {
		add(questionFor(element))
	}
	for _, rec := range score.Recommendations {
		add(questionFor(rec))
	}
	return questions
}

// questionFor applies the template rules to one missing element or
// recommendation.
func questionFor(element string) string {
	lower := strings.ToLower(element)
	switch {
	case strings.Contains(lower, "acceptance criteria"):
		return fmt.Sprintf("What conditions must hold for this to be considered done? (%s)", element)
	case strings.Contains(lower, "description"):
		return fmt.Sprintf("Can you elaborate on what this work involves? (%s)", element)
	case strings.Contains(lower, "scope"):
		return fmt.Sprintf("What is in and out of bounds for this item? (%s)", element)
	default:
		return fmt.Sprintf("Please provide: %s", element)
	}
}

// ResumeApproval maps per-item approve/reject decisions back into state.
// Each decision is recorded on the item's routing status; the actual
// transition (approved vs. awaiting_context) is the router's job, so the
// continuation target is always the routing stage regardless of payload
// content. The pending interrupt is cleared.
func ResumeApproval(snap state.Snapshot, decisions map[string]string) (Resumption, error) {
	if snap.Pending == nil || snap.Pending.Kind != item.InterruptApproval {
		return Resumption{}, errors.ErrNotAwaitingApproval
	}

	for id, decision := range decisions {
		if decision != item.DecisionApprove && decision != item.DecisionReject {
			return Resumption{}, fmt.Errorf("%w: decision for %s must be %q or %q, got %q",
				errors.ErrInvalidInput, id, item.DecisionApprove, item.DecisionReject, decision)
		}
		if !covered(snap.Pending.WorkItemIDs, id) {
			return Resumption{}, fmt.Errorf("%w: item %s is not awaiting approval",
				errors.ErrInvalidInput, id)
		}
	}

	r := Resumption{Next: stage.Route}
	for _, id := range snap.Pending.WorkItemIDs {
		rs := snap.RoutingFor(id)
		if decision, ok := decisions[id]; ok {
			rs.HumanDecision = decision
		}
		r.Patch.Routing = append(r.Patch.Routing, rs)
	}

	r.Patch.SetPending = true // replace with nothing: interrupt resolved
	return r, nil
}

// ResumeContext maps submitted context text back into state. For every item
// covered by the interrupt, answered or not, the rescore count increments
// and the routing status resets to pending so the item is rescored; an
// empty or skipped response is equivalent to empty context and still
// consumes a round. Supplied text is appended to the item's human text by
// the state merge, which also invalidates any stale consolidation. The
// continuation target is always the scoring stage.
func ResumeContext(snap state.Snapshot, contexts map[string]string) (Resumption, error) {
	if snap.Pending == nil || snap.Pending.Kind != item.InterruptContext {
		return Resumption{}, errors.ErrNotAwaitingContext
	}

	for id := range contexts {
		if !covered(snap.Pending.WorkItemIDs, id) {
			return Resumption{}, fmt.Errorf("%w: item %s is not awaiting context",
				errors.ErrInvalidInput, id)
		}
	}

	r := Resumption{Next: stage.Score}
	for _, id := range snap.Pending.WorkItemIDs {
		rs := snap.RoutingFor(id)
		rs.Status = item.StatusPending
		rs.RescoreCount++
		rs.HumanDecision = ""
		r.Patch.Routing = append(r.Patch.Routing, rs)

		if text := strings.TrimSpace(contexts[id]); text != "" {
			r.Patch.WorkItems = append(r.Patch.WorkItems, item.WorkItem{
				ID:                id,
				HumanSuppliedText: text,
			})
		}
	}

	r.Patch.SetPending = true
	return r, nil
}

func covered(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
