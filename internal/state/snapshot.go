// Package state owns the canonical in-memory state of one grooming session
// and its merge semantics. A Snapshot is the full value of a session at one
// point in the pipeline; a Patch is the partial output of one stage. Merge
// behavior is declared per field as a Policy rather than scattered through
// ad hoc callbacks, and every applied patch is committed to durable storage
// before the in-memory state advances.
package state

import (
	"maps"
	"slices"

	"github.com/ApexChef/groomflow/internal/item"
)

// Snapshot is the complete state of one session. All collections are value
// slices keyed by work item id; nothing holds pointers between values.
type Snapshot struct {
	Transcript   string  `json:"transcript,omitempty"`
	EventType    string  `json:"event_type,omitempty"`
	AverageScore float64 `json:"average_score,omitempty"`
	Err          string  `json:"error,omitempty"`

	WorkItems   []item.WorkItem       `json:"work_items,omitempty"`
	Scores      []item.Score          `json:"scores,omitempty"`
	Edges       []item.DependencyEdge `json:"edges,omitempty"`
	Routing     []item.RoutingStatus  `json:"routing,omitempty"`
	Risks       []item.RiskAnalysis   `json:"risks,omitempty"`
	Enrichments []item.Enrichment     `json:"enrichments,omitempty"`

	ApprovedForEnrichment []string `json:"approved_for_enrichment,omitempty"`
	ExportedIDs           []string `json:"exported_ids,omitempty"`

	Pending *item.PendingInterrupt `json:"pending_interrupt,omitempty"`
}

// WorkItem returns the work item with the given id, if present.
func (s Snapshot) WorkItem(id string) (item.WorkItem, bool) {
	for _, wi := range s.WorkItems {
		if wi.ID == id {
			return wi, true
		}
	}
	return item.WorkItem{}, false
}

// ScoreFor returns the current score for the given item, if one exists.
func (s Snapshot) ScoreFor(id string) (item.Score, bool) {
	for _, sc := range s.Scores {
		if sc.WorkItemID == id {
			return sc, true
		}
	}
	return item.Score{}, false
}

// RoutingFor returns the routing status for the given item. Items that have
// never been routed report StatusPending.
func (s Snapshot) RoutingFor(id string) item.RoutingStatus {
	for _, rs := range s.Routing {
		if rs.WorkItemID == id {
			return rs
		}
	}
	return item.RoutingStatus{WorkItemID: id, Status: item.StatusPending}
}

// NonTerminal returns the ids of work items whose routing status is not
// final, in work-item order.
func (s Snapshot) NonTerminal() []string {
	var ids []string
	for _, wi := range s.WorkItems {
		if !s.RoutingFor(wi.ID).Status.Terminal() {
			ids = append(ids, wi.ID)
		}
	}
	return ids
}

// Approved reports whether the given item has joined the approved set.
func (s Snapshot) Approved(id string) bool {
	return slices.Contains(s.ApprovedForEnrichment, id)
}

// Clone returns a deep copy of the snapshot. Mutating the copy never affects
// the original.
func (s Snapshot) Clone() Snapshot {
	out := s

	out.WorkItems = slices.Clone(s.WorkItems)

	out.Scores = make([]item.Score, len(s.Scores))
	for i, sc := range s.Scores {
		out.Scores[i] = cloneScore(sc)
	}

	out.Edges = slices.Clone(s.Edges)
	out.Routing = slices.Clone(s.Routing)

	out.Risks = make([]item.RiskAnalysis, len(s.Risks))
	for i, r := range s.Risks {
		r.Factors = slices.Clone(r.Factors)
		r.Mitigations = slices.Clone(r.Mitigations)
		out.Risks[i] = r
	}

	out.Enrichments = make([]item.Enrichment, len(s.Enrichments))
	for i, e := range s.Enrichments {
		e.AcceptanceCriteria = slices.Clone(e.AcceptanceCriteria)
		e.References = slices.Clone(e.References)
		out.Enrichments[i] = e
	}

	out.ApprovedForEnrichment = slices.Clone(s.ApprovedForEnrichment)
	out.ExportedIDs = slices.Clone(s.ExportedIDs)

	if s.Pending != nil {
		p := *s.Pending
		p.WorkItemIDs = slices.Clone(p.WorkItemIDs)
		out.Pending = &p
	}

	return out
}

func cloneScore(sc item.Score) item.Score {
	sc.Dimensions = maps.Clone(sc.Dimensions)
	sc.Missing = slices.Clone(sc.Missing)
	sc.Strengths = slices.Clone(sc.Strengths)
	sc.Concerns = slices.Clone(sc.Concerns)
	sc.Recommendations = slices.Clone(sc.Recommendations)
	return sc
}
