// Package item defines the value types that flow through the grooming
// pipeline: work items extracted from transcripts, their scores, dependency
// edges between them, and the per-item routing bookkeeping.
//
// All types are plain values referenced by id. Nothing in this package holds
// a pointer to another item value, so serialized state never contains cyclic
// object graphs.
package item

import "time"

// Type classifies a work item.
type Type string

// Work item types.
const (
	TypeFeature  Type = "feature"
	TypeBug      Type = "bug"
	TypeTechDebt Type = "tech-debt"
	TypeSpike    Type = "spike"
)

// WorkItem is a unit of proposed work extracted from a transcript.
//
// HumanSuppliedText accumulates across context rounds and is never
// overwritten; ConsolidatedText is derived from the other text fields and is
// invalidated whenever HumanSuppliedText changes.
type WorkItem struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Type              Type   `json:"type"`
	RawContext        string `json:"raw_context,omitempty"`
	ExtractedText     string `json:"extracted_text,omitempty"`
	HumanSuppliedText string `json:"human_supplied_text,omitempty"`
	ConsolidatedText  string `json:"consolidated_text,omitempty"`

	// Sequence and Parallelizable are assigned by the dependency-mapping
	// stage. Sequence is 1-based; 0 means not yet sequenced.
	Sequence       int  `json:"sequence,omitempty"`
	Parallelizable bool `json:"parallelizable,omitempty"`
}

// Score is the evaluation of one work item. A recomputed score supersedes
// the previous one for the same item; scores are never merged.
type Score struct {
	WorkItemID      string             `json:"work_item_id"`
	Dimensions      map[string]float64 `json:"dimensions,omitempty"`
	Overall         float64            `json:"overall"`
	Missing         []string           `json:"missing,omitempty"`
	Strengths       []string           `json:"strengths,omitempty"`
	Concerns        []string           `json:"concerns,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// EdgeKind labels a dependency edge.
type EdgeKind string

// Edge kinds. Only Blocks edges participate in ordering.
const (
	EdgeBlocks    EdgeKind = "blocks"
	EdgeRelatesTo EdgeKind = "relates-to"
	EdgeExtends   EdgeKind = "extends"
)

// EdgeStrength qualifies how firm a dependency is.
type EdgeStrength string

// Edge strengths.
const (
	StrengthHard EdgeStrength = "hard"
	StrengthSoft EdgeStrength = "soft"
)

// DependencyEdge is a directed, labeled edge between two work item ids.
type DependencyEdge struct {
	Source   string       `json:"source"`
	Target   string       `json:"target"`
	Kind     EdgeKind     `json:"kind"`
	Strength EdgeStrength `json:"strength"`
	Reason   string       `json:"reason,omitempty"`
}

// Status is the routing state of one work item.
type Status string

// Routing statuses. Approved, AutoApproved and RejectedFinal are terminal:
// an item in one of these states is never routed again.
const (
	StatusPending          Status = "pending"
	StatusAutoApproved     Status = "auto_approved"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusAwaitingContext  Status = "awaiting_context"
	StatusApproved         Status = "approved"
	StatusRejectedFinal    Status = "rejected_final"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusAutoApproved, StatusRejectedFinal:
		return true
	}
	return false
}

// Decision values recorded on a RoutingStatus after a human approval round.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// RoutingStatus tracks where one work item sits in the approval loop.
// RescoreCount increments on every entry into awaiting_context and is capped
// by configuration; at the cap the item is forced to rejected_final.
type RoutingStatus struct {
	WorkItemID    string `json:"work_item_id"`
	Status        Status `json:"status"`
	RescoreCount  int    `json:"rescore_count"`
	HumanDecision string `json:"human_decision,omitempty"`
}

// InterruptKind names the two suspension points.
type InterruptKind string

// Interrupt kinds.
const (
	InterruptApproval InterruptKind = "approval"
	InterruptContext  InterruptKind = "context"
)

// PendingInterrupt marks a session as suspended awaiting an external
// decision. At most one is active per session; it is set by the router and
// cleared only by the matching interrupter on resume.
type PendingInterrupt struct {
	Kind        InterruptKind `json:"kind"`
	WorkItemIDs []string      `json:"work_item_ids"`
	Message     string        `json:"message"`
	RaisedAt    time.Time     `json:"raised_at"`
}

// RiskAnalysis is the risk stage's output for one item. Degraded marks a
// fallback substituted after the stage function failed for this item.
type RiskAnalysis struct {
	WorkItemID  string   `json:"work_item_id"`
	Level       string   `json:"level"`
	Factors     []string `json:"factors,omitempty"`
	Mitigations []string `json:"mitigations,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// Enrichment is the enrichment stage's output for one approved item.
type Enrichment struct {
	WorkItemID         string   `json:"work_item_id"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	References         []string `json:"references,omitempty"`
	Degraded           bool     `json:"degraded,omitempty"`
	Note               string   `json:"note,omitempty"`
}
