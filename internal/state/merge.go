package state

import (
	"slices"
	"strings"

	"github.com/ApexChef/groomflow/internal/item"
)

// Policy declares how a patch value combines with the prior value of one
// snapshot field. Merge semantics are data: every field is bound to exactly
// one policy in fieldPolicies, and Merge applies that policy uniformly.
type Policy int

const (
	// PolicyReplace overwrites a scalar when the patch supplies a value.
	PolicyReplace Policy = iota
	// PolicyMergeByID matches collection entries by work item id and
	// overwrites per entry. Work items additionally preserve and append
	// their human-text fields (see mergeWorkItem).
	PolicyMergeByID
	// PolicyUnion adds patch values to a set; values are never removed.
	PolicyUnion
	// PolicyReplaceWhole discards the prior value entirely. Used for
	// collections that are recomputed wholesale each time.
	PolicyReplaceWhole
)

// fieldPolicies binds every snapshot field to its merge policy.
var fieldPolicies = map[string]Policy{
	"transcript":    PolicyReplace,
	"event_type":    PolicyReplace,
	"average_score": PolicyReplace,
	"error":         PolicyReplace,

	"work_items":  PolicyMergeByID,
	"scores":      PolicyMergeByID,
	"routing":     PolicyMergeByID,
	"risks":       PolicyMergeByID,
	"enrichments": PolicyMergeByID,

	"approved_for_enrichment": PolicyUnion,
	"exported_ids":            PolicyUnion,

	"edges":             PolicyReplaceWhole,
	"pending_interrupt": PolicyReplaceWhole,
}

// PolicyFor returns the declared merge policy for a snapshot field name
// (its JSON key). Unknown fields default to PolicyReplace.
func PolicyFor(field string) Policy {
	if p, ok := fieldPolicies[field]; ok {
		return p
	}
	return PolicyReplace
}

// Patch is the partial output of one stage. Nil pointer scalars and nil
// slices mean "field untouched". SetEdges/SetPending distinguish "replace
// with empty" from "untouched" for the two replace-whole fields.
type Patch struct {
	Transcript   *string
	EventType    *string
	AverageScore *float64
	Err          *string

	WorkItems   []item.WorkItem
	Scores      []item.Score
	Routing     []item.RoutingStatus
	Risks       []item.RiskAnalysis
	Enrichments []item.Enrichment

	ApprovedForEnrichment []string
	ExportedIDs           []string

	Edges    []item.DependencyEdge
	SetEdges bool

	Pending    *item.PendingInterrupt
	SetPending bool
}

// IsZero reports whether the patch touches nothing.
func (p Patch) IsZero() bool {
	return p.Transcript == nil && p.EventType == nil && p.AverageScore == nil &&
		p.Err == nil && p.WorkItems == nil && p.Scores == nil && p.Routing == nil &&
		p.Risks == nil && p.Enrichments == nil && p.ApprovedForEnrichment == nil &&
		p.ExportedIDs == nil && !p.SetEdges && !p.SetPending
}

// Merge combines a snapshot with a patch according to the declared field
// policies and returns the resulting snapshot. Neither input is mutated.
func Merge(snap Snapshot, p Patch) Snapshot {
	out := snap.Clone()

	// Replace-on-write scalars.
	if p.Transcript != nil {
		out.Transcript = *p.Transcript
	}
	if p.EventType != nil {
		out.EventType = *p.EventType
	}
	if p.AverageScore != nil {
		out.AverageScore = *p.AverageScore
	}
	if p.Err != nil {
		out.Err = *p.Err
	}

	// Append/dedupe-by-id collections.
	out.WorkItems = mergeByID(out.WorkItems, p.WorkItems,
		func(wi item.WorkItem) string { return wi.ID }, mergeWorkItem)
	out.Scores = mergeByID(out.Scores, p.Scores,
		func(sc item.Score) string { return sc.WorkItemID }, replaceEntry[item.Score])
	out.Routing = mergeByID(out.Routing, p.Routing,
		func(rs item.RoutingStatus) string { return rs.WorkItemID }, replaceEntry[item.RoutingStatus])
	out.Risks = mergeByID(out.Risks, p.Risks,
		func(r item.RiskAnalysis) string { return r.WorkItemID }, replaceEntry[item.RiskAnalysis])
	out.Enrichments = mergeByID(out.Enrichments, p.Enrichments,
		func(e item.Enrichment) string { return e.WorkItemID }, replaceEntry[item.Enrichment])

	// Union-of-sets fields.
	out.ApprovedForEnrichment = union(out.ApprovedForEnrichment, p.ApprovedForEnrichment)
	out.ExportedIDs = union(out.ExportedIDs, p.ExportedIDs)

	// Full-replace fields: recomputed wholesale, so the patch wins outright.
	if p.SetEdges {
		out.Edges = slices.Clone(p.Edges)
	}
	if p.SetPending {
		if p.Pending == nil {
			out.Pending = nil
		} else {
			pi := *p.Pending
			pi.WorkItemIDs = slices.Clone(pi.WorkItemIDs)
			out.Pending = &pi
		}
	}

	return out
}

// mergeByID applies PolicyMergeByID: patch entries update matching entries
// in place and unmatched entries append in patch order.
func mergeByID[T any](prior, patch []T, id func(T) string, combine func(old, new T) T) []T {
	if len(patch) == 0 {
		return prior
	}

	out := slices.Clone(prior)
	index := make(map[string]int, len(out))
	for i, v := range out {
		index[id(v)] = i
	}

	for _, pv := range patch {
		if i, ok := index[id(pv)]; ok {
			out[i] = combine(out[i], pv)
		} else {
			index[id(pv)] = len(out)
			out = append(out, pv)
		}
	}
	return out
}

// replaceEntry is the combine function for collections whose entries are
// recomputed whole: the superseded entry is discarded, not merged.
func replaceEntry[T any](_, new T) T { return new }

// mergeWorkItem overwrites each field of old with the patch value when the
// patch supplies one, with two exceptions that keep human input durable:
//
//   - HumanSuppliedText appends across rounds and is never overwritten.
//   - ConsolidatedText is invalidated whenever HumanSuppliedText changes,
//     unless the patch itself supplies a fresh consolidation.
//
// Patch fields left at their zero value preserve the old value.
func mergeWorkItem(old, patch item.WorkItem) item.WorkItem {
	out := old

	if patch.Title != "" {
		out.Title = patch.Title
	}
	if patch.Type != "" {
		out.Type = patch.Type
	}
	if patch.RawContext != "" {
		out.RawContext = patch.RawContext
	}
	if patch.ExtractedText != "" {
		out.ExtractedText = patch.ExtractedText
	}
	if patch.Sequence != 0 {
		out.Sequence = patch.Sequence
	}
	if patch.Parallelizable {
		out.Parallelizable = true
	}

	humanChanged := false
	if patch.HumanSuppliedText != "" {
		out.HumanSuppliedText = appendText(old.HumanSuppliedText, patch.HumanSuppliedText)
		humanChanged = out.HumanSuppliedText != old.HumanSuppliedText
	}

	switch {
	case patch.ConsolidatedText != "":
		out.ConsolidatedText = patch.ConsolidatedText
	case humanChanged:
		out.ConsolidatedText = ""
	}

	return out
}

// appendText joins accumulated human-supplied text rounds with a blank line.
func appendText(prior, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return prior
	}
	if prior == "" {
		return next
	}
	return prior + "\n\n" + next
}

// union adds values to a set, preserving first-seen order.
func union(prior, add []string) []string {
	if len(add) == 0 {
		return prior
	}
	out := slices.Clone(prior)
	for _, v := range add {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
