package state

import (
	"testing"

	"github.com/ApexChef/groomflow/internal/item"
)

func TestMerge_ScalarReplace(t *testing.T) {
	snap := Snapshot{Transcript: "old", EventType: "planning"}

	et := "retro"
	avg := 72.5
	out := Merge(snap, Patch{EventType: &et, AverageScore: &avg})

	if out.Transcript != "old" {
		t.Errorf("untouched scalar changed: got %q", out.Transcript)
	}
	if out.EventType != "retro" {
		t.Errorf("EventType not replaced: got %q", out.EventType)
	}
	if out.AverageScore != 72.5 {
		t.Errorf("AverageScore not replaced: got %v", out.AverageScore)
	}
}

func TestMerge_WorkItemPreservesUntouchedFields(t *testing.T) {
	snap := Snapshot{WorkItems: []item.WorkItem{{
		ID:            "WI-001",
		Title:         "Add login rate limiting",
		Type:          item.TypeFeature,
		ExtractedText: "we should rate limit login attempts",
		Sequence:      2,
	}}}

	// A patch carrying only human text must not clobber anything else.
	out := Merge(snap, Patch{WorkItems: []item.WorkItem{{
		ID:                "WI-001",
		HumanSuppliedText: "limit is 5 attempts per minute",
	}}})

	got, ok := out.WorkItem("WI-001")
	if !ok {
		t.Fatal("work item disappeared after merge")
	}
	if got.Title != "Add login rate limiting" || got.Type != item.TypeFeature ||
		got.ExtractedText != "we should rate limit login attempts" || got.Sequence != 2 {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if got.HumanSuppliedText != "limit is 5 attempts per minute" {
		t.Errorf("human text not recorded: %q", got.HumanSuppliedText)
	}
}

func TestMerge_HumanTextAppendsAcrossRounds(t *testing.T) {
	snap := Snapshot{WorkItems: []item.WorkItem{{
		ID:                "WI-001",
		HumanSuppliedText: "first round",
	}}}

	out := Merge(snap, Patch{WorkItems: []item.WorkItem{{
		ID:                "WI-001",
		HumanSuppliedText: "second round",
	}}})

	got, _ := out.WorkItem("WI-001")
	want := "first round\n\nsecond round"
	if got.HumanSuppliedText != want {
		t.Errorf("human text = %q, want %q", got.HumanSuppliedText, want)
	}
}

func TestMerge_HumanTextInvalidatesConsolidation(t *testing.T) {
	snap := Snapshot{WorkItems: []item.WorkItem{{
		ID:               "WI-001",
		ConsolidatedText: "old consolidation",
	}}}

	out := Merge(snap, Patch{WorkItems: []item.WorkItem{{
		ID:                "WI-001",
		HumanSuppliedText: "new detail",
	}}})

	got, _ := out.WorkItem("WI-001")
	if got.ConsolidatedText != "" {
		t.Errorf("stale consolidation survived new human text: %q", got.ConsolidatedText)
	}

	// A fresh consolidation in the same patch wins over invalidation.
	out = Merge(snap, Patch{WorkItems: []item.WorkItem{{
		ID:                "WI-001",
		HumanSuppliedText: "more detail",
		ConsolidatedText:  "rebuilt consolidation",
	}}})
	got, _ = out.WorkItem("WI-001")
	if got.ConsolidatedText != "rebuilt consolidation" {
		t.Errorf("fresh consolidation lost: %q", got.ConsolidatedText)
	}
}

func TestMerge_ScoresReplaceByID(t *testing.T) {
	snap := Snapshot{Scores: []item.Score{
		{WorkItemID: "WI-001", Overall: 40, Concerns: []string{"vague"}},
		{WorkItemID: "WI-002", Overall: 80},
	}}

	out := Merge(snap, Patch{Scores: []item.Score{
		{WorkItemID: "WI-001", Overall: 85},
	}})

	sc, _ := out.ScoreFor("WI-001")
	if sc.Overall != 85 {
		t.Errorf("rescore did not supersede: got %v", sc.Overall)
	}
	if len(sc.Concerns) != 0 {
		t.Errorf("superseded score's concerns leaked into replacement: %v", sc.Concerns)
	}
	if sc2, _ := out.ScoreFor("WI-002"); sc2.Overall != 80 {
		t.Errorf("unrelated score changed: got %v", sc2.Overall)
	}
}

func TestMerge_UnionNeverRemoves(t *testing.T) {
	snap := Snapshot{ApprovedForEnrichment: []string{"WI-001", "WI-002"}}

	out := Merge(snap, Patch{ApprovedForEnrichment: []string{"WI-002", "WI-003"}})

	want := []string{"WI-001", "WI-002", "WI-003"}
	if len(out.ApprovedForEnrichment) != len(want) {
		t.Fatalf("approved set = %v, want %v", out.ApprovedForEnrichment, want)
	}
	for i, id := range want {
		if out.ApprovedForEnrichment[i] != id {
			t.Errorf("approved[%d] = %q, want %q", i, out.ApprovedForEnrichment[i], id)
		}
	}

	// An empty patch leaves the set alone.
	out = Merge(out, Patch{})
	if len(out.ApprovedForEnrichment) != 3 {
		t.Errorf("empty patch shrank union set: %v", out.ApprovedForEnrichment)
	}
}

func TestMerge_EdgesReplaceWhole(t *testing.T) {
	snap := Snapshot{Edges: []item.DependencyEdge{
		{Source: "WI-001", Target: "WI-002", Kind: item.EdgeBlocks},
	}}

	// Without SetEdges the prior edges survive.
	out := Merge(snap, Patch{})
	if len(out.Edges) != 1 {
		t.Fatalf("edges lost without SetEdges: %v", out.Edges)
	}

	// SetEdges with an empty slice clears them.
	out = Merge(snap, Patch{SetEdges: true})
	if len(out.Edges) != 0 {
		t.Errorf("SetEdges with empty slice did not clear: %v", out.Edges)
	}
}

func TestMerge_PendingInterruptSetAndClear(t *testing.T) {
	snap := Snapshot{}

	out := Merge(snap, Patch{
		SetPending: true,
		Pending: &item.PendingInterrupt{
			Kind:        item.InterruptApproval,
			WorkItemIDs: []string{"WI-001"},
		},
	})
	if out.Pending == nil || out.Pending.Kind != item.InterruptApproval {
		t.Fatalf("pending interrupt not set: %+v", out.Pending)
	}

	out = Merge(out, Patch{SetPending: true})
	if out.Pending != nil {
		t.Errorf("pending interrupt not cleared: %+v", out.Pending)
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	snap := Snapshot{
		WorkItems: []item.WorkItem{{ID: "WI-001", Title: "original"}},
		Scores:    []item.Score{{WorkItemID: "WI-001", Overall: 50}},
	}

	_ = Merge(snap, Patch{
		WorkItems: []item.WorkItem{{ID: "WI-001", Title: "changed"}},
		Scores:    []item.Score{{WorkItemID: "WI-001", Overall: 90}},
	})

	if snap.WorkItems[0].Title != "original" {
		t.Errorf("Merge mutated input snapshot work items")
	}
	if snap.Scores[0].Overall != 50 {
		t.Errorf("Merge mutated input snapshot scores")
	}
}

func TestPolicyFor(t *testing.T) {
	cases := map[string]Policy{
		"transcript":              PolicyReplace,
		"work_items":              PolicyMergeByID,
		"approved_for_enrichment": PolicyUnion,
		"edges":                   PolicyReplaceWhole,
		"pending_interrupt":       PolicyReplaceWhole,
		"unknown_field":           PolicyReplace,
	}
	for field, want := range cases {
		if got := PolicyFor(field); got != want {
			t.Errorf("PolicyFor(%q) = %v, want %v", field, got, want)
		}
	}
}
