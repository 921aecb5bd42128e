package engine

import (
	"context"
	"testing"

	"github.com/ApexChef/groomflow/internal/errors"
	"github.com/ApexChef/groomflow/internal/event"
	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/router"
	"github.com/ApexChef/groomflow/internal/stage"
	"github.com/ApexChef/groomflow/internal/state"
)

// memCommit is one durable record captured by memCommitter.
type memCommit struct {
	stage, nextStage string
	seq              uint64
	snap             state.Snapshot
}

// memCommitter records every commit in memory, standing in for the
// checkpoint store.
type memCommitter struct {
	commits []memCommit
}

func (c *memCommitter) Commit(_ context.Context, stageName, nextStage string, seq uint64, snap state.Snapshot) error {
	c.commits = append(c.commits, memCommit{stageName, nextStage, seq, snap.Clone()})
	return nil
}

func (c *memCommitter) latest() memCommit {
	return c.commits[len(c.commits)-1]
}

var engineCfg = Config{
	Router: router.Config{AutoThreshold: 75, HumanThreshold: 50, MaxRescoreAttempts: 3},
}

// testRegistry wires stub stages that extract one item and score it with
// the given sequence of scores, one per scoring round.
func testRegistry(t *testing.T, scores ...float64) *stage.Registry {
	t.Helper()
	round := 0

	reg := stage.NewRegistry()
	reg.Register(stage.Detect, func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		et := "planning"
		return state.Patch{EventType: &et}, nil
	})
	reg.Register(stage.Extract, func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		return state.Patch{
			WorkItems: []item.WorkItem{{ID: "WI-001", Title: "Add rate limiting", Type: item.TypeFeature}},
			Routing:   []item.RoutingStatus{{WorkItemID: "WI-001", Status: item.StatusPending}},
		}, nil
	})
	reg.Register(stage.Score, func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		if round >= len(scores) {
			t.Fatalf("unexpected scoring round %d", round+1)
		}
		sc := scores[round]
		round++
		return state.Patch{
			Scores:       []item.Score{{WorkItemID: "WI-001", Overall: sc, Missing: []string{"acceptance criteria"}}},
			AverageScore: &sc,
		}, nil
	})
	reg.Register(stage.Enrich, func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		return state.Patch{Enrichments: []item.Enrichment{{WorkItemID: "WI-001", Description: "desc"}}}, nil
	})
	reg.Register(stage.Consolidate, func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		return state.Patch{WorkItems: []item.WorkItem{{ID: "WI-001", ConsolidatedText: "final text"}}}, nil
	})
	reg.Register(stage.Risk, func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		return state.Patch{Risks: []item.RiskAnalysis{{WorkItemID: "WI-001", Level: "low"}}}, nil
	})
	reg.Register(stage.Export, func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		return state.Patch{ExportedIDs: []string{"WI-001"}}, nil
	})
	return reg
}

func newTestEngine(reg *stage.Registry, com state.Committer, bus *event.Bus) *Engine {
	store := state.NewStore("gs-test", state.Snapshot{Transcript: "planning meeting"}, com)
	runner := stage.NewRunner(reg, nil, stage.RetryConfig{MaxAttempts: 1})
	return New(store, runner, engineCfg, bus, nil, "")
}

func TestEngine_HighScoreRunsToCompletion(t *testing.T) {
	com := &memCommitter{}
	e := newTestEngine(testRegistry(t, 90), com, nil)

	d := e.Run(context.Background())
	if d.Kind != Terminate || d.Err != nil {
		t.Fatalf("decision = %+v, want clean terminate", d)
	}
	if d.Final == nil {
		t.Fatal("terminate carries no final snapshot")
	}

	final := *d.Final
	if got := final.RoutingFor("WI-001").Status; got != item.StatusAutoApproved {
		t.Errorf("status = %v, want auto_approved", got)
	}
	if len(final.ExportedIDs) != 1 {
		t.Errorf("exported = %v", final.ExportedIDs)
	}
	if final.Pending != nil {
		t.Errorf("completed session still pending: %+v", final.Pending)
	}

	// Checkpoints advance one sequence per stage, with the resumption
	// pointer recorded on each.
	wantStages := []string{
		stage.Detect, stage.Extract, stage.Score, stage.Route,
		stage.Enrich, stage.Consolidate, stage.Risk, stage.Export,
	}
	if len(com.commits) != len(wantStages) {
		t.Fatalf("committed %d records, want %d", len(com.commits), len(wantStages))
	}
	for i, c := range com.commits {
		if c.stage != wantStages[i] {
			t.Errorf("commit %d stage = %s, want %s", i, c.stage, wantStages[i])
		}
		if c.seq != uint64(i+1) {
			t.Errorf("commit %d seq = %d, want %d", i, c.seq, i+1)
		}
		if c.nextStage == "" {
			t.Errorf("commit %d has no resumption pointer", i)
		}
	}
	if com.latest().nextStage != stage.Done {
		t.Errorf("final resumption = %s, want %s", com.latest().nextStage, stage.Done)
	}
}

func TestEngine_MediumScoreSuspendsForApproval(t *testing.T) {
	com := &memCommitter{}
	e := newTestEngine(testRegistry(t, 60), com, nil)

	d := e.Run(context.Background())
	if d.Kind != Suspend {
		t.Fatalf("decision = %+v, want suspend", d)
	}
	if d.Payload == nil || d.Payload.Kind != item.InterruptApproval {
		t.Fatalf("payload = %+v, want approval", d.Payload)
	}

	// The suspension is durable: the latest commit carries the pending
	// interrupt and resumes at the approval stage.
	latest := com.latest()
	if latest.nextStage != stage.Approve {
		t.Errorf("resumption = %s, want %s", latest.nextStage, stage.Approve)
	}
	if latest.snap.Pending == nil || latest.snap.Pending.Kind != item.InterruptApproval {
		t.Errorf("pending interrupt not persisted: %+v", latest.snap.Pending)
	}

	// Approving completes the run.
	d, err := e.ResumeApprovals(context.Background(), map[string]string{"WI-001": item.DecisionApprove})
	if err != nil {
		t.Fatalf("ResumeApprovals failed: %v", err)
	}
	if d.Kind != Terminate || d.Err != nil {
		t.Fatalf("post-approval decision = %+v", d)
	}
	if got := d.Final.RoutingFor("WI-001").Status; got != item.StatusApproved {
		t.Errorf("status = %v, want approved", got)
	}
}

func TestEngine_ContextRoundRescores(t *testing.T) {
	com := &memCommitter{}
	// First round scores low, second round (after context) scores high.
	e := newTestEngine(testRegistry(t, 40, 85), com, nil)

	d := e.Run(context.Background())
	if d.Kind != Suspend || d.Payload.Kind != item.InterruptContext {
		t.Fatalf("decision = %+v, want context suspend", d)
	}
	if len(d.Payload.Items) != 1 || len(d.Payload.Items[0].Questions) == 0 {
		t.Fatalf("context payload lacks questions: %+v", d.Payload.Items)
	}

	d, err := e.ResumeContext(context.Background(), map[string]string{"WI-001": "limit is 5 per minute"})
	if err != nil {
		t.Fatalf("ResumeContext failed: %v", err)
	}
	if d.Kind != Terminate || d.Err != nil {
		t.Fatalf("post-context decision = %+v", d)
	}

	final := *d.Final
	if got := final.RoutingFor("WI-001").Status; got != item.StatusAutoApproved {
		t.Errorf("rescored status = %v, want auto_approved", got)
	}
	if got := final.RoutingFor("WI-001").RescoreCount; got != 1 {
		t.Errorf("rescore count = %d, want 1", got)
	}
	wi, _ := final.WorkItem("WI-001")
	if wi.HumanSuppliedText != "limit is 5 per minute" {
		t.Errorf("human text = %q", wi.HumanSuppliedText)
	}
}

func TestEngine_RescoreCapEndsOscillation(t *testing.T) {
	com := &memCommitter{}
	// Always low: three context rounds, then forced rejection.
	e := newTestEngine(testRegistry(t, 40, 40, 40, 40), com, nil)

	d := e.Run(context.Background())
	for round := 0; round < 3; round++ {
		if d.Kind != Suspend || d.Payload.Kind != item.InterruptContext {
			t.Fatalf("round %d: decision = %+v, want context suspend", round+1, d)
		}
		var err error
		d, err = e.ResumeContext(context.Background(), nil)
		if err != nil {
			t.Fatalf("round %d: ResumeContext failed: %v", round+1, err)
		}
	}

	if d.Kind != Terminate || d.Err != nil {
		t.Fatalf("capped session decision = %+v, want clean terminate", d)
	}
	if got := d.Final.RoutingFor("WI-001").Status; got != item.StatusRejectedFinal {
		t.Errorf("status = %v, want rejected_final", got)
	}
	if got := d.Final.RoutingFor("WI-001").RescoreCount; got != 3 {
		t.Errorf("rescore count = %d, want 3", got)
	}
}

func TestEngine_ResumeRejectsMismatchedKind(t *testing.T) {
	e := newTestEngine(testRegistry(t, 60), &memCommitter{}, nil)

	d := e.Run(context.Background())
	if d.Kind != Suspend || d.Payload.Kind != item.InterruptApproval {
		t.Fatalf("decision = %+v", d)
	}

	if _, err := e.ResumeContext(context.Background(), nil); !errors.Is(err, errors.ErrNotAwaitingContext) {
		t.Errorf("err = %v, want ErrNotAwaitingContext", err)
	}
	// The failed resume must not have advanced anything.
	if _, err := e.ResumeApprovals(context.Background(), map[string]string{"WI-001": item.DecisionApprove}); err != nil {
		t.Errorf("approval after bad resume failed: %v", err)
	}
}

func TestEngine_RestoredSessionResumesFromCheckpoint(t *testing.T) {
	com := &memCommitter{}
	reg := testRegistry(t, 60)
	first := newTestEngine(reg, com, nil)

	if d := first.Run(context.Background()); d.Kind != Suspend {
		t.Fatalf("decision = %+v, want suspend", d)
	}

	// Simulate a new process: rebuild the engine from the latest durable
	// record alone.
	latest := com.latest()
	store := state.Restore("gs-test", latest.seq, latest.snap, com)
	runner := stage.NewRunner(reg, nil, stage.RetryConfig{MaxAttempts: 1})
	restored := New(store, runner, engineCfg, nil, nil, latest.nextStage)

	// Stepping a still-suspended session re-emits the suspension without
	// writing anything.
	before := len(com.commits)
	d := restored.Step(context.Background())
	if d.Kind != Suspend || d.Payload == nil || d.Payload.Kind != item.InterruptApproval {
		t.Fatalf("re-emitted decision = %+v", d)
	}
	if len(com.commits) != before {
		t.Error("re-emitting a suspension wrote a checkpoint")
	}

	// The restored engine completes the session like the original would.
	d, err := restored.ResumeApprovals(context.Background(), map[string]string{"WI-001": item.DecisionApprove})
	if err != nil {
		t.Fatalf("ResumeApprovals failed: %v", err)
	}
	if d.Kind != Terminate || d.Err != nil {
		t.Fatalf("restored run decision = %+v", d)
	}
}

func TestEngine_FatalFailureIsDurable(t *testing.T) {
	com := &memCommitter{}
	reg := stage.NewRegistry()
	reg.Register(stage.Detect, func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		return state.Patch{}, errors.NewPermanent(stage.Detect, errors.New("transcript is empty"))
	})

	e := newTestEngine(reg, com, nil)
	d := e.Run(context.Background())

	if d.Kind != Terminate || d.Err == nil {
		t.Fatalf("decision = %+v, want terminate with error", d)
	}
	// The failure is readable from the durable record alone.
	latest := com.latest()
	if latest.snap.Err == "" {
		t.Error("error not persisted in state")
	}
	if latest.nextStage != stage.Done {
		t.Errorf("failed session resumption = %s, want %s", latest.nextStage, stage.Done)
	}
}

func TestEngine_PublishesLifecycleEvents(t *testing.T) {
	bus := event.NewBus()
	var kinds []string
	bus.SubscribeAll(func(ev event.Event) {
		kinds = append(kinds, ev.EventType())
	})

	e := newTestEngine(testRegistry(t, 90), &memCommitter{}, bus)
	if d := e.Run(context.Background()); d.Kind != Terminate {
		t.Fatalf("decision = %+v", d)
	}

	var completed, stages bool
	for _, k := range kinds {
		switch k {
		case "session.completed":
			completed = true
		case "stage.completed":
			stages = true
		}
	}
	if !completed || !stages {
		t.Errorf("events = %v, want stage and completion events", kinds)
	}
}
