package stage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ApexChef/groomflow/internal/errors"
	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/state"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
}

func TestRunner_UnknownStage(t *testing.T) {
	r := NewRunner(NewRegistry(), nil, fastRetry(1))
	if _, err := r.Run(context.Background(), "nope", state.Snapshot{}); !errors.Is(err, errors.ErrStageNotFound) {
		t.Fatalf("err = %v, want ErrStageNotFound", err)
	}
}

func TestRunner_RetriesTransientFailures(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("flaky", func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		calls++
		if calls < 3 {
			return state.Patch{}, errors.NewTransient("flaky", errors.New("timeout"))
		}
		et := "planning"
		return state.Patch{EventType: &et}, nil
	})

	r := NewRunner(reg, nil, fastRetry(3))
	patch, err := r.Run(context.Background(), "flaky", state.Snapshot{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if patch.EventType == nil || *patch.EventType != "planning" {
		t.Errorf("patch from last attempt lost: %+v", patch)
	}
}

func TestRunner_ExhaustsAttemptBudget(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("doomed", func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		calls++
		return state.Patch{}, errors.NewTransient("doomed", errors.New("still down"))
	})

	r := NewRunner(reg, nil, fastRetry(3))
	_, err := r.Run(context.Background(), "doomed", state.Snapshot{})
	if err == nil {
		t.Fatal("Run succeeded despite persistent failure")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want exactly the attempt budget", calls)
	}
	if !errors.IsTransient(err) {
		t.Errorf("final error lost its classification: %v", err)
	}
}

func TestRunner_PermanentFailureStopsImmediately(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("fatal", func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		calls++
		return state.Patch{}, errors.NewPermanent("fatal", errors.New("bad input"))
	})

	r := NewRunner(reg, nil, fastRetry(5))
	if _, err := r.Run(context.Background(), "fatal", state.Snapshot{}); err == nil {
		t.Fatal("Run succeeded despite permanent failure")
	}
	if calls != 1 {
		t.Errorf("permanent failure was retried: %d calls", calls)
	}
}

func TestRunner_UnclassifiedErrorIsPermanent(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("plain", func(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
		calls++
		return state.Patch{}, errors.New("unclassified")
	})

	r := NewRunner(reg, nil, fastRetry(5))
	if _, err := r.Run(context.Background(), "plain", state.Snapshot{}); err == nil {
		t.Fatal("Run succeeded despite failure")
	}
	if calls != 1 {
		t.Errorf("unclassified error was retried: %d calls", calls)
	}
}

func TestForEachItem_CompletesBatchDespiteFailures(t *testing.T) {
	items := []item.WorkItem{{ID: "WI-001"}, {ID: "WI-002"}, {ID: "WI-003"}}

	var mu sync.Mutex
	ran := make(map[string]bool)

	failures := ForEachItem(context.Background(), items, 2, func(ctx context.Context, wi item.WorkItem) error {
		mu.Lock()
		ran[wi.ID] = true
		mu.Unlock()
		if wi.ID == "WI-002" {
			return errors.New("scorer unavailable")
		}
		return nil
	})

	if len(ran) != 3 {
		t.Errorf("batch did not complete: ran = %v", ran)
	}
	if len(failures) != 1 || failures[0].WorkItemID != "WI-002" {
		t.Errorf("failures = %+v", failures)
	}
}

func TestForEachItem_FailuresInItemOrder(t *testing.T) {
	items := []item.WorkItem{{ID: "WI-003"}, {ID: "WI-001"}, {ID: "WI-002"}}

	failures := ForEachItem(context.Background(), items, 3, func(ctx context.Context, wi item.WorkItem) error {
		return errors.New("down")
	})

	if len(failures) != 3 {
		t.Fatalf("failures = %d, want 3", len(failures))
	}
	for i, wi := range items {
		if failures[i].WorkItemID != wi.ID {
			t.Errorf("failures[%d] = %s, want %s", i, failures[i].WorkItemID, wi.ID)
		}
	}
}
