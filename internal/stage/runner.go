package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"

	"github.com/ApexChef/groomflow/internal/errors"
	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/logging"
	"github.com/ApexChef/groomflow/internal/state"
)

// Func is the stage-function contract: one named unit of work against a
// state snapshot, returning a partial-state patch. Failures should be
// classified with errors.NewTransient / errors.NewPermanent; unclassified
// errors are treated as permanent.
type Func func(ctx context.Context, snap state.Snapshot) (state.Patch, error)

// Registry maps stage names to stage functions. The built-in heuristics can
// be replaced wholesale (for example with LLM-backed implementations)
// without touching the engine.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Register binds a stage function to a name, replacing any previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// Get returns the stage function bound to name.
func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

// RetryConfig controls how transient stage failures are retried.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
}

// Runner executes stage functions with transient-failure retry. It holds no
// per-session state; the same Runner serves any number of sessions.
type Runner struct {
	registry *Registry
	log      *logging.Logger
	retry    RetryConfig
}

// NewRunner creates a Runner. A nil logger is replaced with a no-op logger.
func NewRunner(registry *Registry, log *logging.Logger, retry RetryConfig) *Runner {
	if log == nil {
		log = logging.NopLogger()
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 200 * time.Millisecond
	}
	if retry.MaxInterval < retry.InitialInterval {
		retry.MaxInterval = retry.InitialInterval
	}
	return &Runner{registry: registry, log: log, retry: retry}
}

// Run executes the named stage against the snapshot. Transient failures are
// retried with exponential backoff up to the configured attempt budget;
// permanent failures stop immediately. The returned error, if any, is the
// classified error of the final attempt.
func (r *Runner) Run(ctx context.Context, name string, snap state.Snapshot) (state.Patch, error) {
	fn, ok := r.registry.Get(name)
	if !ok {
		return state.Patch{}, fmt.Errorf("%w: %s", errors.ErrStageNotFound, name)
	}

	log := r.log.WithStage(name)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retry.InitialInterval
	bo.MaxInterval = r.retry.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	var patch state.Patch
	attempt := 0
	operation := func() error {
		attempt++
		p, err := fn(ctx, snap)
		if err == nil {
			patch = p
			return nil
		}
		if errors.IsTransient(err) && attempt < r.retry.MaxAttempts {
			log.Warn("transient stage failure, retrying",
				"attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return state.Patch{}, err
	}
	return patch, nil
}

// ItemFailure records that per-item work failed for one work item, so the
// caller can substitute a degraded fallback result.
type ItemFailure struct {
	WorkItemID string
	Err        error
}

// ForEachItem fans work out over the given items with bounded concurrency.
// One item's failure never aborts the others: the full batch completes and
// the failures are returned, in item order, for fallback substitution.
// Outputs must be merged by id by the caller; no inter-item ordering is
// guaranteed.
func ForEachItem(ctx context.Context, items []item.WorkItem, parallelism int, work func(ctx context.Context, wi item.WorkItem) error) []ItemFailure {
	if parallelism < 1 {
		parallelism = 1
	}

	var mu sync.Mutex
	failed := make(map[string]error, len(items))

	p := pool.New().WithMaxGoroutines(parallelism)
	for _, wi := range items {
		p.Go(func() {
			if err := work(ctx, wi); err != nil {
				mu.Lock()
				failed[wi.ID] = err
				mu.Unlock()
			}
		})
	}
	p.Wait()

	var failures []ItemFailure
	for _, wi := range items {
		if err, ok := failed[wi.ID]; ok {
			failures = append(failures, ItemFailure{WorkItemID: wi.ID, Err: err})
		}
	}
	return failures
}
