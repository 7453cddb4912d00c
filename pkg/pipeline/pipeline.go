package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/graphloom/loom/pkg/logger"
)

// Policy selects how a run reacts to operator failures.
type Policy string

const (
	// AbortOnError stops the run at the first operator failure. The
	// default for single-item runs.
	AbortOnError Policy = "abort_on_error"
	// ContinueAndCollect records a failing item's error, discards that
	// item's state and moves on to the next item. Used for batch
	// ingestion.
	ContinueAndCollect Policy = "continue_and_collect"
)

// Pipeline is an ordered operator chain plus the failure machinery around
// it: a retry policy applied to every operator invocation and a classifier
// that buckets errors for the failure policy. Pipelines are immutable
// after construction and safe for concurrent runs; each run gets its own
// State.
type Pipeline struct {
	name     string
	ops      []Operator
	retry    RetryPolicy
	classify Classifier
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetryPolicy replaces the default retry policy. A nil Retryable
// predicate is filled in from the pipeline's classifier.
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(p *Pipeline) { p.retry = rp }
}

// WithClassifier installs the domain error classifier. Wiring bugs and
// cancellation are always classified by the engine itself.
func WithClassifier(c Classifier) Option {
	return func(p *Pipeline) { p.classify = c }
}

// New builds a pipeline over the given operators, run strictly in the
// given order.
func New(name string, ops []Operator, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:  name,
		ops:   ops,
		retry: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry.Retryable == nil {
		p.retry.Retryable = func(err error) bool {
			var exhausted *ExhaustedError
			if errors.As(err, &exhausted) {
				return false
			}
			return p.classifyErr(err) == ClassTransient
		}
	}
	return p
}

// Name returns the pipeline's name.
func (p *Pipeline) Name() string { return p.name }

// Operators returns the operator names in execution order.
func (p *Pipeline) Operators() []string {
	names := make([]string, len(p.ops))
	for i, op := range p.ops {
		names[i] = op.Name()
	}
	return names
}

// RetryPolicy returns the policy the engine applies around operator
// invocations, with the retryable predicate resolved. Operators that make
// several collaborator calls per invocation reuse it per call.
func (p *Pipeline) RetryPolicy() RetryPolicy { return p.retry }

// Execute runs the chain once over st under abort-on-error: the first
// operator failure ends the run with status failed, and the returned
// run's State reflects only the effects of the operators before it.
func (p *Pipeline) Execute(ctx context.Context, st *State) *Run {
	run := p.newRun(AbortOnError)
	run.Items = 1
	run.State = st
	run.Status = StatusRunning
	logger.Debug("[Pipeline] Run started", "pipeline", p.name, "run", run.ID, "operators", len(p.ops))

	for _, op := range p.ops {
		class, err := p.invoke(ctx, op, st)
		if err == nil {
			continue
		}
		run.record(op.Name(), itemID(st, run), class, err)
		if class == ClassQuality {
			run.Skipped = 1
		} else {
			run.Failed = 1
		}
		run.finish(StatusFailed)
		logger.Warn("[Pipeline] Run failed",
			"pipeline", p.name, "run", run.ID, "operator", op.Name(), "class", string(class), "error", err)
		return run
	}

	run.finish(StatusSucceeded)
	logger.Debug("[Pipeline] Run succeeded", "pipeline", p.name, "run", run.ID, "duration", run.Duration())
	return run
}

// ExecuteBatch runs the chain independently over each item under
// continue-and-collect, with at most workers items in flight at once.
// Item states are never shared; outcomes merge only into the run's error
// log and counters. A fatal classification aborts the whole batch, and
// cancellation stops scheduling while letting in-flight operator calls
// finish.
func (p *Pipeline) ExecuteBatch(ctx context.Context, items []*State, workers int) *Run {
	run := p.newRun(ContinueAndCollect)
	run.Items = len(items)
	run.Status = StatusRunning
	if workers < 1 {
		workers = 1
	}
	logger.Info("[Pipeline] Batch started",
		"pipeline", p.name, "run", run.ID, "items", len(items), "workers", workers)

	var (
		mu    sync.Mutex
		abort atomic.Bool
	)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, st := range items {
		g.Go(func() error {
			if ctx.Err() != nil || abort.Load() {
				return nil
			}
			p.runItem(ctx, st, run, &mu, &abort)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		if !run.hasClass(ClassCancelled) {
			run.record(p.name, "", ClassCancelled, err)
		}
		run.finish(StatusFailed)
		logger.Warn("[Pipeline] Batch cancelled", "pipeline", p.name, "run", run.ID)
		return run
	}

	failed := run.Failed + run.Skipped
	switch {
	case abort.Load():
		run.finish(StatusFailed)
	case failed == 0:
		run.finish(StatusSucceeded)
	case failed >= run.Items:
		run.finish(StatusFailed)
	default:
		run.finish(StatusPartiallyFailed)
	}
	logger.Info("[Pipeline] Batch finished",
		"pipeline", p.name, "run", run.ID, "status", string(run.Status),
		"items", run.Items, "failed", run.Failed, "skipped", run.Skipped,
		"duration", run.Duration())
	return run
}

// runItem executes the full chain for one item. The first failing
// operator ends the item; fatal classifications flip the batch abort
// flag.
func (p *Pipeline) runItem(ctx context.Context, st *State, run *Run, mu *sync.Mutex, abort *atomic.Bool) {
	for _, op := range p.ops {
		class, err := p.invoke(ctx, op, st)
		if err == nil {
			continue
		}
		mu.Lock()
		run.record(op.Name(), itemID(st, run), class, err)
		if class == ClassQuality {
			run.Skipped++
		} else {
			run.Failed++
		}
		mu.Unlock()

		switch class {
		case ClassFatal:
			abort.Store(true)
			logger.Error("[Pipeline] Aborting batch",
				"pipeline", p.name, "run", run.ID, "operator", op.Name(), "error", err)
		case ClassQuality:
			logger.Warn("[Pipeline] Item skipped",
				"pipeline", p.name, "run", run.ID, "item", itemID(st, run), "error", err)
		default:
			logger.Warn("[Pipeline] Item failed",
				"pipeline", p.name, "run", run.ID, "item", itemID(st, run),
				"operator", op.Name(), "class", string(class), "error", err)
		}
		return
	}
}

// invoke wraps one operator invocation: cancellation check, required-key
// check, guarded run under the retry policy, produced-key check. The
// returned class is meaningful only for non-nil errors.
func (p *Pipeline) invoke(ctx context.Context, op Operator, st *State) (Class, error) {
	if err := ctx.Err(); err != nil {
		return ClassCancelled, err
	}
	for _, key := range op.Requires() {
		if !st.Has(key) {
			return ClassFatal, &MissingInputError{Operator: op.Name(), Key: key}
		}
	}
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		return p.runGuarded(ctx, op, st)
	})
	if err != nil {
		return p.classifyErr(err), err
	}
	for _, key := range op.Produces() {
		if !st.Has(key) {
			return ClassFatal, &ContractViolationError{
				Operator: op.Name(),
				Key:      key,
				Reason:   "produced key not set",
			}
		}
	}
	return "", nil
}

// runGuarded arms the state's write guard for the operator and converts
// panics into errors so nothing escapes the pipeline boundary raw.
func (p *Pipeline) runGuarded(ctx context.Context, op Operator, st *State) (err error) {
	st.beginWrites(op.Name(), op.Produces())
	defer st.endWrites()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operator %s panicked: %v", op.Name(), r)
		}
	}()
	return op.Run(ctx, st)
}

func (p *Pipeline) newRun(policy Policy) *Run {
	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return &Run{
		ID:        id,
		Pipeline:  p.name,
		Operators: p.Operators(),
		Policy:    policy,
		Status:    StatusPending,
		Started:   time.Now(),
	}
}

func itemID(st *State, run *Run) string {
	if id := st.ID(); id != "" {
		return id
	}
	return run.ID
}
