package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	errUpstream = errors.New("upstream hiccup")
	errBadData  = errors.New("bad data")
	errAuth     = errors.New("authentication rejected")
)

func testClassifier(err error) Class {
	switch {
	case errors.Is(err, errUpstream):
		return ClassTransient
	case errors.Is(err, errBadData):
		return ClassQuality
	case errors.Is(err, errAuth):
		return ClassFatal
	}
	return ClassFatal
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func testOp(name string, requires, produces []string, fn func(ctx context.Context, st *State) error) Operator {
	return Func{OpName: name, RequireKeys: requires, ProduceKeys: produces, Fn: fn}
}

var (
	keyA = NewKey[string]("a")
	keyB = NewKey[string]("b")
	keyC = NewKey[string]("c")
)

func TestPipeline_ExecuteRunsInOrder(t *testing.T) {
	var calls []string
	ops := []Operator{
		testOp("first", nil, []string{"a"}, func(ctx context.Context, st *State) error {
			calls = append(calls, "first")
			return Set(st, keyA, "1")
		}),
		testOp("second", []string{"a"}, []string{"b"}, func(ctx context.Context, st *State) error {
			calls = append(calls, "second")
			a, err := Get(st, keyA)
			if err != nil {
				return err
			}
			return Set(st, keyB, a+"2")
		}),
		testOp("third", []string{"b"}, []string{"c"}, func(ctx context.Context, st *State) error {
			calls = append(calls, "third")
			b, err := Get(st, keyB)
			if err != nil {
				return err
			}
			return Set(st, keyC, b+"3")
		}),
	}
	p := New("build", ops)

	run := p.Execute(context.Background(), NewState("doc-1"))
	if run.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", run.Status)
	}
	if err := run.Err(); err != nil {
		t.Fatalf("expected nil Err, got %v", err)
	}
	if strings.Join(calls, ",") != "first,second,third" {
		t.Fatalf("unexpected call order: %v", calls)
	}
	c, err := Get(run.State, keyC)
	if err != nil {
		t.Fatalf("expected c in final state, got %v", err)
	}
	if c != "123" {
		t.Fatalf("expected 123, got %q", c)
	}
	if run.ID == "" {
		t.Fatal("expected a run id")
	}
	if run.Policy != AbortOnError {
		t.Fatalf("expected abort_on_error, got %s", run.Policy)
	}
}

func TestPipeline_AbortOnError(t *testing.T) {
	thirdRan := false
	ops := []Operator{
		testOp("first", nil, []string{"a"}, func(ctx context.Context, st *State) error {
			return Set(st, keyA, "1")
		}),
		testOp("second", []string{"a"}, []string{"b"}, func(ctx context.Context, st *State) error {
			return errors.New("boom")
		}),
		testOp("third", nil, nil, func(ctx context.Context, st *State) error {
			thirdRan = true
			return nil
		}),
	}
	p := New("build", ops)

	run := p.Execute(context.Background(), NewState("doc-1"))
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if thirdRan {
		t.Fatal("expected third operator to be skipped after failure")
	}
	// state reflects only operators before the failing one
	if !run.State.Has("a") {
		t.Fatal("expected key a from first operator")
	}
	if run.State.Has("b") {
		t.Fatal("expected no key b from failed operator")
	}
	if len(run.Errors) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(run.Errors))
	}
	entry := run.Errors[0]
	if entry.Operator != "second" || entry.Item != "doc-1" || entry.Class != ClassFatal {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestPipeline_MissingInput(t *testing.T) {
	ran := false
	ops := []Operator{
		testOp("needs", []string{"missing"}, nil, func(ctx context.Context, st *State) error {
			ran = true
			return nil
		}),
	}
	p := New("build", ops)

	run := p.Execute(context.Background(), NewState(""))
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if ran {
		t.Fatal("expected operator not to run")
	}
	var miss *MissingInputError
	if !errors.As(run.Errors[0].Err, &miss) {
		t.Fatalf("expected MissingInputError, got %v", run.Errors[0].Err)
	}
	if miss.Operator != "needs" || miss.Key != "missing" {
		t.Fatalf("unexpected fields: %+v", miss)
	}
}

func TestPipeline_ProducedKeyNotSet(t *testing.T) {
	ops := []Operator{
		testOp("claims", nil, []string{"a"}, func(ctx context.Context, st *State) error {
			return nil
		}),
	}
	p := New("build", ops)

	run := p.Execute(context.Background(), NewState(""))
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	var violation *ContractViolationError
	if !errors.As(run.Errors[0].Err, &violation) {
		t.Fatalf("expected ContractViolationError, got %v", run.Errors[0].Err)
	}
	if violation.Key != "a" {
		t.Fatalf("expected key a, got %q", violation.Key)
	}
}

func TestPipeline_UndeclaredWriteFailsRun(t *testing.T) {
	ops := []Operator{
		testOp("sneaky", nil, []string{"a"}, func(ctx context.Context, st *State) error {
			if err := Set(st, keyA, "fine"); err != nil {
				return err
			}
			return Set(st, keyB, "not declared")
		}),
	}
	p := New("build", ops)

	run := p.Execute(context.Background(), NewState(""))
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	var violation *ContractViolationError
	if !errors.As(run.Errors[0].Err, &violation) {
		t.Fatalf("expected ContractViolationError, got %v", run.Errors[0].Err)
	}
	if run.Errors[0].Class != ClassFatal {
		t.Fatalf("expected fatal class, got %s", run.Errors[0].Class)
	}
}

func TestPipeline_PanicRecovered(t *testing.T) {
	ops := []Operator{
		testOp("panics", nil, nil, func(ctx context.Context, st *State) error {
			panic("oops")
		}),
	}
	p := New("build", ops)

	run := p.Execute(context.Background(), NewState(""))
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if !strings.Contains(run.Errors[0].Err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", run.Errors[0].Err)
	}
}

func TestPipeline_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	ops := []Operator{
		testOp("flaky", nil, []string{"a"}, func(ctx context.Context, st *State) error {
			calls++
			if calls < 2 {
				return fmt.Errorf("calling model: %w", errUpstream)
			}
			return Set(st, keyA, "ok")
		}),
	}
	p := New("build", ops, WithClassifier(testClassifier), WithRetryPolicy(fastRetry(3)))

	run := p.Execute(context.Background(), NewState(""))
	if run.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s: %v", run.Status, run.Errors)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestPipeline_RetryExhaustionIsItemFailure(t *testing.T) {
	calls := 0
	ops := []Operator{
		testOp("flaky", nil, nil, func(ctx context.Context, st *State) error {
			calls++
			return errUpstream
		}),
	}
	p := New("build", ops, WithClassifier(testClassifier), WithRetryPolicy(fastRetry(2)))

	run := p.Execute(context.Background(), NewState(""))
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	entry := run.Errors[0]
	if entry.Class != ClassTransient {
		t.Fatalf("expected transient class, got %s", entry.Class)
	}
	var exhausted *ExhaustedError
	if !errors.As(entry.Err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", entry.Err)
	}
}

func TestPipeline_ExecuteBatchStatus(t *testing.T) {
	tests := []struct {
		name    string
		items   int
		failing int
		want    Status
	}{
		{"all succeed", 4, 0, StatusSucceeded},
		{"some fail", 4, 2, StatusPartiallyFailed},
		{"all fail", 4, 4, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := []Operator{
				testOp("work", nil, nil, func(ctx context.Context, st *State) error {
					if strings.HasPrefix(st.ID(), "fail-") {
						return errUpstream
					}
					return nil
				}),
			}
			p := New("ingest", ops, WithClassifier(testClassifier), WithRetryPolicy(fastRetry(1)))

			items := make([]*State, 0, tt.items)
			for i := 0; i < tt.items; i++ {
				id := fmt.Sprintf("ok-%d", i)
				if i < tt.failing {
					id = fmt.Sprintf("fail-%d", i)
				}
				items = append(items, NewState(id))
			}

			run := p.ExecuteBatch(context.Background(), items, 2)
			if run.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, run.Status)
			}
			if run.Failed != tt.failing {
				t.Fatalf("expected %d failed, got %d", tt.failing, run.Failed)
			}
			if len(run.Errors) != tt.failing {
				t.Fatalf("expected %d error entries, got %d", tt.failing, len(run.Errors))
			}
			if run.Items != tt.items {
				t.Fatalf("expected %d items, got %d", tt.items, run.Items)
			}
		})
	}
}

func TestPipeline_ExecuteBatchQualitySkip(t *testing.T) {
	ops := []Operator{
		testOp("extract", nil, nil, func(ctx context.Context, st *State) error {
			if st.ID() == "garbled" {
				return errBadData
			}
			return nil
		}),
	}
	p := New("ingest", ops, WithClassifier(testClassifier), WithRetryPolicy(fastRetry(1)))

	items := []*State{NewState("clean"), NewState("garbled")}
	run := p.ExecuteBatch(context.Background(), items, 1)
	if run.Status != StatusPartiallyFailed {
		t.Fatalf("expected partially_failed, got %s", run.Status)
	}
	if run.Skipped != 1 || run.Failed != 0 {
		t.Fatalf("expected 1 skipped / 0 failed, got %d / %d", run.Skipped, run.Failed)
	}
	if run.Errors[0].Class != ClassQuality {
		t.Fatalf("expected quality class, got %s", run.Errors[0].Class)
	}
}

func TestPipeline_ExecuteBatchFatalAborts(t *testing.T) {
	var mu sync.Mutex
	executed := map[string]bool{}
	ops := []Operator{
		testOp("work", nil, nil, func(ctx context.Context, st *State) error {
			mu.Lock()
			executed[st.ID()] = true
			mu.Unlock()
			if st.ID() == "poison" {
				return errAuth
			}
			return nil
		}),
	}
	p := New("ingest", ops, WithClassifier(testClassifier), WithRetryPolicy(fastRetry(1)))

	items := []*State{NewState("one"), NewState("poison"), NewState("three")}
	run := p.ExecuteBatch(context.Background(), items, 1)
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if executed["three"] {
		t.Fatal("expected batch to stop scheduling after fatal error")
	}
	if run.Errors[0].Class != ClassFatal {
		t.Fatalf("expected fatal class, got %s", run.Errors[0].Class)
	}
}

func TestPipeline_ExecuteBatchCancelled(t *testing.T) {
	ran := false
	ops := []Operator{
		testOp("work", nil, nil, func(ctx context.Context, st *State) error {
			ran = true
			return nil
		}),
	}
	p := New("ingest", ops, WithClassifier(testClassifier))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := p.ExecuteBatch(ctx, []*State{NewState("a"), NewState("b")}, 2)
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if ran {
		t.Fatal("expected no item to run after cancellation")
	}
	if !run.hasClass(ClassCancelled) {
		t.Fatalf("expected a cancellation marker, got %v", run.Errors)
	}
}

func TestPipeline_ExecuteCancelled(t *testing.T) {
	ops := []Operator{
		testOp("work", nil, nil, func(ctx context.Context, st *State) error {
			return nil
		}),
	}
	p := New("build", ops)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := p.Execute(ctx, NewState(""))
	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.Errors[0].Class != ClassCancelled {
		t.Fatalf("expected cancelled class, got %s", run.Errors[0].Class)
	}
}

func TestPipeline_EmptyChainSucceeds(t *testing.T) {
	p := New("noop", nil)
	run := p.Execute(context.Background(), NewState(""))
	if run.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", run.Status)
	}
}
