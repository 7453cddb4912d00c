package pipeline

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a pipeline run.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusSucceeded       Status = "succeeded"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
)

// ErrorEntry is one recorded failure: which operator failed, on which work
// item, and how the error was classified.
type ErrorEntry struct {
	Operator string `json:"operator"`
	Item     string `json:"item"`
	Class    Class  `json:"class"`
	Err      error  `json:"-"`
}

func (e ErrorEntry) String() string {
	return fmt.Sprintf("%s[%s] %s: %v", e.Operator, e.Item, e.Class, e.Err)
}

// Run is the record of one pipeline execution. The engine mutates it while
// the run progresses; it is terminal once Execute or ExecuteBatch returns.
// Runs are not persisted; summaries land in the structured logs.
type Run struct {
	ID        string       `json:"id"`
	Pipeline  string       `json:"pipeline"`
	Operators []string     `json:"operators"`
	Policy    Policy       `json:"policy"`
	Status    Status       `json:"status"`
	Errors    []ErrorEntry `json:"errors"`

	// Items is the number of independent work items; Failed and Skipped
	// count items that ended in a non-quality or quality failure
	// respectively. A single Execute run has exactly one item.
	Items   int `json:"items"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// State is the final state of a single run: on failure it reflects
	// the effects of the operators before the failing one. Batch runs
	// leave it nil; item states never outlive the run.
	State *State `json:"-"`
}

// Err returns nil for a succeeded run, otherwise the first recorded error
// (or a bare status error if nothing was recorded).
func (r *Run) Err() error {
	if r.Status == StatusSucceeded {
		return nil
	}
	if len(r.Errors) > 0 {
		e := r.Errors[0]
		return fmt.Errorf("pipeline %s: operator %s (%s): %w", r.Pipeline, e.Operator, e.Class, e.Err)
	}
	return fmt.Errorf("pipeline %s: status %s", r.Pipeline, r.Status)
}

// Duration is the wall-clock time between run start and finish.
func (r *Run) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

func (r *Run) record(operator, item string, class Class, err error) {
	r.Errors = append(r.Errors, ErrorEntry{
		Operator: operator,
		Item:     item,
		Class:    class,
		Err:      err,
	})
}

func (r *Run) finish(status Status) {
	r.Status = status
	r.Finished = time.Now()
}

func (r *Run) hasClass(class Class) bool {
	for _, e := range r.Errors {
		if e.Class == class {
			return true
		}
	}
	return false
}
