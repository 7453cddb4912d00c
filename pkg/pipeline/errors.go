package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// State access errors.
var (
	ErrKeyNotSet = errors.New("pipeline: state key not set")
	ErrKeyType   = errors.New("pipeline: state key type mismatch")
)

// MissingInputError reports that an operator's declared required key was
// absent from the state when the operator was about to run. This is a
// wiring bug: the operator order or the declarations are wrong, and the
// run aborts.
type MissingInputError struct {
	Operator string
	Key      string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("operator %s: required key %q missing from state", e.Operator, e.Key)
}

// ContractViolationError reports that an operator broke its declared
// contract: it wrote a key it did not declare as produced, or finished
// without setting a declared produced key. Like MissingInputError it is a
// wiring bug and aborts the run.
type ContractViolationError struct {
	Operator string
	Key      string
	Reason   string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("operator %s: contract violation on key %q: %s", e.Operator, e.Key, e.Reason)
}

// Class buckets an operator error for the engine's failure handling.
type Class string

const (
	// ClassFatal aborts the whole run: wiring bugs and collaborator
	// failures that retrying cannot help (authentication, schema).
	ClassFatal Class = "fatal"
	// ClassTransient is retried with backoff and, once attempts are
	// exhausted, surfaces as an item failure.
	ClassTransient Class = "transient"
	// ClassQuality marks data-quality failures: recorded, the item is
	// skipped, the run continues.
	ClassQuality Class = "quality"
	// ClassCancelled marks run-level cancellation; it is not an error of
	// any operator.
	ClassCancelled Class = "cancelled"
)

// Classifier maps an operator error to its Class. Pipelines are built
// with a domain classifier that knows collaborator error values; wiring
// bugs and context cancellation are classified by the engine before the
// custom classifier is consulted, and anything unrecognized defaults to
// fatal.
type Classifier func(error) Class

func (p *Pipeline) classifyErr(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCancelled
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return ClassTransient
	}
	var miss *MissingInputError
	var contract *ContractViolationError
	if errors.As(err, &miss) || errors.As(err, &contract) {
		return ClassFatal
	}
	if p.classify != nil {
		return p.classify(err)
	}
	return ClassFatal
}
