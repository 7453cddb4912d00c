package pipeline

import "context"

// Operator is the unit of work in a pipeline. It transforms the shared
// state: Requires lists keys that must exist before Run, Produces lists
// keys that must exist after a successful Run. The engine enforces both
// and arms the state's write guard with Produces for the duration of Run.
//
// Operators are stateless between invocations. External resources (model
// client, store client, index client) are injected at construction time,
// never created per call, and side effects stay confined to the operators
// whose names imply them; everything else is a pure state transform.
type Operator interface {
	Name() string
	Requires() []string
	Produces() []string
	Run(ctx context.Context, st *State) error
}

// Func adapts a plain function into an Operator. Mostly useful for small
// glue steps and tests.
type Func struct {
	OpName      string
	RequireKeys []string
	ProduceKeys []string
	Fn          func(ctx context.Context, st *State) error
}

func (f Func) Name() string       { return f.OpName }
func (f Func) Requires() []string { return f.RequireKeys }
func (f Func) Produces() []string { return f.ProduceKeys }

func (f Func) Run(ctx context.Context, st *State) error {
	return f.Fn(ctx, st)
}
