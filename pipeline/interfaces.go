package pipeline

import (
	"context"
)

// Resolver constructs jobs and resolves the parameters of their handlers.
type Resolver interface {
	// Make constructs the job registered under the name, passable is spread
	// positionally over the constructor parameters.
	Make(ctx context.Context, name string, passable []any) (any, error)
	// Func returns the function registered under the name.
	Func(name string) (any, error)
	// Prepare resolves the parameters of fn against the passable and returns the
	// call ready to be made. The returned error is a resolution failure, never a
	// failure of fn itself.
	Prepare(ctx context.Context, fn any, passable []any) (func() []any, error)
}

// Enqueuer hands an Executable to the asynchronous queue. Routing metadata is
// attached to the Executable.
type Enqueuer interface {
	Enqueue(ctx context.Context, exe *Executable) error
}

// Failer is implemented by named jobs which handle their own failures. When Handle
// fails, Failed receives the failure and the pipeline halts.
type Failer interface {
	Failed(err error)
}

// Listener is bound to an event source and receives the event arguments.
type Listener func(ctx context.Context, args ...any) error

// SendFunc transforms the event arguments into the passable.
type SendFunc func(args ...any) any
