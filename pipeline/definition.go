package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Routing is the queue metadata of a queued pipeline. It is produced here and
// interpreted by the queue only.
type Routing struct {
	// Queue name, selects the priority of the pipeline
	Queue string
	// Connection selects the queue driver
	Connection string
	// Delay before the pipeline becomes available to the workers
	Delay time.Duration
	// MaxTries bounds the number of attempts, 0 means the queue default
	MaxTries int
}

// Definition is an ordered chain of jobs with its Send transform and execution
// policy. It is configured once and should not be changed after ToListener.
type Definition struct {
	kernel *Kernel

	jobs    []Descriptor
	send    SendFunc
	queued  bool
	routing Routing
}

// Send replaces the transform of the event arguments into the passable.
func (d *Definition) Send(fn SendFunc) *Definition {
	if fn == nil {
		fn = identity
	}
	d.send = fn
	return d
}

// ShouldBeQueued sets whether the pipeline is handed to the queue or run inline.
func (d *Definition) ShouldBeQueued(queued bool) *Definition {
	d.queued = queued
	return d
}

// ShouldBeQueuedOn queues the pipeline on the named queue.
func (d *Definition) ShouldBeQueuedOn(queue string) *Definition {
	d.queued = true
	d.routing.Queue = queue
	return d
}

// OnConnection sets the queue connection, an empty name means the default one.
func (d *Definition) OnConnection(name string) *Definition {
	d.routing.Connection = name
	return d
}

// OnQueue sets the queue name, an empty name means the default one.
func (d *Definition) OnQueue(name string) *Definition {
	d.routing.Queue = name
	return d
}

func (d *Definition) WithDelay(delay time.Duration) *Definition {
	d.routing.Delay = delay
	return d
}

func (d *Definition) WithMaxTries(n int) *Definition {
	d.routing.MaxTries = n
	return d
}

// Jobs returns a copy of the job descriptors.
func (d *Definition) Jobs() []Descriptor {
	j := make([]Descriptor, len(d.jobs))
	copy(j, d.jobs)
	return j
}

func (d *Definition) Queued() bool {
	return d.queued
}

func (d *Definition) Routing() Routing {
	return d.routing
}

// ToListener returns the listener which runs or queues the pipeline each time the
// event fires.
func (d *Definition) ToListener() Listener {
	return func(ctx context.Context, args ...any) error {
		return d.kernel.dispatch(ctx, d.ToExecutable(args))
	}
}

// ToExecutable evaluates Send over the event arguments and snapshots the
// definition with the resulting passable.
func (d *Definition) ToExecutable(args []any) *Executable {
	send := d.send
	if send == nil {
		send = identity
	}

	jobs := make([]Descriptor, len(d.jobs))
	copy(jobs, d.jobs)

	return &Executable{
		ID:       uuid.NewString(),
		Jobs:     jobs,
		Passable: passable(send(args...)),
		Queued:   d.queued,
		Routing:  d.routing,
	}
}

// identity passes the first event argument through, no arguments make an empty passable.
func identity(args ...any) any {
	if len(args) == 0 {
		return []any{}
	}

	return args[0]
}

// passable wraps anything but []any into a single element sequence.
func passable(v any) []any {
	if seq, ok := v.([]any); ok {
		out := make([]any, len(seq))
		copy(out, seq)
		return out
	}

	return []any{v}
}
