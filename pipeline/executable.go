package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/roadrunner-server/errors"
)

const handleMethod string = "Handle"

// ErrAlreadyRun is returned by Run for an executable which was run before.
var ErrAlreadyRun = errors.Str("executable has already been run")

// Outcome of a pipeline run.
type Outcome uint8

const (
	// Completed - every job was executed.
	Completed Outcome = iota
	// Halted - a handler returned false, the rest of the chain was skipped.
	Halted
	// Delegated - a handler failed and its Failed method received the failure.
	Delegated
	// Failed - the failure was returned to the caller.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Halted:
		return "halted"
	case Delegated:
		return "delegated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// Executable is a one-shot snapshot of a Definition bound to a passable. It owns
// its jobs and passable slices and holds no Send function, so it can be serialized
// and run later on a worker.
type Executable struct {
	ID       string
	Jobs     []Descriptor
	Passable []any
	Queued   bool
	Routing  Routing

	ran atomic.Bool
}

// Run executes the jobs one after another. A nil error is returned for the
// Completed, Halted and Delegated outcomes.
func (e *Executable) Run(ctx context.Context, r Resolver) (Outcome, error) {
	const op = errors.Op("pipeline_run")
	if !e.ran.CompareAndSwap(false, true) {
		return Failed, ErrAlreadyRun
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for i := range e.Jobs {
		var invocable any
		var failer Failer

		jb := e.Jobs[i]
		switch jb.kind {
		case KindNamed:
			instance, err := r.Make(ctx, jb.name, e.Passable)
			if err != nil {
				return Failed, errors.E(op, err)
			}

			handle := reflect.ValueOf(instance).MethodByName(handleMethod)
			if !handle.IsValid() {
				return Failed, errors.E(op, errors.Errorf("job %s (%T) has no %s method", jb.name, instance, handleMethod))
			}

			invocable = handle.Interface()
			failer, _ = instance.(Failer)
		case KindFunc:
			fn, err := r.Func(jb.name)
			if err != nil {
				return Failed, errors.E(op, err)
			}
			invocable = fn
		case KindInline:
			invocable = jb.fn
		default:
			return Failed, errors.E(op, errors.Errorf("unknown job descriptor: %s", jb.kind))
		}

		call, err := r.Prepare(ctx, invocable, e.Passable)
		if err != nil {
			return Failed, errors.E(op, errors.Errorf("job %s: %v", jb, err))
		}

		out, err := invoke(call)
		if err != nil {
			if failer != nil {
				if errF := delegate(failer, err); errF != nil {
					return Failed, errors.E(op, errors.Errorf("job %s: %v", jb, errF))
				}
				return Delegated, nil
			}

			return Failed, err
		}

		if halts(out) {
			return Halted, nil
		}
	}

	return Completed, nil
}

// invoke makes the call, an error among the returned values or a panic is the
// failure of the handler.
func invoke(call func() []any) (out []any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = e
				return
			}
			err = errors.Errorf("job panicked: %v", rec)
		}
	}()

	out = call()
	for i := range out {
		if e := failure(out[i]); e != nil {
			return out, e
		}
	}

	return out, nil
}

// failure returns the value as an error unless it is a nil one, typed nil
// pointers included.
func failure(v any) error {
	e, ok := v.(error)
	if !ok || e == nil {
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() { //nolint:exhaustive
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	}

	return e
}

// delegate hands the failure to the job, a panic in Failed is returned as an error.
func delegate(f Failer, cause error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = e
				return
			}
			err = errors.Errorf("failed handler panicked: %v", rec)
		}
	}()

	f.Failed(cause)
	return nil
}

// halts reports whether the first returned value is the literal false.
func halts(out []any) bool {
	if len(out) == 0 {
		return false
	}

	b, ok := out[0].(bool)
	return ok && !b
}
