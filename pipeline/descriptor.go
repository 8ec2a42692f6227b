package pipeline

import (
	"fmt"
)

// Kind of the job descriptor.
type Kind uint8

const (
	// KindNamed is a job constructed by name through the Resolver. The instance
	// exposes a Handle method and optionally implements Failer.
	KindNamed Kind = iota + 1
	// KindInline is a function value invoked directly.
	KindInline
	// KindFunc is a function registered in the Resolver under a name. It behaves as
	// KindInline but survives serialization.
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindNamed:
		return "named"
	case KindInline:
		return "inline"
	case KindFunc:
		return "func"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Descriptor describes a single job of the pipeline. Descriptors are immutable and
// can be reused across any number of runs.
type Descriptor struct {
	kind Kind
	name string
	fn   any
}

// Named returns a descriptor of the job registered under the name.
func Named(name string) Descriptor {
	return Descriptor{kind: KindNamed, name: name}
}

// Inline returns a descriptor of the function fn. Its parameters are resolved
// against the passable and the process-wide bindings.
func Inline(fn any) Descriptor {
	return Descriptor{kind: KindInline, fn: fn}
}

// Func returns a descriptor of the function registered under the name.
func Func(name string) Descriptor {
	return Descriptor{kind: KindFunc, name: name}
}

func (d Descriptor) Kind() Kind {
	return d.kind
}

func (d Descriptor) Name() string {
	return d.name
}

// Fn returns the function of an inline descriptor, nil otherwise.
func (d Descriptor) Fn() any {
	return d.fn
}

func (d Descriptor) String() string {
	if d.kind == KindInline {
		return fmt.Sprintf("inline(%T)", d.fn)
	}

	return d.kind.String() + "(" + d.name + ")"
}
