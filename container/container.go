package container

import (
	"context"
	"reflect"
	"sync"

	"github.com/roadrunner-server/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Container is safe for concurrent use.
type Container struct {
	mu sync.RWMutex

	ctors    map[string]reflect.Value
	funcs    map[string]reflect.Value
	bindings map[reflect.Type]reflect.Value

	types map[string]reflect.Type
	names map[reflect.Type]string
}

// New creates a container with the scalar passable types registered.
func New() *Container {
	c := &Container{
		ctors:    make(map[string]reflect.Value),
		funcs:    make(map[string]reflect.Value),
		bindings: make(map[reflect.Type]reflect.Value),
		types:    make(map[string]reflect.Type),
		names:    make(map[reflect.Type]string),
	}

	RegisterType[string](c, "string")
	RegisterType[bool](c, "bool")
	RegisterType[int](c, "int")
	RegisterType[int64](c, "int64")
	RegisterType[float64](c, "float64")
	RegisterType[[]byte](c, "bytes")
	RegisterType[[]string](c, "strings")
	RegisterType[map[string]any](c, "map")

	return c
}

// Register registers the job constructor under the name. ctor is a function
// returning the job, optionally followed by an error.
func (c *Container) Register(name string, ctor any) error {
	const op = errors.Op("container_register")
	v := reflect.ValueOf(ctor)
	if v.Kind() != reflect.Func {
		return errors.E(op, errors.Errorf("constructor of the %s job should be a function, got: %T", name, ctor))
	}

	t := v.Type()
	switch {
	case t.NumOut() == 1:
	case t.NumOut() == 2 && t.Out(1) == errorType:
	default:
		return errors.E(op, errors.Errorf("constructor of the %s job should return the job and optionally an error, got: %s", name, t))
	}

	c.mu.Lock()
	c.ctors[name] = v
	c.mu.Unlock()
	return nil
}

// RegisterFunc registers the function under the name.
func (c *Container) RegisterFunc(name string, fn any) error {
	const op = errors.Op("container_register_func")
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return errors.E(op, errors.Errorf("%s should be a function, got: %T", name, fn))
	}

	c.mu.Lock()
	c.funcs[name] = v
	c.mu.Unlock()
	return nil
}

// Bind binds the value under its dynamic type.
func (c *Container) Bind(v any) {
	if v == nil {
		return
	}

	c.mu.Lock()
	c.bindings[reflect.TypeOf(v)] = reflect.ValueOf(v)
	c.mu.Unlock()
}

// Provide binds the value under T, which is usually an interface.
func Provide[T any](c *Container, v T) {
	c.mu.Lock()
	c.bindings[reflect.TypeFor[T]()] = reflect.ValueOf(&v).Elem()
	c.mu.Unlock()
}

// RegisterType registers T as a passable type under the name. Pointers to T are
// covered by the same name.
func RegisterType[T any](c *Container, name string) {
	t := reflect.TypeFor[T]()

	c.mu.Lock()
	c.types[name] = t
	c.names[t] = name
	c.mu.Unlock()
}

// TypeByName returns the passable type registered under the name.
func (c *Container) TypeByName(name string) (reflect.Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	return t, ok
}

// NameOf returns the name of the registered passable type.
func (c *Container) NameOf(t reflect.Type) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.names[t]
	return n, ok
}

// Has reports whether a job constructor is registered under the name.
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ctors[name]
	return ok
}

// Make constructs the job registered under the name.
func (c *Container) Make(ctx context.Context, name string, passable []any) (instance any, err error) {
	const op = errors.Op("container_make")

	c.mu.RLock()
	ctor, ok := c.ctors[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.E(op, errors.Errorf("no job registered under the name: %s", name))
	}

	args, err := c.resolve(ctx, ctor.Type(), passable)
	if err != nil {
		return nil, errors.E(op, errors.Errorf("job %s: %v", name, err))
	}

	defer func() {
		if rec := recover(); rec != nil {
			instance = nil
			err = errors.E(op, errors.Errorf("job %s constructor panicked: %v", name, rec))
		}
	}()

	out := ctor.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, errors.E(op, out[1].Interface().(error))
	}

	if isNil(out[0]) {
		return nil, errors.E(op, errors.Errorf("constructor of the %s job returned nil", name))
	}

	return out[0].Interface(), nil
}

// Func returns the function registered under the name.
func (c *Container) Func(name string) (any, error) {
	const op = errors.Op("container_func")

	c.mu.RLock()
	fn, ok := c.funcs[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.E(op, errors.Errorf("no function registered under the name: %s", name))
	}

	return fn.Interface(), nil
}

// Prepare resolves the parameters of fn. The returned call makes the actual
// invocation and doesn't recover panics.
func (c *Container) Prepare(ctx context.Context, fn any, passable []any) (func() []any, error) {
	const op = errors.Op("container_prepare")
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, errors.E(op, errors.Errorf("job should be a function, got: %T", fn))
	}

	args, err := c.resolve(ctx, v.Type(), passable)
	if err != nil {
		return nil, errors.E(op, err)
	}

	return func() []any {
		out := v.Call(args)
		res := make([]any, len(out))
		for i := range out {
			res[i] = out[i].Interface()
		}
		return res
	}, nil
}

func (c *Container) resolve(ctx context.Context, ft reflect.Type, passable []any) ([]reflect.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	used := make([]bool, len(passable))
	n := ft.NumIn()
	args := make([]reflect.Value, 0, n)

	for i := 0; i < n; i++ {
		pt := ft.In(i)

		// variadic parameter takes the rest of the passable
		if ft.IsVariadic() && i == n-1 {
			et := pt.Elem()
			for j := range passable {
				if !used[j] && assignable(passable[j], et) {
					used[j] = true
					args = append(args, valueOf(passable[j], et))
				}
			}
			break
		}

		if pt == contextType {
			args = append(args, reflect.ValueOf(ctx))
			continue
		}

		if j := next(passable, used, pt); j >= 0 {
			used[j] = true
			args = append(args, valueOf(passable[j], pt))
			continue
		}

		v, err := c.binding(pt)
		if err != nil {
			return nil, errors.Errorf("parameter #%d: %v", i, err)
		}
		args = append(args, v)
	}

	return args, nil
}

func (c *Container) binding(t reflect.Type) (reflect.Value, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.bindings[t]; ok {
		return v, nil
	}

	if t.Kind() != reflect.Interface {
		return reflect.Value{}, errors.Errorf("no binding for the type %s", t)
	}

	var found reflect.Value
	for bt, v := range c.bindings {
		if !bt.Implements(t) {
			continue
		}
		if found.IsValid() {
			return reflect.Value{}, errors.Errorf("more than one binding implements %s", t)
		}
		found = v
	}

	if !found.IsValid() {
		return reflect.Value{}, errors.Errorf("no binding for the type %s", t)
	}

	return found, nil
}

func next(passable []any, used []bool, t reflect.Type) int {
	for j := range passable {
		if !used[j] && assignable(passable[j], t) {
			return j
		}
	}

	return -1
}

func assignable(v any, t reflect.Type) bool {
	if v == nil {
		return nillable(t)
	}

	return reflect.TypeOf(v).AssignableTo(t)
}

func valueOf(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}

	return reflect.ValueOf(v)
}

func nillable(t reflect.Type) bool {
	switch t.Kind() { //nolint:exhaustive
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}

	if nillable(v.Type()) {
		return v.IsNil()
	}

	return false
}
