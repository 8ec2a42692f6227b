package pipeline_test

import (
	"context"
	stderr "errors"
	"sync"
	"testing"
	"time"

	"github.com/roadrunner-server/jobpipeline/v5/container"
	"github.com/roadrunner-server/jobpipeline/v5/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testModel struct {
	Foo string
}

type testEvent struct {
	Model *testModel
}

type valueStore struct {
	mu sync.Mutex
	kv map[string]any
}

func newValueStore() *valueStore {
	return &valueStore{kv: make(map[string]any)}
}

func (s *valueStore) Put(k string, v any) {
	s.mu.Lock()
	s.kv[k] = v
	s.mu.Unlock()
}

func (s *valueStore) Get(k string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[k]
	return v, ok
}

type fooJob struct{ store *valueStore }

func (j *fooJob) Handle() { j.store.Put("foo", "bar") }

type firstJob struct{ model *testModel }

func (j *firstJob) Handle() { j.model.Foo = "first job changed property" }

type secondJob struct {
	model *testModel
	store *valueStore
}

func (j *secondJob) Handle() { j.store.Put("foo", j.model.Foo) }

type falseJob struct{ store *valueStore }

func (j *falseJob) Handle() bool {
	j.store.Put("false_job_executed", true)
	return false
}

var errPipelineException = stderr.New("pipeline exception")

type exceptionJob struct{ store *valueStore }

func (j *exceptionJob) Handle() error { return errPipelineException }

func (j *exceptionJob) Failed(err error) { j.store.Put("exception", err) }

type brokenFailedJob struct{}

func (j *brokenFailedJob) Handle() error { return errPipelineException }

func (j *brokenFailedJob) Failed(error) { panic("failed handler broke") }

type validationError struct{ field string }

func (e *validationError) Error() string { return "invalid " + e.field }

type validateJob struct{ store *valueStore }

func (j *validateJob) Handle() *validationError {
	j.store.Put("validated", true)
	return nil
}

type multiArgsJob struct{ first, second string }

func (j *multiArgsJob) Handle(store *valueStore) { store.Put("args", []string{j.first, j.second}) }

type recordingEnqueuer struct {
	mu     sync.Mutex
	pushed []*pipeline.Executable
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, exe *pipeline.Executable) error {
	r.mu.Lock()
	r.pushed = append(r.pushed, exe)
	r.mu.Unlock()
	return nil
}

func newKernel(t *testing.T, store *valueStore, q pipeline.Enqueuer) (*pipeline.Kernel, *container.Container) {
	t.Helper()

	c := container.New()
	c.Bind(store)
	require.NoError(t, c.Register("foo", func(s *valueStore) *fooJob { return &fooJob{store: s} }))
	require.NoError(t, c.Register("first", func(m *testModel) *firstJob { return &firstJob{model: m} }))
	require.NoError(t, c.Register("second", func(m *testModel, s *valueStore) *secondJob { return &secondJob{model: m, store: s} }))
	require.NoError(t, c.Register("false", func(s *valueStore) *falseJob { return &falseJob{store: s} }))
	require.NoError(t, c.Register("exception", func(s *valueStore) *exceptionJob { return &exceptionJob{store: s} }))
	require.NoError(t, c.Register("multi", func(a, b string) *multiArgsJob { return &multiArgsJob{first: a, second: b} }))

	return pipeline.NewKernel(c, q, zaptest.NewLogger(t), false), c
}

func TestListenerRunsInline(t *testing.T) {
	store := newValueStore()
	k, _ := newKernel(t, store, nil)

	l := k.Make(pipeline.Named("foo")).Send(func(...any) any { return store }).ToListener()

	_, ok := store.Get("foo")
	require.False(t, ok)

	require.NoError(t, l(context.Background(), &testEvent{Model: &testModel{}}))

	v, _ := store.Get("foo")
	assert.Equal(t, "bar", v)
}

func TestJobsPassTheObjectSequentially(t *testing.T) {
	store := newValueStore()
	k, _ := newKernel(t, store, nil)

	l := k.Make(pipeline.Named("first"), pipeline.Named("second")).
		Send(func(args ...any) any {
			return []any{args[0].(*testEvent).Model, store}
		}).ToListener()

	require.NoError(t, l(context.Background(), &testEvent{Model: &testModel{}}))

	v, _ := store.Get("foo")
	assert.Equal(t, "first job changed property", v)
}

func TestSendCanReturnMultipleArguments(t *testing.T) {
	store := newValueStore()
	k, _ := newKernel(t, store, nil)

	l := k.Make(pipeline.Named("multi")).Send(func(...any) any { return []any{"a", "b"} }).ToListener()
	require.NoError(t, l(context.Background()))

	v, _ := store.Get("args")
	assert.Equal(t, []string{"a", "b"}, v)
}

func TestPassableNormalization(t *testing.T) {
	k, _ := newKernel(t, newValueStore(), nil)

	tests := []struct {
		name string
		send pipeline.SendFunc
		args []any
		want []any
	}{
		{name: "scalar is wrapped", send: func(...any) any { return 42 }, want: []any{42}},
		{name: "sequence is kept", send: func(...any) any { return []any{"a", "b"} }, want: []any{"a", "b"}},
		{name: "nil is wrapped", send: func(...any) any { return nil }, want: []any{nil}},
		{name: "typed slice is a single value", send: func(...any) any { return []string{"a"} }, want: []any{[]string{"a"}}},
		{name: "identity of the first argument", args: []any{"x", "y"}, want: []any{"x"}},
		{name: "identity without arguments", want: []any{}},
	}

	for i := range tests {
		t.Run(tests[i].name, func(t *testing.T) {
			def := k.Make(pipeline.Inline(func() {}))
			if tests[i].send != nil {
				def.Send(tests[i].send)
			}

			exe := def.ToExecutable(tests[i].args)
			assert.Equal(t, tests[i].want, exe.Passable)
		})
	}
}

func TestRunKeepsJobsAndPassable(t *testing.T) {
	k, c := newKernel(t, newValueStore(), nil)
	model := &testModel{Foo: "x"}
	require.NoError(t, c.RegisterFunc("noop", func() any { return nil }))

	def := k.Make(pipeline.Func("noop"))
	exe := def.ToExecutable([]any{model})

	outcome, err := exe.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Completed, outcome)
	assert.Equal(t, []any{model}, exe.Passable)
	assert.Equal(t, def.Jobs(), exe.Jobs)
}

func TestExecutableDoesNotAliasDefinition(t *testing.T) {
	k, _ := newKernel(t, newValueStore(), nil)
	seq := []any{"a", "b"}

	def := k.Make(pipeline.Named("foo")).Send(func(...any) any { return seq })
	exe := def.ToExecutable(nil)

	exe.Jobs[0] = pipeline.Named("other")
	exe.Passable[0] = "changed"

	assert.Equal(t, "foo", def.Jobs()[0].Name())
	assert.Equal(t, "a", seq[0])
	assert.NotEqual(t, exe.ID, def.ToExecutable(nil).ID)
}

func TestFalseHaltsThePipeline(t *testing.T) {
	store := newValueStore()
	k, c := newKernel(t, store, nil)

	exe := k.Make(pipeline.Named("false"), pipeline.Named("foo")).
		Send(func(...any) any { return store }).ToExecutable(nil)

	outcome, err := exe.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Halted, outcome)

	v, _ := store.Get("false_job_executed")
	assert.Equal(t, true, v)
	_, ok := store.Get("foo")
	assert.False(t, ok)
}

func TestFalsyValuesDoNotHalt(t *testing.T) {
	k, c := newKernel(t, newValueStore(), nil)

	tests := []struct {
		name string
		fn   any
	}{
		{name: "nil", fn: func() any { return nil }},
		{name: "zero", fn: func() int { return 0 }},
		{name: "empty string", fn: func() string { return "" }},
		{name: "empty sequence", fn: func() []any { return []any{} }},
		{name: "no value", fn: func() {}},
		{name: "nil error", fn: func() error { return nil }},
		{name: "true", fn: func() bool { return true }},
	}

	for i := range tests {
		t.Run(tests[i].name, func(t *testing.T) {
			reached := false
			exe := k.Make(pipeline.Inline(tests[i].fn), pipeline.Inline(func() { reached = true })).ToExecutable(nil)

			outcome, err := exe.Run(context.Background(), c)
			require.NoError(t, err)
			assert.Equal(t, pipeline.Completed, outcome)
			assert.True(t, reached)
		})
	}
}

func TestFailedMethodReceivesTheFailure(t *testing.T) {
	store := newValueStore()
	k, _ := newKernel(t, store, nil)

	l := k.Make(pipeline.Named("exception"), pipeline.Named("foo")).
		Send(func(...any) any { return store }).ToListener()

	require.NoError(t, l(context.Background(), &testEvent{}))

	v, _ := store.Get("exception")
	err, ok := v.(error)
	require.True(t, ok)
	assert.Same(t, errPipelineException, err)
	_, ok = store.Get("foo")
	assert.False(t, ok)
}

func TestPanicInFailedIsAFailure(t *testing.T) {
	store := newValueStore()
	k, c := newKernel(t, store, nil)
	require.NoError(t, c.Register("broken_failed", func() *brokenFailedJob { return &brokenFailedJob{} }))

	exe := k.Make(pipeline.Named("broken_failed"), pipeline.Named("foo")).ToExecutable([]any{store})

	var outcome pipeline.Outcome
	var err error
	require.NotPanics(t, func() {
		outcome, err = exe.Run(context.Background(), k.Resolver())
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed handler broke")
	assert.Equal(t, pipeline.Failed, outcome)
	_, ok := store.Get("foo")
	assert.False(t, ok)
}

func TestTypedNilErrorIsNotAFailure(t *testing.T) {
	store := newValueStore()
	k, c := newKernel(t, store, nil)
	require.NoError(t, c.Register("validate", func(s *valueStore) *validateJob { return &validateJob{store: s} }))

	outcome, err := k.Make(pipeline.Named("validate"), pipeline.Named("foo")).
		ToExecutable([]any{store}).Run(context.Background(), k.Resolver())
	require.NoError(t, err)
	assert.Equal(t, pipeline.Completed, outcome)

	v, _ := store.Get("foo")
	assert.Equal(t, "bar", v)
}

func TestFailureWithoutFailedPropagates(t *testing.T) {
	k, c := newKernel(t, newValueStore(), nil)
	boom := stderr.New("x")
	reached := false

	exe := k.Make(
		pipeline.Inline(func() error { return boom }),
		pipeline.Inline(func() { reached = true }),
	).ToExecutable(nil)

	outcome, err := exe.Run(context.Background(), c)
	assert.Same(t, boom, err)
	assert.Equal(t, pipeline.Failed, outcome)
	assert.False(t, reached)

	l := k.Make(pipeline.Inline(func() error { return boom })).ToListener()
	assert.Same(t, boom, l(context.Background()))
}

func TestPanicIsAFailure(t *testing.T) {
	k, c := newKernel(t, newValueStore(), nil)

	exe := k.Make(pipeline.Inline(func() { panic("boom") })).ToExecutable(nil)
	outcome, err := exe.Run(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, pipeline.Failed, outcome)
}

func TestConstructionFailurePropagates(t *testing.T) {
	k, c := newKernel(t, newValueStore(), nil)

	exe := k.Make(pipeline.Named("missing")).ToExecutable(nil)
	outcome, err := exe.Run(context.Background(), c)
	require.Error(t, err)
	assert.Equal(t, pipeline.Failed, outcome)

	// the passable can't satisfy the int parameter and nothing is bound
	exe = k.Make(pipeline.Inline(func(int) {})).ToExecutable(nil)
	_, err = exe.Run(context.Background(), c)
	require.Error(t, err)
}

func TestClosuresCanBeUsedAsJobs(t *testing.T) {
	k, _ := newKernel(t, newValueStore(), nil)
	passes := false

	l := k.Make(pipeline.Inline(func(m *testModel) {
		passes = m != nil
	})).Send(func(args ...any) any {
		return args[0].(*testEvent).Model
	}).ToListener()

	require.NoError(t, l(context.Background(), &testEvent{Model: &testModel{}}))
	assert.True(t, passes)
}

func TestNamedFunctionJob(t *testing.T) {
	k, c := newKernel(t, newValueStore(), nil)
	var got string
	require.NoError(t, c.RegisterFunc("remember", func(ctx context.Context, s string) {
		require.NotNil(t, ctx)
		got = s
	}))

	exe := k.Make(pipeline.Func("remember")).ToExecutable([]any{"value"})
	_, err := exe.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestExecutableRunsOnce(t *testing.T) {
	k, c := newKernel(t, newValueStore(), nil)
	calls := 0

	exe := k.Make(pipeline.Inline(func() { calls++ })).ToExecutable(nil)
	_, err := exe.Run(context.Background(), c)
	require.NoError(t, err)

	_, err = exe.Run(context.Background(), c)
	assert.ErrorIs(t, err, pipeline.ErrAlreadyRun)
	assert.Equal(t, 1, calls)
}

func TestQueuePolicy(t *testing.T) {
	store := newValueStore()
	q := &recordingEnqueuer{}
	k, _ := newKernel(t, store, q)

	def := k.Make(pipeline.Named("foo")).Send(func(...any) any { return store })
	assert.False(t, def.Queued())

	def.ShouldBeQueued(true)
	require.NoError(t, def.ToListener()(context.Background(), &testEvent{}))

	_, ok := store.Get("foo")
	assert.False(t, ok)
	require.Len(t, q.pushed, 1)
	assert.Equal(t, []pipeline.Descriptor{pipeline.Named("foo")}, q.pushed[0].Jobs)
	assert.Equal(t, "", q.pushed[0].Routing.Queue)

	def = k.Make(pipeline.Named("foo")).
		ShouldBeQueuedOn("myqueue").
		OnConnection("memory").
		WithDelay(time.Second).
		WithMaxTries(3)
	require.NoError(t, def.ToListener()(context.Background(), store))

	require.Len(t, q.pushed, 2)
	assert.True(t, q.pushed[1].Queued)
	assert.Equal(t, pipeline.Routing{Queue: "myqueue", Connection: "memory", Delay: time.Second, MaxTries: 3}, q.pushed[1].Routing)

	// an explicit false takes the pipeline out of the queue
	def.ShouldBeQueued(false)
	assert.False(t, def.Queued())
	assert.Equal(t, "myqueue", def.Routing().Queue)
}

func TestQueuedByDefault(t *testing.T) {
	q := &recordingEnqueuer{}
	k := pipeline.NewKernel(container.New(), q, nil, true)

	require.NoError(t, k.Make(pipeline.Inline(func() {})).ToListener()(context.Background()))
	assert.Len(t, q.pushed, 1)
}

func TestQueuedWithoutEnqueuer(t *testing.T) {
	k, _ := newKernel(t, newValueStore(), nil)

	err := k.Make(pipeline.Named("foo")).ShouldBeQueued(true).ToListener()(context.Background())
	require.Error(t, err)
}
