package jobpipeline

import (
	"context"
	stderr "errors"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jprop "go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/jobpipeline/v5/codec"
	"github.com/roadrunner-server/jobpipeline/v5/container"
	"github.com/roadrunner-server/jobpipeline/v5/event"
	"github.com/roadrunner-server/jobpipeline/v5/pipeline"
	"github.com/roadrunner-server/jobpipeline/v5/protocol"
	pq "github.com/roadrunner-server/priority_queue"
	"go.uber.org/zap"
)

const (
	PluginName string = "jobpipeline"

	spanName string = "jobpipeline"
)

type Plugin struct {
	// plugin configuration
	cfg    *Config `structure:"jobpipeline"`
	log    *zap.Logger
	tracer *sdktrace.TracerProvider

	container *container.Container
	events    *event.Dispatcher
	kernel    *pipeline.Kernel
	codec     *codec.Codec

	constructors map[string]Constructor
	providers    []JobProvider
	// connection name -> Driver
	drivers sync.Map

	// priority queue implementation
	queue Queue

	// signal channel to stop accepting the pipelines
	stopCh   chan struct{}
	stopOnce sync.Once
	// pollers
	wg      sync.WaitGroup
	polling atomic.Bool

	metrics     *statsExporter
	respHandler *protocol.RespHandler
}

func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("jobpipeline_plugin_init")
	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	err := cfg.UnmarshalKey(PluginName, &p.cfg)
	if err != nil {
		return errors.E(op, err)
	}

	if p.cfg == nil {
		p.cfg = &Config{}
	}

	err = p.cfg.InitDefaults()
	if err != nil {
		return errors.E(op, err)
	}

	p.log = log.NamedLogger(PluginName)
	p.stopCh = make(chan struct{})

	p.container = container.New()
	p.events = event.NewDispatcher(p.log)
	p.codec = codec.New(p.container)
	// the plugin is the enqueuer of the kernel
	p.kernel = pipeline.NewKernel(p.container, p, p.log, p.cfg.DefaultQueued)

	// initialize priority queue
	p.queue = pq.NewBinHeap[*Item](p.cfg.PipelineSize)

	p.constructors = make(map[string]Constructor)
	p.constructors[memoryDriver] = &memoryConstructor{log: p.log}

	// collector
	p.metrics = newStatsExporter(p.queue)

	p.respHandler = protocol.NewResponseHandler(p.log, p.cfg.Backoff.Initial, p.cfg.Backoff.Max)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}, jprop.Jaeger{}))

	return nil
}

func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)
	const op = errors.Op("jobpipeline_plugin_serve")

	if p.tracer == nil {
		// noop tracer
		p.tracer = sdktrace.NewTracerProvider()
	}

	for i := range p.providers {
		err := p.providers[i].RegisterJobs(p.container)
		if err != nil {
			errCh <- errors.E(op, err)
			return errCh
		}
	}

	for name, conn := range p.cfg.Connections {
		if _, ok := p.constructors[conn.Driver]; !ok {
			errCh <- errors.E(op, errors.Errorf("can't find driver constructor for the connection, connection: %s, driver: %s", name, conn.Driver))
			return errCh
		}
	}

	proc := newDriversProc(p.log, &p.drivers, p.cfg.CfgOptions.Parallelism)
	for name, conn := range p.cfg.Connections {
		proc.add(&pjob{
			dc:         p.constructors[conn.Driver],
			connection: name,
			cfg:        conn,
			queue:      p.queue,
		})
	}

	// block until all drivers are initialized
	proc.wait()
	// we don't need the processor anymore
	proc.stop()
	if errs := proc.errors(); len(errs) > 0 {
		errCh <- errors.E(op, stderr.Join(errs...))
		return errCh
	}

	for _, decl := range p.cfg.Pipelines {
		err := p.declare(decl)
		if err != nil {
			errCh <- errors.E(op, err)
			return errCh
		}
	}

	// start listening
	p.listener()

	return errCh
}

// Stop is safe to call more than once, only the first call stops the plugin.
func (p *Plugin) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		err = p.stop(ctx)
	})

	return err
}

func (p *Plugin) stop(ctx context.Context) error {
	// Broadcast stop signal to the producers
	close(p.stopCh)

	if p.polling.Load() {
		// one stop marker per poller, markers go first
		for range p.cfg.NumPollers {
			p.queue.Insert(&Item{stop: true, Options: &Options{Priority: math.MinInt64}})
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.abandon()

	sema := semaphore.NewWeighted(int64(p.cfg.CfgOptions.Parallelism))
	// range over all drivers and call stop
	p.drivers.Range(func(key, value any) bool {
		// acquire semaphore, but if the context was canceled, we should stop
		errA := sema.Acquire(ctx, 1)
		if errA != nil {
			return false
		}

		go func() {
			drv := value.(Driver)
			ctxT, cancel := context.WithTimeout(ctx, p.cfg.timeout())
			err := drv.Stop(ctxT)
			if err != nil {
				p.log.Error("stop driver", zap.Any("connection", key), zap.Error(err))
			}
			cancel()

			// release semaphore
			sema.Release(1)
		}()
		// process next
		return true
	})

	return sema.Acquire(ctx, int64(p.cfg.CfgOptions.Parallelism))
}

func (p *Plugin) Collects() []*dep.In {
	return []*dep.In{
		dep.Fits(func(pp any) {
			dc := pp.(Constructor)
			p.constructors[dc.Name()] = dc
		}, (*Constructor)(nil)),
		dep.Fits(func(pp any) {
			p.providers = append(p.providers, pp.(JobProvider))
		}, (*JobProvider)(nil)),
		dep.Fits(func(pp any) {
			p.tracer = pp.(Tracer).Tracer()
		}, (*Tracer)(nil)),
	}
}

func (p *Plugin) Name() string {
	return PluginName
}

func (p *Plugin) RPC() any {
	return &rpc{
		p: p,
	}
}

// Container holds the jobs, functions, bindings and passable types of the pipelines.
func (p *Plugin) Container() *container.Container {
	return p.container
}

// Pipeline makes a definition of the jobs with the configured default queue policy.
func (p *Plugin) Pipeline(jobs ...pipeline.Descriptor) *pipeline.Definition {
	return p.kernel.Make(jobs...)
}

// Listen binds the pipeline to the event.
func (p *Plugin) Listen(name string, def *pipeline.Definition) {
	p.events.Listen(name, event.Listener(def.ToListener()))
}

// Dispatch fires the event. Failures of the inline pipelines and the queue errors
// are returned.
func (p *Plugin) Dispatch(ctx context.Context, name string, args ...any) error {
	ctx, span := p.tracer.Tracer(spanName).Start(ctx, "dispatch", trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attribute.String("event", name)))
	defer span.End()

	p.metrics.dispatchCounter.WithLabelValues(name).Inc()

	err := p.events.Dispatch(ctx, name, args...)
	if err != nil {
		span.SetAttributes(attribute.String("error", err.Error()))
		return err
	}

	return nil
}

// Events returns the names of the events with pipelines.
func (p *Plugin) Events() []string {
	return p.events.Events()
}

// Enqueue pushes the executable to the driver of its connection.
func (p *Plugin) Enqueue(ctx context.Context, exe *pipeline.Executable) error {
	const op = errors.Op("jobpipeline_plugin_enqueue")

	select {
	case <-p.stopCh:
		return errors.E(op, errors.Str("plugin was stopped"))
	default:
	}

	start := time.Now().UTC()
	conn := exe.Routing.Connection
	if conn == "" {
		conn = p.cfg.DefaultConnection
	}

	d, ok := p.drivers.Load(conn)
	if !ok {
		p.metrics.CountPushErr()
		return errors.E(op, errors.Errorf("connection is not configured: %s", conn))
	}

	maxTries := exe.Routing.MaxTries
	if maxTries <= 0 {
		maxTries = p.cfg.MaxTries
	}

	data, err := p.codec.Marshal(exe)
	if err != nil {
		p.metrics.CountPushErr()
		return errors.E(op, err)
	}

	item := &Item{
		Ident: exe.ID,
		Pld:   data,
		Hdr:   make(map[string][]string, 2),
		Options: &Options{
			Priority:   p.cfg.priority(exe.Routing.Queue),
			Queue:      exe.Routing.Queue,
			Connection: conn,
			Delay:      exe.Routing.Delay.Milliseconds(),
			Attempt:    1,
			MaxTries:   maxTries,
		},
	}

	ctx, span := p.tracer.Tracer(spanName).Start(ctx, "enqueue", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(item.Hdr))

	p.metrics.pushRequestCounter.WithLabelValues(item.Queue(), conn).Inc()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.timeout())
	defer cancel()

	err = d.(Driver).Push(ctx, item)
	if err != nil {
		p.metrics.CountPushErr()
		span.SetAttributes(attribute.String("error", err.Error()))
		p.log.Error("pipeline push error", zap.String("ID", item.ID()), zap.String("queue", item.Queue()), zap.String("connection", conn), zap.Time("start", start), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return errors.E(op, err)
	}

	p.metrics.CountPushOk()
	p.metrics.pushLatencyHistogram.WithLabelValues(item.Queue(), conn).Observe(time.Since(start).Seconds())

	p.log.Debug("pipeline was pushed successfully", zap.String("ID", item.ID()), zap.String("queue", item.Queue()), zap.String("connection", conn), zap.Time("start", start), zap.Duration("elapsed", time.Since(start)))

	return nil
}

// States of the connections, sorted by the connection name.
func (p *Plugin) States(ctx context.Context) ([]*State, error) {
	const op = errors.Op("jobpipeline_plugin_drivers_state")

	st := make([]*State, 0, 2)
	var err error
	p.drivers.Range(func(_, value any) bool {
		ctxT, cancel := context.WithTimeout(ctx, p.cfg.timeout())
		defer cancel()

		var state *State
		state, err = value.(Driver).State(ctxT)
		if err != nil {
			return false
		}

		st = append(st, state)
		return true
	})

	if err != nil {
		return nil, errors.E(op, err)
	}

	slices.SortFunc(st, func(a, b *State) int {
		return strings.Compare(a.Connection, b.Connection)
	})

	return st, nil
}

// declare binds the declarative pipeline to its event.
func (p *Plugin) declare(decl Declaration) error {
	const op = errors.Op("jobpipeline_plugin_declare")

	names := decl.Jobs()
	if len(names) == 0 {
		return errors.E(op, errors.Errorf("pipeline has no jobs: %s", decl.Name()))
	}

	jobs := make([]pipeline.Descriptor, 0, len(names))
	for _, name := range names {
		if p.container.Has(name) {
			jobs = append(jobs, pipeline.Named(name))
			continue
		}

		if _, err := p.container.Func(name); err == nil {
			jobs = append(jobs, pipeline.Func(name))
			continue
		}

		return errors.E(op, errors.Errorf("pipeline %s: no job or function registered under the name: %s", decl.Name(), name))
	}

	def := p.Pipeline(jobs...)

	if decl.Bool(spreadKey, false) {
		def.Send(func(args ...any) any {
			return args
		})
	}

	if queued, queue, ok := decl.QueuePolicy(); ok {
		if queue != "" {
			def.ShouldBeQueuedOn(queue)
		} else {
			def.ShouldBeQueued(queued)
		}
	}

	if decl.Has(queueKey) {
		def.OnQueue(decl.String(queueKey, ""))
	}

	if decl.Has(connectionKey) {
		conn := decl.String(connectionKey, "")
		if _, ok := p.cfg.Connections[conn]; !ok {
			return errors.E(op, errors.Errorf("pipeline %s: connection is not configured: %s", decl.Name(), conn))
		}
		def.OnConnection(conn)
	}

	def.WithDelay(decl.Duration(delayKey, 0))
	def.WithMaxTries(decl.Int(maxTriesKey, 0))

	p.Listen(decl.Event(), def)
	p.log.Debug("pipeline was declared", zap.String("pipeline", decl.Name()), zap.String("event", decl.Event()), zap.Strings("jobs", names), zap.Bool("queued", def.Queued()))

	return nil
}

// abandon drops the pipelines left in the queue after the pollers were stopped.
func (p *Plugin) abandon() {
	var n int
	for p.queue.Len() > 0 {
		item := p.queue.ExtractMin()
		if item.stop {
			continue
		}

		n++
		p.metrics.CountDead()
		if item.drv == nil {
			continue
		}

		err := item.Nack()
		if err != nil {
			p.log.Error("negatively acknowledge was failed", zap.String("ID", item.ID()), zap.Error(err))
		}
	}

	if n > 0 {
		p.log.Warn("pipelines were left in the queue and dropped", zap.Int("count", n))
	}
}
