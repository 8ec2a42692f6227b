package jobpipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/jobpipeline/v5/codec"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// FireRequest dispatches the event with the typed arguments.
type FireRequest struct {
	Event string      `json:"event"`
	Args  []codec.Arg `json:"args"`
	// Headers may carry the trace context of the caller
	Headers map[string][]string `json:"headers,omitempty"`
}

type FireBatchRequest struct {
	Events []*FireRequest `json:"events"`
}

type Empty struct{}

type Events struct {
	Events []string `json:"events"`
}

type Stats struct {
	// Queue is the number of the pipelines waiting for a poller
	Queue uint64   `json:"queue"`
	Stats []*State `json:"stats"`
}

type rpc struct {
	p *Plugin
}

func (r *rpc) Fire(req *FireRequest, _ *Empty) error {
	const op = errors.Op("rpc_fire")

	ctx, span := r.p.tracer.Tracer(spanName).Start(rpcContextFromHeaders(req.Headers), "fire", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	err := r.fire(ctx, req)
	if err != nil {
		span.SetAttributes(attribute.String("error", err.Error()))
		return errors.E(op, err)
	}

	return nil
}

func (r *rpc) FireBatch(req *FireBatchRequest, _ *Empty) error {
	const op = errors.Op("rpc_fire_batch")

	ctx, span := r.p.tracer.Tracer(spanName).Start(rpcContextFromBatch(req.Events), "fire_batch", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	errg, ctx := errgroup.WithContext(ctx)
	errg.SetLimit(r.p.cfg.CfgOptions.Parallelism)

	for i := range req.Events {
		errg.Go(func() error {
			return r.fire(ctx, req.Events[i])
		})
	}

	err := errg.Wait()
	if err != nil {
		span.SetAttributes(attribute.String("error", err.Error()))
		return errors.E(op, err)
	}

	return nil
}

func (r *rpc) List(_ *Empty, resp *Events) error {
	_, span := r.p.tracer.Tracer(spanName).Start(context.Background(), "list_events", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	resp.Events = r.p.Events()
	return nil
}

func (r *rpc) Stat(_ *Empty, resp *Stats) error {
	const op = errors.Op("rpc_stats")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ctx, span := r.p.tracer.Tracer(spanName).Start(ctx, "stat", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	state, err := r.p.States(ctx)
	if err != nil {
		span.SetAttributes(attribute.String("error", err.Error()))
		return errors.E(op, err)
	}

	resp.Queue = r.p.queue.Len()
	resp.Stats = state

	return nil
}

func (r *rpc) fire(ctx context.Context, req *FireRequest) error {
	if req == nil || req.Event == "" {
		return errors.Str("empty event name not allowed")
	}

	if !r.p.events.HasListeners(req.Event) {
		return errors.Errorf("no pipelines listen to the event: %s", req.Event)
	}

	args, err := r.p.codec.DecodeArgs(req.Args)
	if err != nil {
		return err
	}

	return r.p.Dispatch(ctx, req.Event, args...)
}

// rpcContextFromHeaders extracts the trace context, header names are case-insensitive.
func rpcContextFromHeaders(headers map[string][]string) context.Context {
	if len(headers) == 0 {
		return context.Background()
	}

	h := make(http.Header, len(headers))
	for k, v := range headers {
		for i := range v {
			h.Add(k, v[i])
		}
	}

	return otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(h))
}

// rpcContextFromBatch uses the first valid trace context of the batch.
func rpcContextFromBatch(reqs []*FireRequest) context.Context {
	for i := range reqs {
		if reqs[i] == nil {
			continue
		}

		ctx := rpcContextFromHeaders(reqs[i].Headers)
		if trace.SpanContextFromContext(ctx).IsValid() {
			return ctx
		}
	}

	return context.Background()
}
