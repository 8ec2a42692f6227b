package jobpipeline

import (
	"context"
	"time"

	"github.com/roadrunner-server/jobpipeline/v5/pipeline"
	"github.com/roadrunner-server/jobpipeline/v5/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// listener starts the pollers, each of them runs one pipeline at a time
func (p *Plugin) listener() {
	p.polling.Store(true)
	for range p.cfg.NumPollers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				// get prioritized pipeline from the queue, blocks while the queue is empty
				item := p.queue.ExtractMin()
				if item.stop {
					p.log.Debug("------> pipeline poller was stopped <------")
					return
				}

				p.process(item)
			}
		}()
	}
}

func (p *Plugin) process(item *Item) {
	start := time.Now().UTC()

	traceCtx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(item.Headers()))
	ctx, span := p.tracer.Tracer(spanName).Start(traceCtx, "jobpipeline_listener", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	p.log.Debug("pipeline processing was started", zap.String("ID", item.ID()), zap.Int("attempt", item.Attempt()), zap.Time("start", start))

	exe, err := p.codec.Unmarshal(item.Payload())
	if err != nil {
		p.metrics.CountRunErr()
		p.metrics.CountDead()
		span.SetAttributes(attribute.String("error", err.Error()))

		p.log.Error("pipeline unmarshal error", zap.Error(err), zap.String("ID", item.ID()), zap.Time("start", start), zap.Duration("elapsed", time.Since(start)))

		errNack := item.Nack()
		if errNack != nil {
			p.log.Error("negatively acknowledge was failed", zap.String("ID", item.ID()), zap.Error(errNack))
		}
		return
	}

	outcome, err := exe.Run(ctx, p.kernel.Resolver())
	switch outcome {
	case pipeline.Completed:
		p.metrics.CountRunOk()
	case pipeline.Halted:
		p.metrics.CountRunHalted()
	case pipeline.Delegated:
		p.metrics.CountRunDelegated()
	default:
		p.metrics.CountRunErr()
		if err != nil {
			span.SetAttributes(attribute.String("error", err.Error()))
		}
	}

	span.SetAttributes(attribute.String("outcome", outcome.String()), attribute.Int("attempt", item.Attempt()))

	dead, err := p.respHandler.Handle(&protocol.Result{
		Outcome:  outcome,
		Err:      err,
		Attempt:  item.Attempt(),
		MaxTries: item.MaxTries(),
	}, item)
	if dead {
		p.metrics.CountDead()
	}
	if err != nil {
		p.log.Error("response handler error", zap.Error(err), zap.String("ID", item.ID()), zap.Time("start", start), zap.Duration("elapsed", time.Since(start)))
		return
	}

	p.log.Debug("pipeline was processed", zap.String("ID", item.ID()), zap.Stringer("outcome", outcome), zap.Time("start", start), zap.Duration("elapsed", time.Since(start)))
}
