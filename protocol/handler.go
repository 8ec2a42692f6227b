package protocol

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/jobpipeline/v5/pipeline"
	"go.uber.org/zap"
)

// Acknowledger is the delivered queue item.
type Acknowledger interface {
	ID() string
	Ack() error
	Nack() error
	Requeue(delay time.Duration) error
}

// Result of the run of a queued executable.
type Result struct {
	Outcome pipeline.Outcome
	// Err is the failure returned by the run
	Err error
	// Attempt is the current attempt, starting at 1
	Attempt  int
	MaxTries int
}

type RespHandler struct {
	log *zap.Logger

	initial time.Duration
	max     time.Duration
}

func NewResponseHandler(log *zap.Logger, initial, max time.Duration) *RespHandler {
	return &RespHandler{
		log:     log,
		initial: initial,
		max:     max,
	}
}

// Handle acknowledges, requeues or drops the item according to the result.
// Dead reports whether the item was dropped after a failure.
func (rh *RespHandler) Handle(res *Result, item Acknowledger) (dead bool, err error) {
	const op = errors.Op("jobpipeline_handle_response")

	switch res.Outcome {
	// likely case
	case pipeline.Completed, pipeline.Halted, pipeline.Delegated:
		err = item.Ack()
		if err != nil {
			return false, errors.E(op, err)
		}
		return false, nil
	case pipeline.Failed:
		if res.Attempt < res.MaxTries {
			delay := rh.Delay(res.Attempt)
			rh.log.Info("pipeline failed, requeueing", zap.String("ID", item.ID()), zap.Int("attempt", res.Attempt), zap.Int("max_tries", res.MaxTries), zap.Duration("delay", delay), zap.Error(res.Err))
			err = item.Requeue(delay)
			if err != nil {
				return false, errors.E(op, err)
			}
			return false, nil
		}

		rh.log.Error("pipeline failed, no attempts left", zap.String("ID", item.ID()), zap.Int("attempt", res.Attempt), zap.Int("max_tries", res.MaxTries), zap.Error(res.Err))
		err = item.Nack()
		if err != nil {
			return true, errors.E(op, err)
		}
		return true, nil
	default:
		rh.log.Warn("unknown outcome, acknowledging the pipeline", zap.String("ID", item.ID()), zap.Stringer("outcome", res.Outcome))
		err = item.Ack()
		if err != nil {
			return false, errors.E(op, err)
		}
	}

	return false, nil
}

// Delay before the next attempt after the failed one: initial, doubled on each
// attempt, capped by max.
func (rh *RespHandler) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rh.initial
	b.MaxInterval = rh.max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}

	return d
}
