package pipeline

import (
	"context"
	"time"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// Kernel carries the process-wide collaborators and policy shared by definitions.
type Kernel struct {
	resolver Resolver
	enqueuer Enqueuer
	log      *zap.Logger

	// queuedByDefault is the policy of the freshly made definitions
	queuedByDefault bool
}

// NewKernel creates a kernel. enqueuer may be nil when no definition is queued.
func NewKernel(resolver Resolver, enqueuer Enqueuer, log *zap.Logger, queuedByDefault bool) *Kernel {
	if log == nil {
		log = zap.NewNop()
	}

	return &Kernel{
		resolver:        resolver,
		enqueuer:        enqueuer,
		log:             log,
		queuedByDefault: queuedByDefault,
	}
}

// Make creates a definition of the jobs with an identity Send and the default
// queue policy.
func (k *Kernel) Make(jobs ...Descriptor) *Definition {
	j := make([]Descriptor, len(jobs))
	copy(j, jobs)

	return &Definition{
		kernel: k,
		jobs:   j,
		send:   identity,
		queued: k.queuedByDefault,
	}
}

// Resolver used to run inline executables.
func (k *Kernel) Resolver() Resolver {
	return k.resolver
}

func (k *Kernel) dispatch(ctx context.Context, exe *Executable) error {
	const op = errors.Op("pipeline_dispatch")
	start := time.Now().UTC()

	if exe.Queued {
		if k.enqueuer == nil {
			return errors.E(op, errors.Str("pipeline should be queued, but no enqueuer is configured"))
		}

		err := k.enqueuer.Enqueue(ctx, exe)
		if err != nil {
			return errors.E(op, err)
		}

		k.log.Debug("pipeline was queued", zap.String("ID", exe.ID), zap.String("queue", exe.Routing.Queue), zap.String("connection", exe.Routing.Connection))
		return nil
	}

	outcome, err := exe.Run(ctx, k.resolver)
	if err != nil {
		k.log.Debug("pipeline failed", zap.String("ID", exe.ID), zap.Time("start", start), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		// the failure is returned as is to the event source
		return err
	}

	k.log.Debug("pipeline was executed", zap.String("ID", exe.ID), zap.Stringer("outcome", outcome), zap.Time("start", start), zap.Duration("elapsed", time.Since(start)))
	return nil
}
