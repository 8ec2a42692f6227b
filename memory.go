package jobpipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

const memoryDriver string = "memory"

// memoryConstructor creates in-process drivers. Items are inserted right into the
// plugin priority queue, delayed items wait on a timer.
type memoryConstructor struct {
	log *zap.Logger
}

func (m *memoryConstructor) Name() string {
	return memoryDriver
}

func (m *memoryConstructor) DriverFromConfig(connection string, _ *ConnectionConfig, queue Queue) (Driver, error) {
	if queue == nil {
		return nil, errors.E(errors.Op("memory_driver_from_config"), errors.Str("queue should not be nil"))
	}

	return &memory{
		connection: connection,
		log:        m.log,
		queue:      queue,
		timers:     make(map[*time.Timer]struct{}),
	}, nil
}

type memory struct {
	connection string
	log        *zap.Logger
	queue      Queue

	mu     sync.Mutex
	timers map[*time.Timer]struct{}

	pushed    int64
	delayed   int64
	processed int64
	requeued  int64
	dead      int64

	stopped atomic.Bool
}

func (m *memory) Push(_ context.Context, item *Item) error {
	const op = errors.Op("memory_driver_push")
	if m.stopped.Load() {
		return errors.E(op, errors.Errorf("connection was stopped: %s", m.connection))
	}

	atomic.AddInt64(&m.pushed, 1)
	item.drv = m

	if item.Options != nil && item.Options.Delay > 0 {
		m.schedule(item, item.Options.DelayDuration())
		return nil
	}

	m.queue.Insert(item)
	return nil
}

func (m *memory) Ack(_ *Item) error {
	atomic.AddInt64(&m.processed, 1)
	return nil
}

func (m *memory) Nack(item *Item) error {
	atomic.AddInt64(&m.dead, 1)
	m.log.Warn("pipeline was dropped", zap.String("ID", item.ID()), zap.String("connection", m.connection), zap.Int("attempt", item.Attempt()))
	return nil
}

func (m *memory) Requeue(item *Item, delay time.Duration) error {
	const op = errors.Op("memory_driver_requeue")
	if m.stopped.Load() {
		return errors.E(op, errors.Errorf("connection was stopped: %s", m.connection))
	}

	atomic.AddInt64(&m.requeued, 1)
	if item.Options == nil {
		item.Options = &Options{Attempt: 1}
	}
	item.Options.Attempt++

	if delay > 0 {
		m.schedule(item, delay)
		return nil
	}

	m.queue.Insert(item)
	return nil
}

func (m *memory) State(_ context.Context) (*State, error) {
	return &State{
		Connection: m.connection,
		Driver:     memoryDriver,
		Pushed:     atomic.LoadInt64(&m.pushed),
		Delayed:    atomic.LoadInt64(&m.delayed),
		Processed:  atomic.LoadInt64(&m.processed),
		Requeued:   atomic.LoadInt64(&m.requeued),
		Dead:       atomic.LoadInt64(&m.dead),
	}, nil
}

// Stop drops the delayed items.
func (m *memory) Stop(_ context.Context) error {
	m.stopped.Store(true)

	m.mu.Lock()
	for t := range m.timers {
		if t.Stop() {
			atomic.AddInt64(&m.delayed, -1)
		}
		delete(m.timers, t)
	}
	m.mu.Unlock()

	m.log.Debug("memory driver was stopped", zap.String("connection", m.connection))
	return nil
}

func (m *memory) schedule(item *Item, delay time.Duration) {
	atomic.AddInt64(&m.delayed, 1)

	m.mu.Lock()
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, t)
		m.mu.Unlock()

		atomic.AddInt64(&m.delayed, -1)
		if m.stopped.Load() {
			return
		}
		m.queue.Insert(item)
	})
	m.timers[t] = struct{}{}
	m.mu.Unlock()
}
