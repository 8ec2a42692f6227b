// Package event is the event dispatch collaborator: listeners are registered per
// event name and receive the event arguments positionally.
package event

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Listener receives the arguments of the fired event.
type Listener func(ctx context.Context, args ...any) error

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	log       *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		listeners: make(map[string][]Listener),
		log:       log,
	}
}

// Listen registers the listener for the event. Listeners of one event are called in
// the order of registration.
func (d *Dispatcher) Listen(name string, l Listener) {
	d.mu.Lock()
	d.listeners[name] = append(d.listeners[name], l)
	d.mu.Unlock()
}

// Forget removes every listener of the event.
func (d *Dispatcher) Forget(name string) {
	d.mu.Lock()
	delete(d.listeners, name)
	d.mu.Unlock()
}

func (d *Dispatcher) HasListeners(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name]) > 0
}

// Events returns the sorted names of the events with listeners.
func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.listeners))
	for name := range d.listeners {
		out = append(out, name)
	}
	d.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Dispatch calls the listeners of the event one by one. The first error stops the
// dispatch and is returned unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args ...any) error {
	d.mu.RLock()
	ls := make([]Listener, len(d.listeners[name]))
	copy(ls, d.listeners[name])
	d.mu.RUnlock()

	if len(ls) == 0 {
		d.log.Debug("no listeners for the event", zap.String("event", name))
		return nil
	}

	start := time.Now().UTC()
	for i := range ls {
		err := ls[i](ctx, args...)
		if err != nil {
			d.log.Error("event listener failed", zap.String("event", name), zap.Int("listener", i), zap.Error(err))
			return err
		}
	}

	d.log.Debug("event was dispatched", zap.String("event", name), zap.Int("listeners", len(ls)), zap.Time("start", start), zap.Duration("elapsed", time.Since(start)))
	return nil
}
