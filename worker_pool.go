package jobpipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// processor initializes the drivers of the connections in parallel.
type processor struct {
	wg         sync.WaitGroup
	mu         sync.Mutex
	drivers    *sync.Map
	log        *zap.Logger
	queueCh    chan *pjob
	maxWorkers int
	errs       []error
	stopped    atomic.Bool
}

type pjob struct {
	dc         Constructor
	connection string
	cfg        *ConnectionConfig
	queue      Queue
}

// args:
// log - logger
// drivers - sync.Map with all drivers (name - connection name)
// maxWorkers - number of parallel workers which will initialize the drivers
func newDriversProc(log *zap.Logger, drivers *sync.Map, maxWorkers int) *processor {
	p := &processor{
		log:        log,
		queueCh:    make(chan *pjob, 100),
		maxWorkers: maxWorkers,
		drivers:    drivers,
		errs:       make([]error, 0, 1),
	}

	// start the processor
	p.run()

	return p
}

func (p *processor) run() {
	for range p.maxWorkers {
		go func() {
			for job := range p.queueCh {
				p.log.Debug("initializing driver", zap.String("connection", job.connection), zap.String("driver", job.cfg.Driver))
				t := time.Now().UTC()
				initializedDriver, err := job.dc.DriverFromConfig(job.connection, job.cfg, job.queue)
				if err != nil {
					p.mu.Lock()
					p.errs = append(p.errs, err)
					p.mu.Unlock()
					p.wg.Done()
					p.log.Error("failed to initialize driver",
						zap.String("connection", job.connection),
						zap.String("driver", job.cfg.Driver),
						zap.Error(err))
					continue
				}

				p.drivers.Store(job.connection, initializedDriver)

				p.log.Debug("driver ready", zap.String("connection", job.connection), zap.String("driver", job.cfg.Driver), zap.Time("start", t), zap.Int64("elapsed", time.Since(t).Milliseconds()))
				p.wg.Done()
			}

			p.log.Debug("exited from the drivers processor")
		}()
	}
}

func (p *processor) add(pjob *pjob) {
	if p.stopped.Load() {
		p.log.Warn("processor was stopped, can't add a new driver")
		return
	}
	p.wg.Add(1)
	p.queueCh <- pjob
}

func (p *processor) errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	errs := make([]error, len(p.errs))
	copy(errs, p.errs)
	// clear the original errors
	p.errs = make([]error, 0, 1)
	return errs
}

func (p *processor) wait() {
	p.wg.Wait()
}

func (p *processor) stop() {
	p.stopped.Store(true)
	close(p.queueCh)
}
