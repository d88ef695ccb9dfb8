package worker

import (
	"context"
	"sync"

	"mailsync/internal/events"
	"mailsync/internal/mailbox"
	"mailsync/internal/metrics"
	"mailsync/internal/retry"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Pool manages a fixed-size set of workers sharing one queue and one event sink
type Pool struct {
	size    int
	config  Config
	dialer  mailbox.Dialer
	retry   retry.Policy
	metrics *metrics.Collector
	logger  *zap.Logger

	wg    sync.WaitGroup
	alive atomic.Int32
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	config Config,
	dialer mailbox.Dialer,
	policy retry.Policy,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:    size,
		config:  config,
		dialer:  dialer,
		retry:   policy,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Start starts the workers
func (p *Pool) Start(ctx context.Context, queue *Queue, cancel Cancellation, sink events.Sink) {
	for i := 0; i < p.size; i++ {
		w := &Worker{
			id:      i,
			config:  p.config,
			dialer:  p.dialer,
			queue:   queue,
			cancel:  cancel,
			events:  sink,
			retry:   p.retry,
			metrics: p.metrics,
			logger:  p.logger.With(zap.Int("worker_id", i)),
		}

		p.wg.Add(1)
		p.alive.Inc()
		go func() {
			defer p.wg.Done()
			defer p.alive.Dec()
			w.Run(ctx)
		}()
	}
}

// Alive returns the number of workers that have not exited
func (p *Pool) Alive() int {
	return int(p.alive.Load())
}

// Size returns the number of workers the pool starts
func (p *Pool) Size() int {
	return p.size
}

// Wait blocks until every worker has released its sessions
func (p *Pool) Wait() {
	p.wg.Wait()
}
