package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mailsync/internal/config"
	"mailsync/internal/events"
	"mailsync/internal/job"
	"mailsync/internal/mailbox"
	"mailsync/internal/metrics"
	"mailsync/internal/progress"
	"mailsync/internal/retry"
	"mailsync/internal/worker"

	"go.uber.org/zap"
)

// Syncer runs sync jobs and streams their events
type Syncer struct {
	engine   config.Engine
	dialer   mailbox.Dialer
	registry *job.Registry
	metrics  *metrics.Collector
	logger   *zap.Logger

	running sync.WaitGroup
}

// New creates a new syncer instance
func New(cfg *config.Config, dialer mailbox.Dialer, registry *job.Registry, metricsCollector *metrics.Collector, logger *zap.Logger) *Syncer {
	return &Syncer{
		engine:   cfg.Engine,
		dialer:   dialer,
		registry: registry,
		metrics:  metricsCollector,
		logger:   logger,
	}
}

// Registry returns the job registry stop requests go through
func (s *Syncer) Registry() *job.Registry {
	return s.registry
}

// Start registers the job and runs it in the background. The returned
// stream ends with exactly one terminal event and is then closed. Cancelling
// ctx cancels the job as a stop request would.
func (s *Syncer) Start(ctx context.Context, req Request) (<-chan events.Event, error) {
	if req.JobID == "" {
		return nil, fmt.Errorf("job id is required")
	}

	j, err := s.registry.Register(req.JobID)
	if err != nil {
		return nil, err
	}

	out := make(chan events.Event)
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.run(ctx, j, req, out)
	}()
	return out, nil
}

// Running reports whether a job with the given id is registered
func (s *Syncer) Running(jobID string) bool {
	_, ok := s.registry.Lookup(jobID)
	return ok
}

// Stop cancels a running job and discards its queued tasks
func (s *Syncer) Stop(jobID string) error {
	dropped, err := s.registry.Stop(jobID)
	if err != nil {
		return err
	}
	s.logger.Info("Stop signal received, queue cleared",
		zap.String("sync_id", jobID),
		zap.Int("discarded_tasks", dropped),
	)
	return nil
}

// Shutdown stops every running job and waits for them to finish
func (s *Syncer) Shutdown(ctx context.Context) error {
	for _, id := range s.registry.IDs() {
		_ = s.Stop(id)
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TestConnection logs in and out of an account
func (s *Syncer) TestConnection(ctx context.Context, cfg mailbox.Config) error {
	session, err := s.dialer.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	return session.Logout()
}

func (s *Syncer) retryPolicy(logger *zap.Logger) retry.Policy {
	return retry.New(s.engine.RetryAttempts, s.engine.RetryDelay(), mailbox.IsTransient, logger)
}

// jobRun holds the state of one job execution
type jobRun struct {
	job     *job.Job
	req     Request
	out     chan<- events.Event
	ctx     context.Context
	logger  *zap.Logger
	tracker *progress.Tracker
	result  string
}

// emit delivers an event to the consumer. A consumer that went away
// cancels the job.
func (r *jobRun) emit(e events.Event) {
	select {
	case r.out <- e:
	case <-r.ctx.Done():
		r.job.Cancel()
	}
}

func (r *jobRun) terminal(e events.Event, result string) {
	r.result = result
	r.emit(e)
}

func (s *Syncer) run(ctx context.Context, j *job.Job, req Request, out chan events.Event) {
	r := &jobRun{
		job:     j,
		req:     req,
		out:     out,
		ctx:     ctx,
		logger:  s.logger.With(zap.String("sync_id", j.ID)),
		tracker: progress.NewTracker(),
		result:  metrics.ResultFailed,
	}

	workCtx, cancelWork := context.WithCancel(context.Background())
	var pool *worker.Pool

	s.metrics.JobStarted()
	defer close(out)
	defer func() {
		cancelWork()
		if pool != nil {
			pool.Wait()
		}
	}()
	defer s.registry.Unregister(j)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Sync job panicked", zap.Any("panic", rec))
			r.terminal(events.Error(fmt.Sprintf("Critical Error: %v", rec)), metrics.ResultFailed)
		}
		s.metrics.JobFinished(r.result)

		status := r.tracker.GetStatus()
		r.logger.Info("Sync job finished",
			zap.String("result", r.result),
			zap.Int("total", status.Total),
			zap.Int("processed", status.Processed),
			zap.Int("failed", status.Failed),
			zap.Int("percent", r.tracker.Percent()),
			zap.String("rate", progress.FormatRate(status.Rate)),
		)
	}()

	r.logger.Info("Starting sync job",
		zap.String("source", req.Source.Addr()),
		zap.String("target", req.Target.Addr()),
		zap.Int("concurrency", req.Concurrency),
		zap.Bool("dry_run", req.Options.DryRun),
		zap.Time("since", req.Options.Since),
		zap.Strings("exclude_folders", req.Options.ExcludeFolders),
	)

	r.emit(events.Info("Starting process...").WithProgress(0))
	r.emit(events.Info("Connecting to source..."))

	src, err := s.dialer.Dial(ctx, req.Source)
	if err != nil {
		r.logger.Error("Source connection failed", zap.Error(err))
		r.terminal(events.Error(fmt.Sprintf("Critical Error: %v", err)), metrics.ResultFailed)
		return
	}
	srcOpen := true
	defer func() {
		if srcOpen {
			_ = src.Logout()
		}
	}()

	lister := &FolderLister{
		session: src,
		retry:   s.retryPolicy(r.logger),
		logger:  r.logger,
	}
	total, ok := lister.Enumerate(ctx, req.Options, j.Tasks, j.Cancelled, r.emit)
	if !ok || j.Cancelled() {
		j.Tasks.Clear()
		r.terminal(events.Error("Stopped by user."), metrics.ResultCancelled)
		return
	}

	r.tracker.SetTotal(total)

	if total == 0 {
		r.terminal(events.Info("No emails found matching criteria.").WithProgress(100), metrics.ResultEmpty)
		return
	}

	workers := ClampConcurrency(req.Concurrency, s.engine.MaxWorkers)
	r.emit(events.Info(fmt.Sprintf("Total %d emails. Starting %d workers...", total, workers)))

	channel := events.NewChannel()
	pool = worker.NewPool(workers, worker.Config{
		Source:  req.Source,
		Target:  req.Target,
		DryRun:  req.Options.DryRun,
		PopWait: s.engine.PopWait(),
	}, s.dialer, s.retryPolicy(r.logger), s.metrics, r.logger)
	pool.Start(workCtx, j.Tasks, j, channel)
	r.logger.Info("Workers started", zap.Int("workers", pool.Size()), zap.Int("tasks", total))

	srcOpen = false
	if err := src.Logout(); err != nil {
		r.logger.Debug("Enumeration session logout failed", zap.Error(err))
	}

	if !s.monitor(r, pool, channel) {
		r.terminal(events.Error("Stopped by user."), metrics.ResultCancelled)
		return
	}

	if left := j.Tasks.Len(); left > 0 {
		r.terminal(events.Error(fmt.Sprintf("Sync aborted: %d emails were not processed.", left)), metrics.ResultFailed)
		return
	}
	r.terminal(events.Info("Sync completed!").WithProgress(100), metrics.ResultCompleted)
}

// monitor forwards worker events until every worker has exited and the
// channel is empty. It returns false as soon as cancellation is observed.
func (s *Syncer) monitor(r *jobRun, pool *worker.Pool, channel *events.Channel) bool {
	ticker := time.NewTicker(s.engine.PollInterval())
	defer ticker.Stop()

	for pool.Alive() > 0 || channel.Len() > 0 {
		if r.ctx.Err() != nil {
			r.job.Cancel()
		}
		if r.job.Cancelled() {
			return false
		}

		for _, e := range channel.Drain() {
			if e.Increment {
				r.emit(events.Info(e.Message).WithProgress(r.tracker.Increment()))
				continue
			}
			if e.IsError {
				r.tracker.AddFailed()
			}
			r.emit(e)
		}

		<-ticker.C
	}

	return !r.job.Cancelled()
}
