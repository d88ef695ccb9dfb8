package worker

import (
	"context"
	"fmt"
	"time"

	"mailsync/internal/events"
	"mailsync/internal/mailbox"
	"mailsync/internal/metrics"
	"mailsync/internal/retry"

	"go.uber.org/zap"
)

// Worker replicates tasks using its own source and destination sessions
type Worker struct {
	id      int
	config  Config
	dialer  mailbox.Dialer
	queue   *Queue
	cancel  Cancellation
	events  events.Sink
	retry   retry.Policy
	metrics *metrics.Collector
	logger  *zap.Logger

	src mailbox.Session
	dst mailbox.Session

	// srcFolder is the folder selected on src. dstFor is the source folder
	// the destination was last resolved for and dstFolder the folder that
	// was actually selected on dst (INBOX after a fallback).
	srcFolder string
	dstFor    string
	dstFolder string
}

// Run processes tasks until the queue stays empty for PopWait or the job is cancelled
func (w *Worker) Run(ctx context.Context) {
	defer w.close()

	if err := w.connect(ctx); err != nil {
		w.logger.Error("Worker setup failed", zap.Error(err))
		w.events.Emit(events.Error(fmt.Sprintf("Worker Error: %v", err)))
		return
	}

	w.metrics.WorkerStarted()
	defer w.metrics.WorkerStopped()
	w.logger.Info("Worker started")

	for {
		if w.cancel.Cancelled() {
			w.logger.Info("Worker stopped - job cancelled")
			return
		}

		task, ok := w.queue.Pop(ctx, w.config.PopWait)
		if !ok {
			w.logger.Info("Worker finished - no more tasks")
			return
		}

		if w.cancel.Cancelled() {
			w.logger.Info("Worker stopped - job cancelled", zap.Stringer("abandoned", task))
			return
		}

		if !w.process(ctx, task) {
			w.logger.Info("Worker stopped - job cancelled", zap.Stringer("abandoned", task))
			return
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	src, err := w.dialer.Dial(ctx, w.config.Source)
	if err != nil {
		return fmt.Errorf("source login failed: %w", err)
	}
	w.src = src

	if w.config.DryRun {
		return nil
	}

	dst, err := w.dialer.Dial(ctx, w.config.Target)
	if err != nil {
		return fmt.Errorf("destination login failed: %w", err)
	}
	w.dst = dst
	return nil
}

func (w *Worker) close() {
	if w.src != nil {
		if err := w.src.Logout(); err != nil {
			w.logger.Debug("Source logout failed", zap.Error(err))
		}
	}
	if w.dst != nil {
		if err := w.dst.Logout(); err != nil {
			w.logger.Debug("Destination logout failed", zap.Error(err))
		}
	}
}

// process replicates one task. It returns false when the task was abandoned
// because the job was cancelled.
func (w *Worker) process(ctx context.Context, task Task) (keepGoing bool) {
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.taskFailed(task, fmt.Sprintf("Err %s - %v", task, r), fmt.Errorf("panic: %v", r))
			keepGoing = true
		}
	}()

	if err := w.selectSource(ctx, task.Folder); err != nil {
		w.taskFailed(task, fmt.Sprintf("Err %s - %v", task, err), err)
		return true
	}

	if !w.config.DryRun {
		if err := w.selectTarget(ctx, task.Folder); err != nil {
			w.taskFailed(task, fmt.Sprintf("Err %s - %v", task, err), err)
			return true
		}
	}

	if w.cancel.Cancelled() {
		return false
	}

	msg, err := retry.DoWithData(ctx, w.retry, "fetch", func() (*mailbox.Message, error) {
		return w.src.Fetch(ctx, task.UID)
	})
	if err != nil {
		w.taskFailed(task, fmt.Sprintf("Fail fetch %s - %v", task, err), err)
		return true
	}

	if w.config.DryRun {
		w.metrics.IncSimulated()
		w.metrics.ObserveDuration(time.Since(startTime))
		w.events.Emit(events.Processed(fmt.Sprintf("[DRY] Would sync %s", task)))
		return true
	}

	if w.cancel.Cancelled() {
		return false
	}

	err = w.retry.Do(ctx, "append", func() error {
		return w.dst.Append(ctx, w.dstFolder, msg)
	})
	if err != nil {
		w.taskFailed(task, fmt.Sprintf("Err %s - %v", task, err), err)
		return true
	}

	size := int64(len(msg.Raw))
	w.metrics.IncSyncedWithBytes(size)
	w.metrics.ObserveDuration(time.Since(startTime))
	w.logger.Debug("Message synced",
		zap.String("folder", task.Folder),
		zap.Uint32("uid", task.UID),
		zap.String("target_folder", w.dstFolder),
		zap.Int64("size", size),
		zap.Duration("duration", time.Since(startTime)),
	)
	w.events.Emit(events.Processed(fmt.Sprintf("Synced %s", task)))
	return true
}

func (w *Worker) selectSource(ctx context.Context, folder string) error {
	if folder == w.srcFolder {
		return nil
	}

	err := w.retry.Do(ctx, "select", func() error {
		return w.src.Select(ctx, folder, true)
	})
	if err != nil {
		w.srcFolder = ""
		return fmt.Errorf("select %s: %w", folder, err)
	}
	w.srcFolder = folder
	return nil
}

// selectTarget opens the destination folder named like the source folder,
// creating it when missing and falling back to INBOX when that fails too.
func (w *Worker) selectTarget(ctx context.Context, folder string) error {
	if folder == w.dstFor {
		return nil
	}

	err := w.dst.Select(ctx, folder, false)
	if err != nil {
		if err = w.dst.Create(ctx, folder); err == nil {
			err = w.dst.Select(ctx, folder, false)
		}
	}
	if err == nil {
		w.dstFor, w.dstFolder = folder, folder
		return nil
	}

	w.logger.Warn("Destination folder unavailable, falling back to INBOX",
		zap.String("folder", folder),
		zap.Error(err),
	)
	if err := w.dst.Select(ctx, mailbox.DefaultFolder, false); err != nil {
		w.dstFor, w.dstFolder = "", ""
		return fmt.Errorf("select %s: %w", mailbox.DefaultFolder, err)
	}
	w.dstFor, w.dstFolder = folder, mailbox.DefaultFolder
	return nil
}

func (w *Worker) taskFailed(task Task, msg string, err error) {
	w.metrics.IncFailed()
	w.logger.Warn("Task failed",
		zap.String("folder", task.Folder),
		zap.Uint32("uid", task.UID),
		zap.Error(err),
	)
	w.events.Emit(events.Error(msg))
}
