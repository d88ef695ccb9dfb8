package app

import (
	"context"
	"fmt"
	"time"

	"mailsync/internal/events"
	"mailsync/internal/mailbox"
	"mailsync/internal/retry"
	"mailsync/internal/worker"

	"go.uber.org/zap"
)

// FolderLister enumerates source folders and messages
type FolderLister struct {
	session mailbox.Session
	retry   retry.Policy
	logger  *zap.Logger
}

// ListFolders returns the folders left after exclusion, in listing order.
// A failed LIST falls back to INBOX alone.
func (l *FolderLister) ListFolders(ctx context.Context, exclude []string) []mailbox.Folder {
	lines, err := retry.DoWithData(ctx, l.retry, "list", func() ([]string, error) {
		return l.session.List(ctx)
	})
	if err != nil {
		l.logger.Warn("Failed to list folders, falling back to INBOX", zap.Error(err))
		return []mailbox.Folder{{Name: mailbox.DefaultFolder}}
	}

	parsed := mailbox.ParseList(lines)
	if dropped := len(lines) - len(parsed); dropped > 0 {
		l.logger.Debug("Dropped unparseable LIST lines", zap.Int("dropped", dropped))
	}

	folders := make([]mailbox.Folder, 0, len(parsed))
	for _, f := range parsed {
		if f.Excluded(exclude) {
			l.logger.Debug("Folder excluded", zap.String("folder", f.Name))
			continue
		}
		folders = append(folders, f)
	}
	return folders
}

// EnqueueFolder selects the folder read-only, searches it and pushes one
// task per matching message. It returns the number of tasks enqueued.
func (l *FolderLister) EnqueueFolder(ctx context.Context, folder string, since time.Time, queue *worker.Queue) (int, error) {
	err := l.retry.Do(ctx, "select", func() error {
		return l.session.Select(ctx, folder, true)
	})
	if err != nil {
		return 0, fmt.Errorf("not selectable: %w", err)
	}

	uids, err := retry.DoWithData(ctx, l.retry, "search", func() ([]uint32, error) {
		return l.session.Search(ctx, since)
	})
	if err != nil {
		return 0, fmt.Errorf("search failed: %w", err)
	}

	tasks := make([]worker.Task, 0, len(uids))
	for _, uid := range uids {
		tasks = append(tasks, worker.Task{Folder: folder, UID: uid})
	}
	queue.Push(tasks...)

	l.logger.Debug("Enqueued folder", zap.String("folder", folder), zap.Int("messages", len(tasks)))
	return len(tasks), nil
}

// Enumerate fills the queue from every eligible folder. A folder that
// cannot be selected or searched is skipped with a warning event. It stops
// early, reporting false, when cancelled returns true.
func (l *FolderLister) Enumerate(ctx context.Context, opts Options, queue *worker.Queue, cancelled func() bool, emit func(events.Event)) (int, bool) {
	total := 0
	for _, f := range l.ListFolders(ctx, opts.ExcludeFolders) {
		if cancelled() {
			return total, false
		}

		n, err := l.EnqueueFolder(ctx, f.Name, opts.Since, queue)
		if err != nil {
			l.logger.Warn("Skipping folder", zap.String("folder", f.Name), zap.Error(err))
			emit(events.Error(fmt.Sprintf("Skip folder %s: %v", f.Name, err)))
			continue
		}
		if n > 0 {
			emit(events.Info(fmt.Sprintf("Folder %s: Found %d emails.", f.Name, n)))
		}
		total += n
	}
	return total, !cancelled()
}
