package worker

import (
	"fmt"
	"time"

	"mailsync/internal/mailbox"
)

// Task represents one message to replicate
type Task struct {
	Folder string `json:"folder"`
	UID    uint32 `json:"uid"`
}

func (t Task) String() string {
	return fmt.Sprintf("%s:%d", t.Folder, t.UID)
}

// Config contains worker configuration
type Config struct {
	Source  mailbox.Config
	Target  mailbox.Config
	DryRun  bool
	PopWait time.Duration
}

// Cancellation is the job-wide stop flag observed by workers
type Cancellation interface {
	Cancelled() bool
}
