package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current job status
type Status struct {
	Total          int
	Processed      int
	Failed         int
	StartTime      time.Time
	LastUpdateTime time.Time
	Rate           float64 // messages/second since start
	ETA            time.Duration
}

// Tracker tracks job progress. The percentage is always recomputed from the
// processed count so successive values never drift or decrease.
type Tracker struct {
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			StartTime:      now,
			LastUpdateTime: now,
		},
		now: time.Now,
	}
}

// SetTotal sets the number of tasks
func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Total = total
}

// Increment counts one processed task and returns the new percentage
func (t *Tracker) Increment() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Processed++
	t.update()
	return t.percent()
}

// AddFailed counts a failed task. Failures do not advance the percentage.
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Failed++
}

// update recalculates rate and ETA (must be called with lock held)
func (t *Tracker) update() {
	now := t.now()
	t.status.LastUpdateTime = now

	elapsed := now.Sub(t.status.StartTime)
	if elapsed <= 0 {
		return
	}
	t.status.Rate = float64(t.status.Processed) / elapsed.Seconds()

	remaining := t.status.Total - t.status.Processed
	if remaining <= 0 || t.status.Rate == 0 {
		t.status.ETA = 0
		return
	}
	t.status.ETA = time.Duration(float64(remaining) / t.status.Rate * float64(time.Second))
}

// Percent returns floor(processed / total * 100)
func (t *Tracker) Percent() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.percent()
}

func (t *Tracker) percent() int {
	if t.status.Total <= 0 {
		return 0
	}
	p := t.status.Processed * 100 / t.status.Total
	if p > 100 {
		p = 100
	}
	return p
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// FormatRate formats a message rate in human readable format
func FormatRate(perSecond float64) string {
	if perSecond < 1 {
		return fmt.Sprintf("%.1f msg/min", perSecond*60)
	}
	return fmt.Sprintf("%.1f msg/s", perSecond)
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	} else if bytes < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	} else if bytes < 1024*1024*1024 {
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	} else {
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
	}
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}
