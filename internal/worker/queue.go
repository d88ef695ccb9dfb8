package worker

import (
	"context"
	"sync"
	"time"
)

// Queue is a FIFO of tasks shared by the orchestrator and the pool.
// Push, Pop and Clear are safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	tasks []Task
	ready chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends tasks
func (q *Queue) Push(tasks ...Task) {
	if len(tasks) == 0 {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, tasks...)
	q.mu.Unlock()
	q.signal()
}

// Pop claims the oldest task, waiting at most wait for one to arrive.
// It reports false when the wait expires or ctx is done.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (Task, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if task, ok := q.tryPop(); ok {
			return task, true
		}

		select {
		case <-q.ready:
		case <-timer.C:
			return q.tryPop()
		case <-ctx.Done():
			return Task{}, false
		}
	}
}

func (q *Queue) tryPop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}
	task := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	if len(q.tasks) > 0 {
		q.signal()
	}
	return task, true
}

// Clear discards every unclaimed task and returns how many were dropped
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tasks)
	q.tasks = nil
	return n
}

// Len returns the number of unclaimed tasks
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
