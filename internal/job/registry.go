package job

import (
	"errors"
	"sync"

	"mailsync/internal/worker"

	"go.uber.org/atomic"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already running")
)

// Job is one running synchronization
type Job struct {
	ID    string
	Tasks *worker.Queue

	cancelled atomic.Bool
}

// Cancelled reports whether a stop was requested. Once true it stays true.
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// Cancel sets the cancellation flag
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Registry maps job ids to running jobs
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Register adds a new job with a cleared flag and an empty queue
func (r *Registry) Register(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; ok {
		return nil, ErrJobExists
	}
	j := &Job{ID: id, Tasks: worker.NewQueue()}
	r.jobs[id] = j
	return j, nil
}

// Lookup returns the running job with the given id
func (r *Registry) Lookup(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	return j, ok
}

// Unregister removes the job. Only the exact job instance is removed, so a
// late cleanup cannot evict a newer job that reused the id.
func (r *Registry) Unregister(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.jobs[j.ID]; ok && cur == j {
		delete(r.jobs, j.ID)
	}
}

// Stop cancels the job and discards its unclaimed tasks. Tasks already
// claimed by a worker are not recalled. It returns the number of discarded
// tasks.
func (r *Registry) Stop(id string) (int, error) {
	j, ok := r.Lookup(id)
	if !ok {
		return 0, ErrJobNotFound
	}
	j.Cancel()
	return j.Tasks.Clear(), nil
}

// IDs returns the ids of every running job
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of running jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
