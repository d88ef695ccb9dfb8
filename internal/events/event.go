package events

import "sync"

// Event is one progress or log entry of a sync job
type Event struct {
	Message  string `json:"message"`
	Progress *int   `json:"progress,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`

	// Increment marks a processed message; consumed by the orchestrator
	Increment bool `json:"-"`
}

// Info creates an informational event
func Info(msg string) Event {
	return Event{Message: msg}
}

// Error creates an error event
func Error(msg string) Event {
	return Event{Message: msg, IsError: true}
}

// Processed creates an event that counts one message towards progress
func Processed(msg string) Event {
	return Event{Message: msg, Increment: true}
}

// WithProgress returns a copy of e carrying the given percentage
func (e Event) WithProgress(percent int) Event {
	e.Progress = &percent
	return e
}

// Sink receives events
type Sink interface {
	Emit(e Event)
}

// Channel is an unbounded many-producer, single-consumer event buffer.
// Emit never blocks, so producers outliving the consumer cannot stall.
type Channel struct {
	mu     sync.Mutex
	buffer []Event
}

// NewChannel creates an empty event channel
func NewChannel() *Channel {
	return &Channel{}
}

// Emit appends an event
func (c *Channel) Emit(e Event) {
	c.mu.Lock()
	c.buffer = append(c.buffer, e)
	c.mu.Unlock()
}

// Drain removes and returns every buffered event in emission order
func (c *Channel) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	drained := c.buffer
	c.buffer = nil
	return drained
}

// Len returns the number of buffered events
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}
