package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 2 * time.Second
)

// Classifier reports whether an error is worth retrying
type Classifier func(error) bool

// Policy re-executes an operation on transient faults with a fixed delay
// between attempts. Faults the classifier rejects are returned on first
// occurrence.
type Policy struct {
	Attempts    int
	Delay       time.Duration
	IsTransient Classifier
	Logger      *zap.Logger
}

// New creates a policy, falling back to the defaults for non-positive values
func New(attempts int, delay time.Duration, classify Classifier, logger *zap.Logger) Policy {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Policy{
		Attempts:    attempts,
		Delay:       delay,
		IsTransient: classify,
		Logger:      logger,
	}
}

// Do runs op until it succeeds, fails permanently or runs out of attempts
func (p Policy) Do(ctx context.Context, name string, op func() error) error {
	_, err := DoWithData(ctx, p, name, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// DoWithData is Do for operations that return a value
func DoWithData[T any](ctx context.Context, p Policy, name string, op func() (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && (p.IsTransient == nil || !p.IsTransient(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, next time.Duration) {
		if p.Logger == nil {
			return
		}
		p.Logger.Warn("Transient fault, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.RetryNotifyWithData(wrapped, b, notify)
}
