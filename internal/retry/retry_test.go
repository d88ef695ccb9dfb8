package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	errTransient = errors.New("socket reset")
	errFatal     = errors.New("mailbox does not exist")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestPolicyDo(t *testing.T) {
	t.Run("succeeds after transient faults", func(t *testing.T) {
		p := New(3, time.Millisecond, isTransient, zap.NewNop())
		calls := 0
		err := p.Do(context.Background(), "select", func() error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last transient fault on exhaustion", func(t *testing.T) {
		p := New(3, time.Millisecond, isTransient, nil)
		calls := 0
		err := p.Do(context.Background(), "fetch", func() error {
			calls++
			return errTransient
		})
		require.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-transient fault is not retried", func(t *testing.T) {
		p := New(3, time.Hour, isTransient, nil)
		calls := 0
		start := time.Now()
		err := p.Do(context.Background(), "append", func() error {
			calls++
			return errFatal
		})
		require.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, calls)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("waits the fixed delay between attempts", func(t *testing.T) {
		p := New(2, 50*time.Millisecond, isTransient, nil)
		start := time.Now()
		_ = p.Do(context.Background(), "fetch", func() error { return errTransient })
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("cancelled context stops the wait", func(t *testing.T) {
		p := New(3, time.Hour, isTransient, nil)
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		err := p.Do(ctx, "fetch", func() error {
			calls++
			return errTransient
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestDoWithData(t *testing.T) {
	p := New(0, 0, isTransient, nil)
	require.Equal(t, DefaultAttempts, p.Attempts)

	calls := 0
	v, err := DoWithData(context.Background(), p, "search", func() ([]uint32, error) {
		calls++
		if calls == 1 {
			return nil, errTransient
		}
		return []uint32{1, 2, 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, v)
	assert.Equal(t, 2, calls)
}
