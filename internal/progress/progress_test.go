package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"mailsync/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerPercentIsFloorAndMonotonic(t *testing.T) {
	for _, total := range []int{1, 3, 7, 99, 100, 101, 1000} {
		tr := NewTracker()
		tr.SetTotal(total)

		prev := 0
		for k := 1; k <= total; k++ {
			p := tr.Increment()
			require.Equal(t, k*100/total, p, "total=%d k=%d", total, k)
			require.GreaterOrEqual(t, p, prev)
			prev = p
		}
		assert.Equal(t, 100, prev)
	}
}

func TestTrackerThirds(t *testing.T) {
	tr := NewTracker()
	tr.SetTotal(3)
	assert.Equal(t, 33, tr.Increment())
	assert.Equal(t, 66, tr.Increment())
	assert.Equal(t, 100, tr.Increment())
}

func TestTrackerStatus(t *testing.T) {
	tr := NewTracker()
	start := tr.GetStatus().StartTime
	tr.now = func() time.Time { return start.Add(2 * time.Second) }
	tr.SetTotal(4)
	tr.Increment()
	tr.Increment()
	tr.AddFailed()

	s := tr.GetStatus()
	assert.Equal(t, 2, s.Processed)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 1.0, s.Rate, 0.001)
	assert.Equal(t, 2*time.Second, s.ETA)
	assert.Equal(t, 50, tr.Percent())
}

func TestTrackerZeroTotal(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, 0, tr.Percent())
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "1h2m3s", FormatDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "-", FormatDuration(0))
	assert.Equal(t, "2.5 msg/s", FormatRate(2.5))
	assert.Equal(t, "30.0 msg/min", FormatRate(0.5))
}

func TestDisplayRun(t *testing.T) {
	stream := make(chan events.Event, 4)
	stream <- events.Info("Starting process...").WithProgress(0)
	stream <- events.Error("Fail fetch INBOX:42 - not found")
	stream <- events.Info("Synced INBOX:1").WithProgress(50)
	stream <- events.Info("Sync completed!").WithProgress(100)
	close(stream)

	var out bytes.Buffer
	summary := NewDisplay(&out, true).Run(stream)

	assert.Equal(t, 4, summary.Events)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 100, summary.LastProgress)
	assert.Equal(t, "Sync completed!", summary.LastMessage)

	text := out.String()
	assert.True(t, strings.Contains(text, "ERROR Fail fetch INBOX:42"))
	assert.True(t, strings.Contains(text, " 50% Synced INBOX:1"))
	assert.True(t, strings.Contains(text, "Result:   Sync completed!"))
}
