package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyMetrics_RecordAndSample(t *testing.T) {
	var lm LatencyMetrics

	for i := 1; i <= 10; i++ {
		lm.Record(time.Duration(i) * time.Millisecond)
	}

	count := lm.Sample()
	require.Equal(t, 10, count)
	assert.Greater(t, lm.P50, time.Duration(0))
	assert.Equal(t, 10*time.Millisecond, lm.Max)

	snap := lm.snapshot()
	assert.Equal(t, lm.P50, snap.P50)
	assert.Equal(t, lm.Max, snap.Max)
}

func TestQueueMetrics_UpdatePendingAndTasks(t *testing.T) {
	var qm QueueMetrics

	qm.UpdatePending(3)
	qm.UpdatePending(7)
	assert.Equal(t, 7, qm.PendingCurrent)
	assert.Equal(t, 7, qm.PendingMax)

	qm.UpdateTasks(1)
	qm.UpdateTasks(2)
	assert.Equal(t, 2, qm.TasksCurrent)
	assert.Equal(t, 2, qm.TasksMax)

	snap := qm.snapshot()
	assert.Equal(t, qm.PendingCurrent, snap.PendingCurrent)
	assert.Equal(t, qm.TasksMax, snap.TasksMax)
}

func TestTPSCounter_IncrementAndTPS(t *testing.T) {
	counter := NewTPSCounter(time.Second, 100*time.Millisecond)

	for i := 0; i < 5; i++ {
		counter.Increment()
	}

	assert.Greater(t, counter.TPS(), 0.0)
}

func TestNewTPSCounter_PanicsOnInvalidDurations(t *testing.T) {
	assert.Panics(t, func() { NewTPSCounter(0, time.Second) })
	assert.Panics(t, func() { NewTPSCounter(time.Second, 0) })
	assert.Panics(t, func() { NewTPSCounter(time.Second, 2*time.Second) })
}

func TestLoop_MetricsDisabledReturnsZeroValue(t *testing.T) {
	loop := newTestLoop(t)
	assert.Equal(t, Metrics{}, loop.Metrics())
}

func TestLoop_MetricsEnabledTracksQueueDepth(t *testing.T) {
	loop, err := NewLoop(WithLoopMetrics(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })

	h := NewHandle(loop, 21, EventRead)
	require.NoError(t, loop.AddHandle(h))
	loop.applyPendingUpdates()

	m := loop.Metrics()
	assert.GreaterOrEqual(t, m.Queue.PendingMax, 1)
}
