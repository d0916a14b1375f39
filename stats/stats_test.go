package stats_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/wirebench/stats"
)

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	const workers, perWorker = 32, 2000

	a := stats.New()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				a.Inc(stats.Errors)
				a.Sent(3)
				a.RecordLatency(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	s := a.Snapshot()
	assert.Equal(t, int64(workers*perWorker), s.Int(stats.Errors))
	assert.Equal(t, int64(workers*perWorker), s.Int(stats.PacketsSent))
	assert.Equal(t, int64(3*workers*perWorker), s.Int(stats.BytesSent))
	assert.Equal(t, int64(workers*perWorker), s.Int(stats.ResponseCount))
}

func TestLatencyAggregates(t *testing.T) {
	a := stats.New()

	s := a.Snapshot()
	assert.Zero(t, s.Get(stats.MinResponseTime), "min must be normalised when empty")
	assert.Zero(t, s.Get(stats.AvgResponseTime))
	assert.Zero(t, s.Get(stats.P95ResponseTime))

	for _, ms := range []int{10, 20, 30, 40} {
		a.RecordLatency(time.Duration(ms) * time.Millisecond)
	}
	s = a.Snapshot()
	assert.InDelta(t, 25.0, s.Get(stats.AvgResponseTime), 1e-9)
	assert.InDelta(t, 10.0, s.Get(stats.MinResponseTime), 1e-9)
	assert.InDelta(t, 40.0, s.Get(stats.MaxResponseTime), 1e-9)
	assert.InDelta(t, 100.0, s.Get(stats.TotalResponseTime), 1e-9)
	assert.InDelta(t, 20.0, s.Get(stats.P50ResponseTime), 1e-9)
	assert.InDelta(t, 40.0, s.Get(stats.P95ResponseTime), 1e-9)
}

func TestResetRestoresSentinel(t *testing.T) {
	a := stats.New(stats.SuccessfulConnections)
	a.RecordLatency(5 * time.Millisecond)
	a.Add(stats.SuccessfulConnections, 4)
	a.Reset()

	s := a.Snapshot()
	require.Contains(t, s, stats.SuccessfulConnections)
	assert.Zero(t, s.Get(stats.SuccessfulConnections))
	assert.Zero(t, s.Get(stats.MinResponseTime))

	a.RecordLatency(7 * time.Millisecond)
	assert.InDelta(t, 7.0, a.Snapshot().Get(stats.MinResponseTime), 1e-9)
}

func TestSnapshotIsACopy(t *testing.T) {
	a := stats.New()
	s := a.Snapshot()
	s[stats.PacketsSent] = 99
	assert.Zero(t, a.Snapshot().Get(stats.PacketsSent))

	a.Set(stats.ClientsConnected, 3)
	a.Set(stats.ClientsConnected, 2)
	assert.Equal(t, int64(2), a.Snapshot().Int(stats.ClientsConnected))
	assert.Contains(t, a.Snapshot().Keys(), stats.ClientsConnected)
}

func TestWindowIsBounded(t *testing.T) {
	a := stats.New()
	for i := 0; i < stats.DefaultWindow; i++ {
		a.RecordLatency(1000 * time.Millisecond)
	}
	for i := 0; i < stats.DefaultWindow; i++ {
		a.RecordLatency(time.Millisecond)
	}
	s := a.Snapshot()
	assert.InDelta(t, 1.0, s.Get(stats.P95ResponseTime), 1e-9, "old samples must have left the window")
	assert.InDelta(t, 1000.0, s.Get(stats.MaxResponseTime), 1e-9)
}
