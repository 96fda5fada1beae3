package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordRequestAggregatesCountsAndErrors(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("Ping", 1*time.Millisecond, false)
	m.RecordRequest("Ping", 2*time.Millisecond, false)
	m.RecordRequest("Ping", 3*time.Millisecond, true)

	snap := m.Snapshot(0)
	require.Len(t, snap.Requests, 1)
	require.Equal(t, "Ping", snap.Requests[0].RequestType)
	require.EqualValues(t, 3, snap.Requests[0].TotalCount)
	require.EqualValues(t, 1, snap.Requests[0].ErrorCount)
	require.EqualValues(t, 2, snap.Requests[0].SuccessCount)
}

func TestMetrics_SlowRequestsAreRecorded(t *testing.T) {
	m := NewMetrics()
	m.slowThreshold = 5 * time.Millisecond
	m.RecordRequest("Search", 10*time.Millisecond, false)

	snap := m.Snapshot(0)
	require.EqualValues(t, 1, snap.TotalSlow)
	require.Len(t, snap.RecentSlow, 1)
	require.Equal(t, "Search", snap.RecentSlow[0].RequestType)
}

func TestMetrics_ConnectionCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordConnection()
	m.RecordConnection()
	m.RecordRejectedConnection()

	snap := m.Snapshot(1)
	require.EqualValues(t, 2, snap.TotalConns)
	require.EqualValues(t, 1, snap.RejectedConns)
	require.Equal(t, 1, snap.ActiveConns)
}

func TestMetrics_SnapshotSortsByRequestCountDescending(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("Timeline", 1*time.Millisecond, false)
	m.RecordRequest("Ping", 1*time.Millisecond, false)
	m.RecordRequest("Ping", 1*time.Millisecond, false)
	m.RecordRequest("Ping", 1*time.Millisecond, false)

	snap := m.Snapshot(0)
	require.Equal(t, "Ping", snap.Requests[0].RequestType)
}

func TestLatencyStats_ComputesPercentiles(t *testing.T) {
	samples := make([]time.Duration, 0, 100)
	for i := 1; i <= 100; i++ {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	stats := latencyStats(samples)
	require.InDelta(t, 1, stats.MinMS, 0.001)
	require.InDelta(t, 100, stats.MaxMS, 0.001)
	require.Greater(t, stats.P99MS, stats.P50MS)
}
