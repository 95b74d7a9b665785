package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/domain"
)

func TestRecordRunStateIsOneHot(t *testing.T) {
	RecordRunState(domain.RunPaused)
	require.Equal(t, 1.0, testutil.ToFloat64(runStateGauge.WithLabelValues(string(domain.RunPaused))))
	require.Equal(t, 0.0, testutil.ToFloat64(runStateGauge.WithLabelValues(string(domain.RunRunning))))

	RecordRunState(domain.RunRunning)
	require.Equal(t, 0.0, testutil.ToFloat64(runStateGauge.WithLabelValues(string(domain.RunPaused))))
	require.Equal(t, 1.0, testutil.ToFloat64(runStateGauge.WithLabelValues(string(domain.RunRunning))))
}

func TestRecordReachabilityAndCompletion(t *testing.T) {
	RecordReachability(true)
	require.Equal(t, 1.0, testutil.ToFloat64(reachableGauge))
	RecordReachability(false)
	require.Equal(t, 0.0, testutil.ToFloat64(reachableGauge))

	ts := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	RecordActivityCompleted(ts)
	RecordActivityCompleted(time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(completedGauge))
}
