package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/roundsync/go/internal/events"
)

func TestMetricPublisher_RecordsOutcome(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	pub := NewMetricPublisher(&flakyPublisher{failFirst: 1}, metrics)

	event := OutboxEvent{ID: uuid.New(), RoomID: "R1", EventType: events.RoundCompleted}
	assert.Error(t, pub.Publish(context.Background(), event))
	require.NoError(t, pub.Publish(context.Background(), event))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventCounter.WithLabelValues(events.RoundCompleted, "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventCounter.WithLabelValues(events.RoundCompleted, "success")))
}

func TestListener_RecordsPublishAttempts(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	l := &Listener{
		publisher: &flakyPublisher{failFirst: 1},
		cfg:       ListenerConfig{MaxRetries: 2, RetryDelay: time.Millisecond},
		metrics:   NoOpMetricsCollector{},
	}
	l.SetMetrics(metrics)

	event := OutboxEvent{ID: uuid.New(), RoomID: "R1", EventType: events.RoundStarted}
	require.NoError(t, l.publishWithRetry(context.Background(), event))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.publishAttempts.WithLabelValues(events.RoundStarted, "1", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.publishAttempts.WithLabelValues(events.RoundStarted, "2", "success")))
}

func TestHealthChecker_ReportsLag(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	checker := NewHealthChecker(stubStats{running: true, last: time.Now()}, stubPinger{}, stubCounter{n: 7}, stubConn{up: true}, time.Minute)
	checker.SetMetrics(metrics)

	checker.Check(context.Background())
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.outboxLag))
}
