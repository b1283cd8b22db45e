package metrics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"ibtrading/logger"
)

func stubPublisher(t *testing.T, interval time.Duration, base time.Time) *[][]cwtypes.MetricDatum {
	t.Helper()
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}, namespace: "Test"})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = interval
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	timeNow = func() time.Time { return base }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })
	return &batches
}

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	base := time.Now()
	batches := stubPublisher(t, 50*time.Millisecond, base)

	metric := Metric{Component: "session", Name: "requests", Timestamp: base, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return base.Add(25 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if datum.MetricName == nil || *datum.MetricName != "requests" {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 1 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
}

func TestPublishMetricDatumAllowsAfterInterval(t *testing.T) {
	base := time.Now()
	batches := stubPublisher(t, 50*time.Millisecond, base)

	metric := Metric{Component: "session", Name: "requests", Timestamp: base}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return base.Add(75 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if len(*batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(*batches))
	}
	if v := (*batches)[1][0].Value; v == nil || *v != 2 {
		t.Fatalf("unexpected metric value: %v", v)
	}
}

func TestSeriesAreThrottledSeparately(t *testing.T) {
	base := time.Now()
	batches := stubPublisher(t, time.Minute, base)

	publishMetricDatum(Metric{Component: "session", Name: "request_completed", Fields: logger.Fields{"kind": "pnl"}}, 1)
	publishMetricDatum(Metric{Component: "session", Name: "request_completed", Fields: logger.Fields{"kind": "positions"}}, 1)

	if len(*batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(*batches))
	}
}

func TestDashboardBodyIsValidJSON(t *testing.T) {
	body, err := dashboardBody("IBTrading", "us-east-1")
	if err != nil {
		t.Fatalf("dashboardBody: %v", err)
	}
	if !json.Valid([]byte(body)) {
		t.Fatalf("invalid dashboard json: %s", body)
	}
}
