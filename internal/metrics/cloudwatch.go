package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"ibtrading/config"
	"ibtrading/logger"
)

type cloudWatchState struct {
	client        *cloudwatch.Client
	namespace     string
	dashboardName string
	region        string
}

var cwState atomic.Pointer[cloudWatchState]

var (
	// cloudWatchPublishInterval is the minimum gap between two publishes of
	// the same metric series.
	cloudWatchPublishInterval = 10 * time.Second
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	publishTimesMu sync.Mutex
	publishTimes   = make(map[string]time.Time)
)

func init() {
	cwState.Store(&cloudWatchState{
		namespace:     "IBTrading",
		dashboardName: "IBTrading",
	})
}

// InitCloudWatch creates the CloudWatch client. Failures are logged and
// leave publishing disabled.
func InitCloudWatch(ctx context.Context, cfg config.CloudWatchConfig) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := *cwState.Load()
	state.client = cloudwatch.NewFromConfig(awsCfg)
	if cfg.Namespace != "" {
		state.namespace = cfg.Namespace
	}
	if cfg.Dashboard != "" {
		state.dashboardName = cfg.Dashboard
	}
	state.region = awsCfg.Region
	if state.region == "" {
		state.region = region
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")

	if err := PutDashboard(ctx); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

// EmitMetric logs the metric locally and publishes it to CloudWatch when configured.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	if !Enabled() {
		return
	}
	event, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}

	numericValue, ok := toFloat64(event.Value)
	if !ok {
		logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": event.Name}).Debug("non-numeric metric value; skipping publish")
		return
	}
	publishMetricDatum(event, numericValue)
}

func dashboardBody(namespace, region string) (string, error) {
	widget := func(title string, metrics [][]string) map[string]interface{} {
		return map[string]interface{}{
			"type":   "metric",
			"width":  12,
			"height": 6,
			"properties": map[string]interface{}{
				"metrics": metrics,
				"period":  60,
				"stat":    "Sum",
				"region":  region,
				"title":   title,
			},
		}
	}
	body := map[string]interface{}{
		"widgets": []interface{}{
			widget("Request outcomes", [][]string{
				{namespace, "request_completed", "component", "session"},
				{namespace, "request_empty", "component", "session"},
				{namespace, "request_timed_out", "component", "session"},
			}),
			widget("Gateway errors", [][]string{
				{namespace, "gateway_error", "component", "session"},
				{namespace, "pacing_violation", "component", "pacing"},
			}),
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode dashboard: %w", err)
	}
	return string(data), nil
}

// PutDashboard creates or replaces the session dashboard.
func PutDashboard(ctx context.Context) error {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return nil
	}
	body, err := dashboardBody(state.namespace, state.region)
	if err != nil {
		return err
	}
	_, err = state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	return err
}

func seriesKey(m Metric) string {
	var b strings.Builder
	b.WriteString(m.Component)
	b.WriteByte('|')
	b.WriteString(m.Name)
	for _, k := range []string{"kind", "code"} {
		if v, ok := m.Fields[k]; ok {
			fmt.Fprintf(&b, "|%s=%v", k, v)
		}
	}
	return b.String()
}

func allowPublish(key string, at time.Time) bool {
	publishTimesMu.Lock()
	defer publishTimesMu.Unlock()
	if last, ok := publishTimes[key]; ok && at.Sub(last) < cloudWatchPublishInterval {
		return false
	}
	publishTimes[key] = at
	return true
}

func resetMetricPublishTimes() {
	publishTimesMu.Lock()
	publishTimes = make(map[string]time.Time)
	publishTimesMu.Unlock()
}

func publishMetricDatum(m Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}
	if !allowPublish(seriesKey(m), timeNow()) {
		return
	}

	unit := cwtypes.StandardUnitCount
	if rawUnit, ok := m.Fields["unit"].(string); ok {
		if parsed, found := metricUnitFromString(rawUnit); found {
			unit = parsed
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	data := []cwtypes.MetricDatum{{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(m.Timestamp),
	}}
	publishMetricsFunc(context.Background(), state, data)
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if len(data) == 0 {
		return
	}
	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}
	logger.GetLogger().WithComponent("cloudwatch").WithField("metric", aws.ToString(data[0].MetricName)).Debug("published metrics to CloudWatch")
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case time.Duration:
		return float64(v) / float64(time.Millisecond), true
	default:
		return 0, false
	}
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "milliseconds", "ms":
		return cwtypes.StandardUnitMilliseconds, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
