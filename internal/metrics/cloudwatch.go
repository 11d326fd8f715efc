package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"depthwatch/config"
	"depthwatch/logger"
)

type cloudWatchState struct {
	client    *cloudwatch.Client
	namespace string
	region    string
}

var (
	cwState atomic.Pointer[cloudWatchState]

	// cloudWatchPublishInterval is the minimum spacing between two datums of
	// the same metric series.
	cloudWatchPublishInterval = 10 * time.Second
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	metricPublishMu    sync.Mutex
	metricPublishTimes = make(map[string]time.Time)
)

// InitCloudWatch creates the CloudWatch client. When it is disabled in cfg
// nothing is published and EmitMetric only logs and dispatches.
func InitCloudWatch(ctx context.Context, cfg config.CloudWatchConfig) error {
	if !cfg.Enabled {
		return nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load aws configuration: %w", err)
	}

	state := &cloudWatchState{
		client:    cloudwatch.NewFromConfig(awsCfg),
		namespace: cfg.Namespace,
		region:    awsCfg.Region,
	}
	cwState.Store(state)

	logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")
	return nil
}

// EmitMetric logs the metric, dispatches it to handlers and publishes numeric
// values to CloudWatch when configured.
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	metric, ok := recordMetric(log, component, name, value, metricType, fields)
	if !ok {
		return
	}

	numeric, ok := toFloat64(metric.Value)
	if !ok {
		return
	}
	publishMetricDatum(metric, numeric)
}

func publishMetricDatum(metric Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(metric.Component)}}
	for k, v := range metric.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	if !allowPublish(seriesKey(metric.Name, dims)) {
		return
	}

	unit := cwtypes.StandardUnitNone
	if raw, ok := metric.Fields["unit"].(string); ok {
		unit = metricUnitFromString(raw)
	}

	publishMetricsFunc(context.Background(), state, []cwtypes.MetricDatum{{
		MetricName: aws.String(metric.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(metric.Timestamp),
	}})
}

func allowPublish(key string) bool {
	now := timeNow()

	metricPublishMu.Lock()
	defer metricPublishMu.Unlock()

	if last, ok := metricPublishTimes[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		return false
	}
	metricPublishTimes[key] = now
	return true
}

func resetMetricPublishTimes() {
	metricPublishMu.Lock()
	metricPublishTimes = make(map[string]time.Time)
	metricPublishMu.Unlock()
}

func seriesKey(name string, dims []cwtypes.Dimension) string {
	parts := make([]string, 0, len(dims)+1)
	parts = append(parts, name)
	for _, d := range dims {
		parts = append(parts, aws.ToString(d.Name)+"="+aws.ToString(d.Value))
	}
	return strings.Join(parts, "|")
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func metricUnitFromString(unit string) cwtypes.StandardUnit {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount
	case "percent":
		return cwtypes.StandardUnitPercent
	case "seconds":
		return cwtypes.StandardUnitSeconds
	default:
		return cwtypes.StandardUnitNone
	}
}
