package metrics

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/DataDog/datadog-go/statsd"
)

// StatsdMetricsClient wraps statsd.ClientInterface so persistent tags can be
// attached to individual programfilter metrics.
//
// Emitting metrics is safe for concurrent use. AddMetricTags is not, and must
// only be called while the filter is being configured.
type StatsdMetricsClient struct {
	metricsTags  map[string][]string
	statsdClient statsd.ClientInterface
	started      atomic.Value
}

// NewStatsdMetricsClient creates a StatsdMetricsClient sending to addr with
// every metric name prefixed by namespace.
func NewStatsdMetricsClient(addr, namespace string) (*StatsdMetricsClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("statsd address must not be empty")
	}

	c, err := statsd.New(addr)
	if err != nil {
		return nil, err
	}
	c.Namespace = namespace

	return &StatsdMetricsClient{
		metricsTags:  newTagIndex(),
		statsdClient: c,
	}, nil
}

// NewNoOpMetricsClient returns a StatsdMetricsClient backed by a no-op statsd
// client, for deployments without a metrics sink.
func NewNoOpMetricsClient() *StatsdMetricsClient {
	return &StatsdMetricsClient{
		metricsTags:  newTagIndex(),
		statsdClient: &statsd.NoOpClient{},
	}
}

func newTagIndex() map[string][]string {
	metricsTags := make(map[string][]string, len(metrics))
	for _, m := range metrics {
		metricsTags[m] = []string{}
	}
	return metricsTags
}

// AddMetricTags attaches additionalTags to every future emission of metric.
// The metric must be one of the known programfilter metrics, and tags can
// only be added before SetStarted is called.
func (mc *StatsdMetricsClient) AddMetricTags(
	metric string,
	additionalTags map[string]string) error {
	if mc.started.Load() != nil {
		return fmt.Errorf("cannot add metric tags after the filter has started")
	}
	if baseTags, ok := mc.metricsTags[metric]; ok {
		mc.metricsTags[metric] = append(baseTags, constructTagArray(additionalTags)...)
		return nil
	}
	return fmt.Errorf("unknown metric: %s", metric)
}

// GetMetricTags returns the persistent tags attached to metric.
func (mc *StatsdMetricsClient) GetMetricTags(metric string) []string {
	if tags, ok := mc.metricsTags[metric]; ok {
		return tags
	}
	return nil
}

func (mc *StatsdMetricsClient) Incr(metric string, rate float64) error {
	return mc.statsdClient.Incr(metric, mc.GetMetricTags(metric), rate)
}

func (mc *StatsdMetricsClient) IncrWithTags(
	metric string,
	additionalTags map[string]string,
	rate float64) error {
	return mc.statsdClient.Incr(metric, mc.combineTags(metric, additionalTags), rate)
}

func (mc *StatsdMetricsClient) Gauge(metric string, value float64, rate float64) error {
	return mc.statsdClient.Gauge(metric, value, mc.GetMetricTags(metric), rate)
}

func (mc *StatsdMetricsClient) TimingWithTags(
	metric string,
	d time.Duration,
	additionalTags map[string]string,
	rate float64) error {
	return mc.statsdClient.Timing(metric, d, mc.combineTags(metric, additionalTags), rate)
}

func (mc *StatsdMetricsClient) StatsdClient() statsd.ClientInterface {
	return mc.statsdClient
}

func (mc *StatsdMetricsClient) SetStarted() {
	mc.started.Store(true)
}

// combineTags returns a fresh slice so the persistent tag slice is never
// appended to concurrently.
func (mc *StatsdMetricsClient) combineTags(metric string, additionalTags map[string]string) []string {
	baseTags := mc.GetMetricTags(metric)
	combined := make([]string, 0, len(additionalTags)+len(baseTags))
	combined = append(combined, constructTagArray(additionalTags)...)
	return append(combined, baseTags...)
}

// StatsdMetricsClient implements MetricsClientInterface
var _ MetricsClientInterface = &StatsdMetricsClient{}

func constructTagArray(tags map[string]string) []string {
	tagArray := make([]string, 0, len(tags))
	for k, v := range tags {
		tagArray = append(tagArray, fmt.Sprintf("%s:%s", k, v))
	}
	sort.Strings(tagArray)
	return tagArray
}
