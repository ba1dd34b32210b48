package metrics

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsClient mirrors StatsdMetricsClient but exposes the metrics
// on an HTTP endpoint for scraping. Vectors are created lazily the first time
// a metric is emitted, so every call site of a metric must use the same tag
// keys.
type PrometheusMetricsClient struct {
	endpoint    string
	registry    *prometheus.Registry
	metricsTags map[string]map[string]string
	mu          sync.RWMutex
	started     atomic.Value

	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	timings  map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient registers a fresh registry and serves it on
// listenAddr:port at endpoint. The listener is opened before returning so a
// bad address is reported to the caller.
func NewPrometheusMetricsClient(endpoint string, port string, listenAddr string) (*PrometheusMetricsClient, error) {
	mc := newPrometheusMetricsClient(endpoint)

	ln, err := net.Listen("tcp", net.JoinHostPort(listenAddr, port))
	if err != nil {
		return nil, fmt.Errorf("could not listen for prometheus scrapes: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(endpoint, mc.Handler())
	go http.Serve(ln, mux)

	return mc, nil
}

func newPrometheusMetricsClient(endpoint string) *PrometheusMetricsClient {
	metricsTags := make(map[string]map[string]string, len(metrics))
	for _, m := range metrics {
		metricsTags[sanitisePrometheusMetricName(m)] = map[string]string{}
	}

	return &PrometheusMetricsClient{
		endpoint:    endpoint,
		registry:    prometheus.NewRegistry(),
		metricsTags: metricsTags,
		counters:    map[string]*prometheus.CounterVec{},
		gauges:      map[string]*prometheus.GaugeVec{},
		timings:     map[string]*prometheus.HistogramVec{},
	}
}

// Handler serves the client's registry in the Prometheus exposition format.
func (mc *PrometheusMetricsClient) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

func (mc *PrometheusMetricsClient) AddMetricTags(
	metric string,
	additionalTags map[string]string) error {
	sanitisedMetric := sanitisePrometheusMetricName(metric)
	if mc.started.Load() != nil {
		return fmt.Errorf("cannot add metric tags after the filter has started")
	}
	if _, ok := mc.metricsTags[sanitisedMetric]; ok {
		for k, v := range additionalTags {
			mc.metricsTags[sanitisedMetric][k] = v
		}
		return nil
	}
	return fmt.Errorf("unknown metric: %s", metric)
}

func (mc *PrometheusMetricsClient) GetMetricTags(metric string) map[string]string {
	if tags, ok := mc.metricsTags[sanitisePrometheusMetricName(metric)]; ok {
		return tags
	}
	return nil
}

func (mc *PrometheusMetricsClient) Incr(metric string, rate float64) error {
	return mc.IncrWithTags(metric, map[string]string{}, rate)
}

func (mc *PrometheusMetricsClient) IncrWithTags(
	metric string,
	additionalTags map[string]string,
	_ float64) error {
	sanitisedMetric := sanitisePrometheusMetricName(metric)
	tags := mc.labels(sanitisedMetric, additionalTags)

	mc.mu.RLock()
	counter, ok := mc.counters[sanitisedMetric]
	mc.mu.RUnlock()

	if !ok {
		mc.mu.Lock()
		// double check just in case it was created between the RLock and Lock
		if counter, ok = mc.counters[sanitisedMetric]; !ok {
			counter = promauto.With(mc.registry).NewCounterVec(prometheus.CounterOpts{
				Name: sanitisedMetric,
			}, mapKeys(tags))
			mc.counters[sanitisedMetric] = counter
		}
		mc.mu.Unlock()
	}

	counter.With(tags).Inc()
	return nil
}

func (mc *PrometheusMetricsClient) Gauge(metric string, value float64, _ float64) error {
	sanitisedMetric := sanitisePrometheusMetricName(metric)
	tags := mc.labels(sanitisedMetric, nil)

	mc.mu.RLock()
	gauge, ok := mc.gauges[sanitisedMetric]
	mc.mu.RUnlock()

	if !ok {
		mc.mu.Lock()
		if gauge, ok = mc.gauges[sanitisedMetric]; !ok {
			gauge = promauto.With(mc.registry).NewGaugeVec(prometheus.GaugeOpts{
				Name: sanitisedMetric,
			}, mapKeys(tags))
			mc.gauges[sanitisedMetric] = gauge
		}
		mc.mu.Unlock()
	}

	gauge.With(tags).Set(value)
	return nil
}

func (mc *PrometheusMetricsClient) TimingWithTags(
	metric string,
	d time.Duration,
	additionalTags map[string]string,
	_ float64) error {
	timerMetric := sanitisePrometheusMetricName(metric) + "_timer"
	tags := mc.labels(sanitisePrometheusMetricName(metric), additionalTags)
	mc.observe(mc.timings, timerMetric, float64(d.Milliseconds()), tags)
	return nil
}

func (mc *PrometheusMetricsClient) SetStarted() {
	mc.started.Store(true)
}

// PrometheusMetricsClient implements MetricsClientInterface
var _ MetricsClientInterface = &PrometheusMetricsClient{}

func (mc *PrometheusMetricsClient) observe(
	vecs map[string]*prometheus.HistogramVec,
	name string,
	value float64,
	tags map[string]string) {
	mc.mu.RLock()
	histogram, ok := vecs[name]
	mc.mu.RUnlock()

	if !ok {
		mc.mu.Lock()
		if histogram, ok = vecs[name]; !ok {
			histogram = promauto.With(mc.registry).NewHistogramVec(prometheus.HistogramOpts{
				Name: name,
			}, mapKeys(tags))
			vecs[name] = histogram
		}
		mc.mu.Unlock()
	}

	histogram.With(tags).Observe(value)
}

// labels merges the persistent tags of metric into a copy of additionalTags.
func (mc *PrometheusMetricsClient) labels(metric string, additionalTags map[string]string) map[string]string {
	tags := make(map[string]string, len(additionalTags))
	mergeMaps(tags, additionalTags)
	mergeMaps(tags, mc.GetMetricTags(metric))
	return tags
}

func mapKeys[T ~string, U any](inputMap map[T]U) []T {
	keys := make([]T, 0, len(inputMap))
	for k := range inputMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func mergeMaps[T comparable, U any](leftMap map[T]U, rightMap map[T]U) {
	for k, v := range rightMap {
		leftMap[k] = v
	}
}

func sanitisePrometheusMetricName(metric string) string {
	return strings.ReplaceAll(metric, ".", "_")
}
