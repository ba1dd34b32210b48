package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockMetricsClient is a no-op StatsdMetricsClient that counts metric
// updates, for use in tests.
type MockMetricsClient struct {
	StatsdMetricsClient

	counts map[string]uint64
	values map[string][]float64
	mu     sync.Mutex
}

// NewMockMetricsClient returns a MockMetricsClient wrapping a no-op client.
func NewMockMetricsClient() *MockMetricsClient {
	return &MockMetricsClient{
		StatsdMetricsClient: *NewNoOpMetricsClient(),
		counts:              make(map[string]uint64),
		values:              make(map[string][]float64),
	}
}

// record counts one update of metric, and of metric qualified by its tags
// when there are any. Call with m.mu held.
func (m *MockMetricsClient) record(metric string, tags map[string]string, value *float64) {
	names := []string{metric}
	if len(tags) > 0 {
		names = append(names, fmt.Sprintf("%s %v", metric, constructTagArray(tags)))
	}
	for _, name := range names {
		m.counts[name]++
		if value != nil {
			m.values[name] = append(m.values[name], *value)
		}
	}
}

func mockKey(metric string, tags []string) string {
	if len(tags) == 0 {
		return metric
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s %v", metric, sorted)
}

// GetCount returns how many times metric was updated. Tags are given in
// "key:value" form; without tags the count covers every emission of the
// metric regardless of its tags.
func (m *MockMetricsClient) GetCount(metric string, tags ...string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mName := mockKey(metric, tags)
	i, ok := m.counts[mName]
	if !ok {
		keys := make([]string, 0, len(m.counts))
		for k := range m.counts {
			keys = append(keys, k)
		}
		return 0, fmt.Errorf("unknown metric %s (know %s)", mName, strings.Join(keys, ","))
	}
	return i, nil
}

// GetValues returns the values recorded for a gauge or histogram metric.
func (m *MockMetricsClient) GetValues(metric string, tags ...string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mName := mockKey(metric, tags)
	v, ok := m.values[mName]
	if !ok {
		return nil, fmt.Errorf("no values recorded for metric %s", mName)
	}
	return append([]float64(nil), v...), nil
}

func (m *MockMetricsClient) Incr(metric string, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(metric, nil, nil)

	return m.StatsdMetricsClient.Incr(metric, rate)
}

func (m *MockMetricsClient) IncrWithTags(metric string, tags map[string]string, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(metric, tags, nil)

	return m.StatsdMetricsClient.IncrWithTags(metric, tags, rate)
}

func (m *MockMetricsClient) Gauge(metric string, value float64, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(metric, nil, &value)

	return m.StatsdMetricsClient.Gauge(metric, value, rate)
}

func (m *MockMetricsClient) TimingWithTags(metric string, d time.Duration, tags map[string]string, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := float64(d.Milliseconds())
	m.record(metric, tags, &ms)

	return m.StatsdMetricsClient.TimingWithTags(metric, d, tags, rate)
}

var _ MetricsClientInterface = &MockMetricsClient{}
