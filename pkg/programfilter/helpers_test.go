package programfilter

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/blockdaemon/programfilter/pkg/programfilter/metrics"
	"github.com/blockdaemon/programfilter/pkg/programfilter/pubkey"
)

const (
	sysvarProgram   = "Sysvar1111111111111111111111111111111111111"
	voteProgram     = "Vote111111111111111111111111111111111111111"
	serumProgram    = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	wormholeProgram = "WormT3McKhFJ2RkiGpdw9GKvNCrB2aB54gb2uV9MfQC"
	systemProgram   = "11111111111111111111111111111111"
)

func key(s string) []byte {
	return pubkey.MustParse(s).Bytes()
}

// testConfig returns a config with a mock metrics client and a logger whose
// entries are captured by the returned hook.
func testConfig() (*Config, *metrics.MockMetricsClient, *logrustest.Hook) {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	mc := metrics.NewMockMetricsClient()

	config := NewConfig()
	config.Log = logger
	config.MetricsClient = mc
	return config, mc, hook
}

// listServer serves a plain-text allowlist that tests can change.
type listServer struct {
	*httptest.Server

	mu     sync.Mutex
	status int
	body   string
}

func newListServer(t *testing.T, body string) *listServer {
	s := &listServer{status: http.StatusOK, body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, body := s.status, s.body
		s.mu.Unlock()

		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *listServer) set(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

// safeBuffer is a bytes.Buffer that may be read while Run writes to it.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
