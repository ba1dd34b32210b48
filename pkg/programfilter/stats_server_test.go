package programfilter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStatsServer(t *testing.T, configure func(*Config)) *StatsServer {
	config, _, _ := testConfig()
	configure(config)

	filter, err := New(context.Background(), config)
	require.NoError(t, err)
	return NewStatsServer(config, filter)
}

func TestStatsEndpoint(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	server := newListServer(t, sysvarProgram+"\n"+voteProgram)
	stats := newTestStatsServer(t, func(c *Config) {
		c.ProgramIgnores = []string{serumProgram}
		c.ProgramAllowlistURL = server.URL
		c.ProgramAllowlistUpdateInterval = time.Minute
	})

	rec := httptest.NewRecorder()
	stats.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	r.Equal(http.StatusOK, rec.Code)
	a.Equal("application/json", rec.Header().Get("Content-Type"))

	var status allowlistStatus
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &status))
	a.Equal(server.URL, status.URL)
	a.Equal(2, status.Size)
	a.Equal("1m0s", status.UpdateInterval)
	a.False(status.Due)
	a.Equal(1, status.IgnoredPrograms)
	r.NotNil(status.LastUpdated)
	a.WithinDuration(time.Now(), *status.LastUpdated, time.Minute)

	rec = httptest.NewRecorder()
	stats.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	a.Equal(http.StatusNotFound, rec.Code)
}

func TestDecideEndpoint(t *testing.T) {
	stats := newTestStatsServer(t, func(c *Config) {
		c.ProgramAllowlist = []string{voteProgram}
	})

	testCases := map[string]struct {
		query      string
		expectCode int
		expect     decisionResponse
	}{
		"allowed": {
			query:      "program=" + voteProgram,
			expectCode: http.StatusOK,
			expect: decisionResponse{
				Program: voteProgram,
				Result:  "Forward",
				Mode:    "allowlist",
				Reason:  ReasonInAllowlist,
			},
		},
		"not allowed": {
			query:      "program=" + serumProgram,
			expectCode: http.StatusOK,
			expect: decisionResponse{
				Program: serumProgram,
				Result:  "Drop",
				Mode:    "allowlist",
				Reason:  ReasonNotInAllowlist,
			},
		},
		"bad base58": {
			query:      "program=0OIl",
			expectCode: http.StatusBadRequest,
		},
		"missing": {
			expectCode: http.StatusBadRequest,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			a := assert.New(t)

			rec := httptest.NewRecorder()
			stats.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/decide?"+tc.query, nil))
			a.Equal(tc.expectCode, rec.Code)
			if tc.expectCode != http.StatusOK {
				a.Contains(rec.Body.String(), "error")
				return
			}

			var got decisionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			a.Equal(tc.expect, got)
		})
	}
}

func TestStatsServerHealthcheck(t *testing.T) {
	stats := newTestStatsServer(t, func(c *Config) {
		c.Healthcheck = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	})

	rec := httptest.NewRecorder()
	stats.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsServerUnixSocket(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	dir, err := os.MkdirTemp("", "pf")
	r.NoError(err)
	defer os.RemoveAll(dir)

	stats := newTestStatsServer(t, func(c *Config) {
		c.StatsSocketDir = dir
	})
	r.NoError(stats.Listen())

	socketPath := filepath.Join(dir, fmt.Sprintf("programfilter-%d.sock", os.Getpid()))
	info, err := os.Stat(socketPath)
	r.NoError(err)
	a.Equal(os.FileMode(DefaultStatsSocketFileMode), info.Mode().Perm())

	served := make(chan error, 1)
	go func() { served <- stats.Serve() }()

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
		},
	}}
	resp, err := client.Get("http://stats/healthcheck")
	r.NoError(err)
	resp.Body.Close()
	a.Equal(http.StatusOK, resp.StatusCode)

	r.NoError(stats.Shutdown(context.Background()))
	a.NoError(<-served)
	_, err = os.Stat(socketPath)
	a.True(os.IsNotExist(err))
}

func TestStatsServerTCP(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	stats := newTestStatsServer(t, func(c *Config) {
		c.StatsAddress = "127.0.0.1:0"
		c.StatsMaxConnections = 1
	})
	r.Nil(stats.Addr())
	r.NoError(stats.Listen())

	served := make(chan error, 1)
	go func() { served <- stats.Serve() }()

	resp, err := http.Get("http://" + stats.Addr().String() + "/")
	r.NoError(err)
	resp.Body.Close()
	a.Equal(http.StatusOK, resp.StatusCode)

	r.NoError(stats.Shutdown(context.Background()))
	a.NoError(<-served)
}

func TestStatsServerServeBeforeListen(t *testing.T) {
	stats := newTestStatsServer(t, func(c *Config) {})
	assert.Error(t, stats.Serve())
}
