package programfilter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/net/netutil"

	"github.com/blockdaemon/programfilter/pkg/programfilter/pubkey"
)

type StatsServer struct {
	config     *Config
	filter     *Filter
	ln         net.Listener
	mux        *http.ServeMux
	server     *http.Server
	socketPath string
}

type allowlistStatus struct {
	URL             string     `json:"url"`
	Size            int        `json:"size"`
	UpdateInterval  string     `json:"update_interval"`
	LastUpdated     *time.Time `json:"last_updated,omitempty"`
	Due             bool       `json:"due"`
	IgnoredPrograms int        `json:"ignored_programs"`
}

type decisionResponse struct {
	Program string `json:"program"`
	Result  string `json:"result"`
	Mode    string `json:"mode"`
	Reason  string `json:"reason"`
}

func NewStatsServer(config *Config, filter *Filter) *StatsServer {
	s := &StatsServer{
		config: config,
		filter: filter,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("/", s.stats)
	s.mux.HandleFunc("/decide", s.decide)
	s.server = &http.Server{
		Handler: HealthcheckMiddleware{
			App:         s.mux,
			Healthcheck: config.Healthcheck,
		},
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Listen opens the unix socket in StatsSocketDir, or the tcp StatsAddress
// when no directory is configured.
func (s *StatsServer) Listen() error {
	var (
		ln  net.Listener
		err error
	)
	if s.config.StatsSocketDir != "" {
		s.socketPath = filepath.Join(s.config.StatsSocketDir, fmt.Sprintf("programfilter-%d.sock", os.Getpid()))
		ln, err = net.Listen("unix", s.socketPath)
		if err != nil {
			return fmt.Errorf("could not start the stats server: %w", err)
		}
		if err := os.Chmod(s.socketPath, s.config.StatsSocketFileMode); err != nil {
			ln.Close()
			return fmt.Errorf("could not chmod %s: %w", s.socketPath, err)
		}
	} else {
		ln, err = net.Listen("tcp", s.config.StatsAddress)
		if err != nil {
			return fmt.Errorf("could not start the stats server: %w", err)
		}
	}

	if s.config.StatsMaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.StatsMaxConnections)
	}
	s.ln = ln
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *StatsServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve blocks until Shutdown is called.
func (s *StatsServer) Serve() error {
	if s.ln == nil {
		return errors.New("stats server is not listening")
	}
	s.config.Log.WithField("addr", s.ln.Addr().String()).Info("stats server listening")
	if err := s.server.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StatsServer) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if s.socketPath != "" {
		os.Remove(s.socketPath)
	}
	return err
}

func (s *StatsServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.server.Handler.ServeHTTP(w, req)
}

func (s *StatsServer) stats(rw http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(rw, req)
		return
	}

	a := s.filter.Allowlist()
	status := allowlistStatus{
		URL:             a.URL(),
		Size:            a.Len(),
		UpdateInterval:  a.UpdateInterval().String(),
		Due:             a.DueForRefresh(),
		IgnoredPrograms: s.filter.IgnoredPrograms(),
	}
	if last := a.LastUpdated(); !last.IsZero() {
		status.LastUpdated = &last
	}
	s.writeJSON(rw, http.StatusOK, status)
}

func (s *StatsServer) decide(rw http.ResponseWriter, req *http.Request) {
	program, err := pubkey.Parse(req.URL.Query().Get("program"))
	if err != nil {
		s.writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	d := s.filter.Explain(program[:])
	s.writeJSON(rw, http.StatusOK, decisionResponse{
		Program: program.String(),
		Result:  d.Result.String(),
		Mode:    d.Mode.String(),
		Reason:  d.Reason,
	})
}

func (s *StatsServer) writeJSON(rw http.ResponseWriter, code int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		s.config.Log.WithError(err).Error("could not write stats response")
	}
}
