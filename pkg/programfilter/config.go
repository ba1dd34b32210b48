package programfilter

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/blockdaemon/programfilter/pkg/programfilter/allowlist"
	"github.com/blockdaemon/programfilter/pkg/programfilter/metrics"
	"github.com/blockdaemon/programfilter/pkg/programfilter/pubkey"
)

// Configuration defaults
const (
	DefaultAllowlistTimeout          = allowlist.DefaultLoadTimeout
	DefaultRefreshCheckInterval      = time.Second
	DefaultDroppedProgramLogInterval = 5 * time.Minute

	// Stats server defaults
	DefaultStatsSocketFileMode = 0700
	DefaultStatsMaxConnections = 16

	// Prometheus defaults
	DefaultPrometheusEndpoint = "/metrics"
	DefaultPrometheusListenIP = "0.0.0.0"
	DefaultPrometheusPort     = "9810"

	// Statsd defaults
	DefaultStatsdAddress = "127.0.0.1:8200"
)

type Config struct {
	// ProgramIgnores are dropped while the allowlist is empty.
	ProgramIgnores []string

	// ProgramAllowlist seeds the allowlist. With ProgramAllowlistURL set it
	// is merged into the first fetch only.
	ProgramAllowlist []string

	// ProgramAllowlistURL is an http(s) or redis url serving one base-58
	// program id per entry. Empty disables remote refreshes.
	ProgramAllowlistURL string

	// Minimum time between remote refreshes; raised to one second if lower.
	ProgramAllowlistUpdateInterval time.Duration

	// Bounds a single fetch of ProgramAllowlistURL.
	ProgramAllowlistTimeout time.Duration

	// AllowlistLoader overrides the loader picked from the url scheme.
	AllowlistLoader allowlist.Loader

	// How often the refresher asks the allowlist whether a refresh is due.
	RefreshCheckInterval time.Duration

	// When set, every dropped program is logged at most once per
	// DroppedProgramLogInterval.
	LogDroppedPrograms        bool
	DroppedProgramLogInterval time.Duration

	// The stats server listens on a unix socket in StatsSocketDir, or on
	// StatsAddress (host:port) when no directory is given. It is disabled
	// when both are empty.
	StatsSocketDir      string
	StatsSocketFileMode os.FileMode
	StatsAddress        string
	StatsMaxConnections int
	Healthcheck         http.Handler // User defined http.Handler for requests to /healthcheck

	// Prometheus scrape endpoint. Only used when PrometheusPort is set.
	PrometheusEndpoint string
	PrometheusPort     string
	PrometheusListenIP string

	MetricsClient metrics.MetricsClientInterface
	Log           *log.Logger
}

func NewConfig() *Config {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})

	return &Config{
		ProgramAllowlistTimeout:   DefaultAllowlistTimeout,
		RefreshCheckInterval:      DefaultRefreshCheckInterval,
		DroppedProgramLogInterval: DefaultDroppedProgramLogInterval,
		StatsSocketFileMode:       os.FileMode(DefaultStatsSocketFileMode),
		StatsMaxConnections:       DefaultStatsMaxConnections,
		PrometheusEndpoint:        DefaultPrometheusEndpoint,
		PrometheusListenIP:        DefaultPrometheusListenIP,
		MetricsClient:             metrics.NewNoOpMetricsClient(),
		Log:                       logger,
	}
}

// SetProgramAllowlistUpdateIntervalSec sets the refresh interval from a
// whole number of seconds, the unit used by configuration files.
func (config *Config) SetProgramAllowlistUpdateIntervalSec(sec uint64) {
	config.ProgramAllowlistUpdateInterval = time.Duration(sec) * time.Second
}

func (config *Config) SetLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	config.Log.SetLevel(lvl)
	return nil
}

func (config *Config) SetupStatsdWithNamespace(addr, namespace string) error {
	if addr == "" {
		config.Log.Warn("no statsd addr provided, using noop client")
		config.MetricsClient = metrics.NewNoOpMetricsClient()
		return nil
	}

	mc, err := metrics.NewStatsdMetricsClient(addr, namespace)
	if err != nil {
		return err
	}
	config.MetricsClient = mc
	return nil
}

func (config *Config) SetupStatsd(addr string) error {
	return config.SetupStatsdWithNamespace(addr, DefaultStatsdNamespace)
}

// SetupPrometheus replaces the metrics client with one served for scraping on
// listenAddr:port at endpoint.
func (config *Config) SetupPrometheus(endpoint string, port string, listenAddr string) error {
	if endpoint == "" {
		endpoint = DefaultPrometheusEndpoint
	}
	if listenAddr == "" {
		listenAddr = DefaultPrometheusListenIP
	}

	metricsClient, err := metrics.NewPrometheusMetricsClient(endpoint, port, listenAddr)
	if err != nil {
		return err
	}
	config.MetricsClient = metricsClient
	return nil
}

// Check reports problems that would otherwise be silently ignored at run
// time, such as program ids that do not decode. A config with problems is
// still usable.
func (config *Config) Check() []error {
	var errs []error

	check := func(option string, programs []string) {
		for _, p := range programs {
			if _, err := pubkey.Parse(p); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", option, err))
			}
		}
	}
	check("program_ignores", config.ProgramIgnores)
	check("program_allowlist", config.ProgramAllowlist)

	if config.ProgramAllowlistURL != "" && config.AllowlistLoader == nil {
		loader, err := allowlist.LoaderForURL(config.ProgramAllowlistURL, config.ProgramAllowlistTimeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("program_allowlist_url: %w", err))
		} else if c, ok := loader.(io.Closer); ok {
			c.Close()
		}
	}
	if config.ProgramAllowlistURL != "" && config.ProgramAllowlistUpdateInterval < allowlist.MinUpdateInterval {
		errs = append(errs, fmt.Errorf("program_allowlist_update_interval_sec: %v is below the minimum, %v will be used",
			config.ProgramAllowlistUpdateInterval, allowlist.MinUpdateInterval))
	}
	if config.StatsSocketDir != "" && config.StatsAddress != "" {
		errs = append(errs, fmt.Errorf("stats_socket_dir and stats_address are mutually exclusive"))
	}

	return errs
}

func (config *Config) allowlistConfig() allowlist.Config {
	return allowlist.Config{
		Programs:       config.ProgramAllowlist,
		URL:            config.ProgramAllowlistURL,
		UpdateInterval: config.ProgramAllowlistUpdateInterval,
		Loader:         config.AllowlistLoader,
		LoadTimeout:    config.ProgramAllowlistTimeout,
		Log:            config.Log,
		MetricsClient:  config.MetricsClient,
	}
}
