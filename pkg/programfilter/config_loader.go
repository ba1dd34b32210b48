package programfilter

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type yamlConfigPrometheus struct {
	Endpoint string `yaml:"endpoint"`
	Port     string `yaml:"port"`
	ListenIP string `yaml:"listen_ip"`
}

// Pointer fields distinguish unset from an explicit zero, so a zero in the
// file does not silently replace a non-zero default.
type yamlConfig struct {
	ProgramIgnores                    []string      `yaml:"program_ignores"`
	ProgramAllowlist                  []string      `yaml:"program_allowlist"`
	ProgramAllowlistURL               string        `yaml:"program_allowlist_url"`
	ProgramAllowlistUpdateIntervalSec uint64        `yaml:"program_allowlist_update_interval_sec"`
	ProgramAllowlistTimeout           time.Duration `yaml:"program_allowlist_timeout"`
	RefreshCheckInterval              time.Duration `yaml:"refresh_check_interval"`

	LogLevel                  string         `yaml:"log_level"`
	LogDroppedPrograms        bool           `yaml:"log_dropped_programs"`
	DroppedProgramLogInterval *time.Duration `yaml:"dropped_program_log_interval"`

	StatsdAddress   string                `yaml:"statsd_address"`
	StatsdNamespace string                `yaml:"statsd_namespace"`
	Prometheus      *yamlConfigPrometheus `yaml:"prometheus"`

	StatsSocketDir      string `yaml:"stats_socket_dir"`
	StatsSocketFileMode string `yaml:"stats_socket_file_mode"`
	StatsAddress        string `yaml:"stats_address"`
	StatsMaxConnections *int   `yaml:"stats_max_connections"`
	// Currently not configurable via YAML: AllowlistLoader, Healthcheck, Log, MetricsClient
}

func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var yc yamlConfig
	*c = *NewConfig()

	err := unmarshal(&yc)
	if err != nil {
		return err
	}

	c.ProgramIgnores = yc.ProgramIgnores
	c.ProgramAllowlist = yc.ProgramAllowlist
	c.ProgramAllowlistURL = yc.ProgramAllowlistURL
	c.SetProgramAllowlistUpdateIntervalSec(yc.ProgramAllowlistUpdateIntervalSec)

	if yc.ProgramAllowlistTimeout > 0 {
		c.ProgramAllowlistTimeout = yc.ProgramAllowlistTimeout
	}
	if yc.RefreshCheckInterval > 0 {
		c.RefreshCheckInterval = yc.RefreshCheckInterval
	}

	if err := c.SetLogLevel(yc.LogLevel); err != nil {
		return err
	}
	c.LogDroppedPrograms = yc.LogDroppedPrograms
	if yc.DroppedProgramLogInterval != nil {
		if *yc.DroppedProgramLogInterval <= 0 {
			return errors.New("dropped_program_log_interval must be positive")
		}
		c.DroppedProgramLogInterval = *yc.DroppedProgramLogInterval
	}

	if yc.StatsdAddress != "" && yc.Prometheus != nil {
		return errors.New("'statsd_address' and 'prometheus' cannot be used together")
	}
	if yc.StatsdAddress != "" {
		namespace := yc.StatsdNamespace
		if namespace == "" {
			namespace = DefaultStatsdNamespace
		}
		if err := c.SetupStatsdWithNamespace(yc.StatsdAddress, namespace); err != nil {
			return err
		}
	}
	if yc.Prometheus != nil {
		if yc.Prometheus.Port == "" {
			return errors.New("'prometheus' section requires 'port'")
		}
		c.PrometheusPort = yc.Prometheus.Port
		if yc.Prometheus.Endpoint != "" {
			c.PrometheusEndpoint = yc.Prometheus.Endpoint
		}
		if yc.Prometheus.ListenIP != "" {
			c.PrometheusListenIP = yc.Prometheus.ListenIP
		}
	}

	c.StatsSocketDir = yc.StatsSocketDir
	c.StatsAddress = yc.StatsAddress
	if yc.StatsSocketFileMode != "" {
		filemode, err := strconv.ParseUint(yc.StatsSocketFileMode, 8, 9)
		if err != nil {
			return fmt.Errorf("invalid stats_socket_file_mode %q: %w", yc.StatsSocketFileMode, err)
		}
		c.StatsSocketFileMode = os.FileMode(filemode)
	}
	if yc.StatsMaxConnections != nil {
		if *yc.StatsMaxConnections < 1 {
			return errors.New("stats_max_connections must be at least 1")
		}
		c.StatsMaxConnections = *yc.StatsMaxConnections
	}

	return nil
}

func LoadConfig(filePath string) (*Config, error) {
	bytes, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	// yaml.v2 skips UnmarshalYAML for an empty document, so the defaults
	// must already be in place.
	config := NewConfig()
	if err := yaml.UnmarshalStrict(bytes, config); err != nil {
		return nil, err
	}

	return config, nil
}
