package cmd

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/blockdaemon/programfilter/pkg/programfilter"
)

const envFileVar = "PROGRAMFILTER_ENV_FILE"

// Process command line args into a configuration object.  If the "--help" or
// "--version" flags are provided, return nil with no error.
// If args is nil, os.Args will be used.  If logger is nil, the configuration
// keeps its default logger.
//
// Every flag can also be given as a PROGRAMFILTER_* environment variable.
// Variables are read from the file named by PROGRAMFILTER_ENV_FILE, or
// ./.env, when it exists; variables already set take precedence.
func NewConfiguration(args []string, logger *log.Logger) (*programfilter.Config, error) {
	if args == nil {
		args = os.Args
	}
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	var configToReturn *programfilter.Config

	app := cli.NewApp()
	app.Name = "programfilter"
	app.Version = programfilter.Version()
	app.Usage = "Filters account and transaction events by program id"
	app.ArgsUsage = " " // blank but non-empty to suppress default "[arguments...]"

	// Suppress "help" subcommand, as we have no other subcommands.
	// Unfortunately, this also suppresses "--help", so we'll add it back in
	// manually below.  See https://github.com/urfave/cli/issues/523
	app.HideHelp = true

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "help",
			Usage: "Show this help text.",
		},
		cli.StringFlag{
			Name:   "config-file",
			Usage:  "Load configuration from YAML `FILE`. Flags override its values.",
			EnvVar: "PROGRAMFILTER_CONFIG_FILE",
		},
		cli.StringSliceFlag{
			Name:   "program-ignore",
			Usage:  "Drop events of program `ID` while the allowlist is empty.  Repeatable.",
			EnvVar: "PROGRAMFILTER_PROGRAM_IGNORES",
		},
		cli.StringSliceFlag{
			Name:   "program-allowlist",
			Usage:  "Forward only events of program `ID`.  Repeatable.",
			EnvVar: "PROGRAMFILTER_PROGRAM_ALLOWLIST",
		},
		cli.StringFlag{
			Name:   "program-allowlist-url",
			Usage:  "Fetch the allowlist from `URL` (http, https, redis or rediss).",
			EnvVar: "PROGRAMFILTER_PROGRAM_ALLOWLIST_URL",
		},
		cli.Uint64Flag{
			Name:   "program-allowlist-update-interval",
			Usage:  "Refresh the allowlist every `SECONDS` (minimum 1).",
			EnvVar: "PROGRAMFILTER_PROGRAM_ALLOWLIST_UPDATE_INTERVAL_SEC",
		},
		cli.DurationFlag{
			Name:   "program-allowlist-timeout",
			Value:  programfilter.DefaultAllowlistTimeout,
			Usage:  "Give up fetching the allowlist after `DURATION`.",
			EnvVar: "PROGRAMFILTER_PROGRAM_ALLOWLIST_TIMEOUT",
		},
		cli.DurationFlag{
			Name:   "refresh-check-interval",
			Value:  programfilter.DefaultRefreshCheckInterval,
			Usage:  "Check whether the allowlist is due for a refresh every `DURATION`.",
			EnvVar: "PROGRAMFILTER_REFRESH_CHECK_INTERVAL",
		},
		cli.StringFlag{
			Name:   "log-level",
			Usage:  "Log at `LEVEL` (debug, info, warn, error).",
			EnvVar: "PROGRAMFILTER_LOG_LEVEL",
		},
		cli.BoolFlag{
			Name:   "log-dropped-programs",
			Usage:  "Log each dropped program, at most once per dropped_program_log_interval.",
			EnvVar: "PROGRAMFILTER_LOG_DROPPED_PROGRAMS",
		},
		cli.StringFlag{
			Name:   "statsd-address",
			Usage:  "Send metrics to statsd at `ADDRESS` (IP:port).",
			EnvVar: "PROGRAMFILTER_STATSD_ADDRESS",
		},
		cli.StringFlag{
			Name:   "prometheus-port",
			Usage:  "Expose Prometheus metrics on `PORT`.",
			EnvVar: "PROGRAMFILTER_PROMETHEUS_PORT",
		},
		cli.StringFlag{
			Name:   "prometheus-endpoint",
			Value:  programfilter.DefaultPrometheusEndpoint,
			Usage:  "Serve Prometheus metrics at `PATH`.",
			EnvVar: "PROGRAMFILTER_PROMETHEUS_ENDPOINT",
		},
		cli.StringFlag{
			Name:   "prometheus-listen-ip",
			Value:  programfilter.DefaultPrometheusListenIP,
			Usage:  "Serve Prometheus metrics on interface with address `IP`.",
			EnvVar: "PROGRAMFILTER_PROMETHEUS_LISTEN_IP",
		},
		cli.StringFlag{
			Name:   "stats-socket-dir",
			Usage:  "Serve the stats endpoint on a unix socket in `DIR`.",
			EnvVar: "PROGRAMFILTER_STATS_SOCKET_DIR",
		},
		cli.StringFlag{
			Name:   "stats-address",
			Usage:  "Serve the stats endpoint on `ADDRESS` (IP:port).",
			EnvVar: "PROGRAMFILTER_STATS_ADDRESS",
		},
	}

	app.Action = func(c *cli.Context) error {
		if c.Bool("help") {
			cli.ShowAppHelp(c)
			return nil // configToReturn will not be set
		}
		if len(c.Args()) > 0 {
			return errors.New("Received unexpected non-option argument(s)")
		}

		var conf *programfilter.Config
		if file := c.String("config-file"); file != "" {
			loaded, err := programfilter.LoadConfig(file)
			if err != nil {
				return err
			}
			conf = loaded
		} else {
			conf = programfilter.NewConfig()
		}

		if logger != nil {
			conf.Log = logger
		}

		if c.IsSet("program-ignore") {
			conf.ProgramIgnores = c.StringSlice("program-ignore")
		}
		if c.IsSet("program-allowlist") {
			conf.ProgramAllowlist = c.StringSlice("program-allowlist")
		}
		if c.IsSet("program-allowlist-url") {
			conf.ProgramAllowlistURL = c.String("program-allowlist-url")
		}
		if c.IsSet("program-allowlist-update-interval") {
			conf.SetProgramAllowlistUpdateIntervalSec(c.Uint64("program-allowlist-update-interval"))
		}
		if c.IsSet("program-allowlist-timeout") {
			conf.ProgramAllowlistTimeout = c.Duration("program-allowlist-timeout")
		}
		if c.IsSet("refresh-check-interval") {
			conf.RefreshCheckInterval = c.Duration("refresh-check-interval")
		}
		if err := conf.SetLogLevel(c.String("log-level")); err != nil {
			return err
		}
		if c.IsSet("log-dropped-programs") {
			conf.LogDroppedPrograms = c.Bool("log-dropped-programs")
		}
		if c.IsSet("stats-socket-dir") {
			conf.StatsSocketDir = c.String("stats-socket-dir")
		}
		if c.IsSet("stats-address") {
			conf.StatsAddress = c.String("stats-address")
		}

		if c.IsSet("statsd-address") && c.IsSet("prometheus-port") {
			return errors.New("--statsd-address and --prometheus-port cannot be used together")
		}
		if c.IsSet("statsd-address") {
			if err := conf.SetupStatsd(c.String("statsd-address")); err != nil {
				return err
			}
		}
		if c.IsSet("prometheus-port") {
			conf.PrometheusPort = c.String("prometheus-port")
		}
		if c.IsSet("prometheus-endpoint") {
			conf.PrometheusEndpoint = c.String("prometheus-endpoint")
		}
		if c.IsSet("prometheus-listen-ip") {
			conf.PrometheusListenIP = c.String("prometheus-listen-ip")
		}
		if conf.PrometheusPort != "" {
			if err := conf.SetupPrometheus(conf.PrometheusEndpoint, conf.PrometheusPort, conf.PrometheusListenIP); err != nil {
				return err
			}
		}

		for _, err := range conf.Check() {
			conf.Log.WithError(err).Warn("configuration problem")
		}

		configToReturn = conf
		return nil
	}

	err := app.Run(args)

	return configToReturn, err
}

func loadEnvFile() error {
	file := os.Getenv(envFileVar)
	if file == "" {
		file = ".env"
		if _, err := os.Stat(file); os.IsNotExist(err) {
			return nil
		}
	}
	return godotenv.Load(file)
}
