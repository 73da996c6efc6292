package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/janisto/greetings-api/internal/platform/config"
	applog "github.com/janisto/greetings-api/internal/platform/logging"
	"github.com/janisto/greetings-api/internal/platform/probe"
	"github.com/janisto/greetings-api/internal/platform/server"
)

// Version can be overridden at build time: -ldflags "-X main.Version=1.2.3"
var Version = "dev"

const (
	name                   = "greetings-api"
	defaultProbeTimeout    = 3 * time.Second
	shutdownTimeoutEnvName = "SHUTDOWN_TIMEOUT_SECONDS"
)

func main() {
	if err := applog.Err(); err != nil {
		applog.LogError(context.Background(), "logger init error", err)
	}
	if err := loadDotEnv(".env"); err != nil {
		applog.LogWarn(context.Background(), "ignoring .env file", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCommand(runServer).Run(ctx, os.Args)
	stop()
	if err != nil {
		applog.LogError(context.Background(), "command failed", err)
	}
	if syncErr := applog.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
		applog.LogError(context.Background(), "logger sync error", syncErr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// loadDotEnv fills unset environment variables from path. A missing file
// is not an error; variables already in the environment win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type serveFunc func(ctx context.Context, cfg config.Config) error

// newCommand builds the CLI. Flags live on the root command so the
// healthcheck subcommand sees the same host and port as the server.
func newCommand(serve serveFunc) *cli.Command {
	defaults := config.Default()

	return &cli.Command{
		Name:    name,
		Usage:   "Serve the greetings HTTP API",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Interface to listen on (empty for all)",
				Sources: cli.EnvVars("HOST"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   defaults.Port,
				Usage:   "TCP port to listen on",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   defaults.LogLevel,
				Usage:   "Minimum log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.IntFlag{
				Name:    "shutdown-timeout",
				Value:   int(defaults.ShutdownTimeout / time.Second),
				Usage:   "Seconds to wait for in-flight requests on shutdown",
				Sources: cli.EnvVars(shutdownTimeoutEnvName),
			},
			&cli.BoolFlag{
				Name:    "metrics",
				Value:   defaults.MetricsEnabled,
				Usage:   "Expose Prometheus metrics on /metrics of the metrics address",
				Sources: cli.EnvVars("METRICS_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Value:   defaults.MetricsAddr,
				Usage:   "Listen address of the metrics server, separate from the API port",
				Sources: cli.EnvVars("METRICS_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "docs",
				Value:   defaults.DocsEnabled,
				Usage:   "Serve the OpenAPI document and docs UI on the API port",
				Sources: cli.EnvVars("DOCS_ENABLED"),
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Value:   defaults.RateLimit,
				Usage:   "Requests per second across all clients (0 disables limiting)",
				Sources: cli.EnvVars("RATE_LIMIT"),
			},
			&cli.IntFlag{
				Name:    "rate-limit-burst",
				Value:   defaults.RateLimitBurst,
				Usage:   "Requests allowed in a burst above the rate limit",
				Sources: cli.EnvVars("RATE_LIMIT_BURST"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve(ctx, configFromCommand(cmd))
		},
		Commands: []*cli.Command{
			healthcheckCmd(),
		},
	}
}

func healthcheckCmd() *cli.Command {
	return &cli.Command{
		Name:  "healthcheck",
		Usage: "Probe a running server and exit non-zero unless it answers 2xx",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "URL to probe (default: GET /greetings on the configured host and port)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: defaultProbeTimeout,
				Usage: "Maximum time to wait for the response",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			url := cmd.String("url")
			if url == "" {
				url = configFromCommand(cmd).ProbeURL()
			}
			return probe.Check(ctx, url, cmd.Duration("timeout"))
		},
	}
}

func configFromCommand(cmd *cli.Command) config.Config {
	cfg := config.Default()
	cfg.Host = cmd.String("host")
	cfg.Port = cmd.Int("port")
	cfg.LogLevel = cmd.String("log-level")
	cfg.ShutdownTimeout = time.Duration(cmd.Int("shutdown-timeout")) * time.Second
	cfg.MetricsEnabled = cmd.Bool("metrics")
	cfg.MetricsAddr = cmd.String("metrics-addr")
	cfg.DocsEnabled = cmd.Bool("docs")
	cfg.RateLimit = cmd.Float64("rate-limit")
	cfg.RateLimitBurst = cmd.Int("rate-limit-burst")
	return cfg
}

func runServer(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := applog.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	srv, err := server.New(cfg, server.WithVersion(Version))
	if err != nil {
		return err
	}
	applog.LogInfo(ctx, "starting server",
		zap.String("version", Version),
		zap.String("addr", cfg.Addr()),
		zap.Bool("metrics", cfg.MetricsEnabled),
		zap.String("metricsAddr", cfg.MetricsAddr),
		zap.Bool("docs", cfg.DocsEnabled),
		zap.Float64("rateLimit", cfg.RateLimit),
		zap.Int("rateLimitBurst", cfg.RateLimitBurst),
		zap.Duration("shutdownTimeout", cfg.ShutdownTimeout),
	)
	return srv.Run(ctx)
}
