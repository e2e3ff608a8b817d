// Command cblt is a minimal multi-host web server configured by a Cbltfile.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/dabevlohn/cblt"
	"github.com/dabevlohn/cblt/config"
	"github.com/dabevlohn/cblt/ops"
	"github.com/dabevlohn/cblt/server"
	"github.com/dabevlohn/cblt/telemetry"
)

var cli struct {
	Config   string `help:"Path to the Cbltfile." default:"./Cbltfile" type:"path"`
	BindHost string `help:"Address every listener binds to." default:"0.0.0.0"`

	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	LogFormat string `help:"Log format." enum:"text,json" default:"text"`

	OpsAddr  string `help:"Enable the health and metrics listener on this address."`
	OpsToken string `help:"Bearer token required for the metrics endpoint." env:"CBLT_OPS_TOKEN"`

	OTLPEndpoint     string `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metrics export." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	EnablePrometheus bool   `help:"Expose Prometheus metrics on the ops listener."`

	Version kong.VersionFlag `help:"Print version and quit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("cblt"),
		kong.Description("A minimal multi-host web server configured by a Cbltfile."),
		kong.Vars{"version": cblt.Version},
	)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	level := logLevel(cli.LogLevel)

	var handler slog.Handler
	switch cli.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	groups, err := server.BuildGroups(cfg)
	if err != nil {
		return fmt.Errorf("building listener groups: %w", err)
	}

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "cblt",
		ServiceVersion:   cblt.Version,
		OTLPEndpoint:     cli.OTLPEndpoint,
		EnablePrometheus: cli.EnablePrometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Error("metrics shutdown failed", "error", err)
		}
	}()

	if cli.OpsAddr != "" {
		opsSrv := ops.New(ops.Config{
			Addr:   cli.OpsAddr,
			Token:  cli.OpsToken,
			Logger: logger.With("component", "ops"),
		})
		go func() {
			if err := opsSrv.Start(); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := opsSrv.Shutdown(stopCtx); err != nil {
				logger.Error("ops shutdown failed", "error", err)
			}
		}()
		logger.Info("ops listener enabled", "addr", opsSrv.Address())
	}

	srv, err := server.New(server.Config{
		Groups:   groups,
		BindHost: cli.BindHost,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	logger.Info("cblt starting", "version", cblt.Version, "config", cli.Config, "groups", len(groups))

	return srv.Run(ctx)
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
