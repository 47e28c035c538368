package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/config"
	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/logger"
	"github.com/ajitpratap0/airsync/pkg/mirror"
	"github.com/ajitpratap0/airsync/pkg/observability"
	"github.com/ajitpratap0/airsync/pkg/registry"
)

type runFlags struct {
	eventFile   string
	configFile  string
	connector   string
	logLevel    string
	metricsAddr string
}

func newRunCommand() *cobra.Command {
	var flags runFlags

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run connector invocations",
		Long: `Run one invocation per event in the event file. The file holds a single
event object or a JSON array of events, as delivered by the platform.

Example:
  airsync run --event event.json --connector demo --config airsync.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEvents(ctx, flags)
		},
	}

	runCmd.Flags().StringVarP(&flags.eventFile, "event", "e", "", "Path to the invocation event JSON file (required)")
	_ = runCmd.MarkFlagRequired("event")
	runCmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Path to YAML configuration file (optional)")
	runCmd.Flags().StringVar(&flags.connector, "connector", "demo", "Name of the registered connector to run")
	runCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	runCmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return runCmd
}

func runEvents(ctx context.Context, flags runFlags) error {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load configuration")
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.Observability.EnableMetrics = true
		cfg.Observability.MetricsAddr = flags.metricsAddr
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	runner, err := registry.Get(flags.connector)
	if err != nil {
		return err
	}

	events, err := readEvents(flags.eventFile)
	if err != nil {
		return err
	}

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    cfg.Observability.ServiceName,
			ServiceVersion: version,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	if cfg.Observability.EnableMetrics {
		srv := serveMetrics(cfg.Observability.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var m mirror.Mirror
	if cfg.Worker.LocalDevelopment && cfg.Mirror.URL != "" {
		if m, err = mirror.New(ctx, cfg.Mirror, log); err != nil {
			return err
		}
		defer m.Close()
		log.Info("mirroring artifacts", zap.String("url", cfg.Mirror.URL))
	}

	for i := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event := &events[i]
		if event.Payload.EventContext.UUID == "" {
			event.Payload.EventContext.UUID = uuid.NewString()
		}

		opts := registry.RunOptions{Event: event, Config: cfg, Logger: log}
		if m != nil {
			opts.Mirror = m
		}
		res := runner(ctx, opts)
		log.Info("invocation finished",
			zap.String("connector", flags.connector),
			zap.String("event_type", string(event.Type())),
			zap.String("phase", res.Phase.String()),
			zap.String("emitted", string(res.EventType)),
			zap.Bool("synthetic", res.Synthetic),
			zap.Bool("timed_out", res.TimedOut))
	}
	return nil
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}
