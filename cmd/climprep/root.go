package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/climate-prep-etl/internal/adapter/http"
	"github.com/couchcryptid/climate-prep-etl/internal/config"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
}

// newRootCmd builds the command tree. Flags are bound to cfg, so a flag set
// on the command line overrides the environment and the job file.
func newRootCmd(cfg *config.Config) *cobra.Command {
	a := &app{cfg: cfg}

	root := &cobra.Command{
		Use:   "climprep",
		Short: "Prepare climate and wildfire datasets for analysis",
		Long: `climprep runs one of three batch pipelines:

  precip seasonal  December-April precipitation totals as GeoTIFF
  precip monthly   monthly precipitation totals as GeoTIFF
  amo              Atlantic Multidecadal Oscillation index as long CSV
  fires            MCD14ML detections filtered and merged into one CSV`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			a.logger = observability.NewLogger(a.cfg)
			slog.SetDefault(a.logger)
			a.registry = prometheus.NewRegistry()
			a.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			a.metrics = observability.NewMetrics(a.registry)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or text")
	flags.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "serve /healthz, /readyz and /metrics on this address during the run")
	flags.StringVar(&cfg.PushgatewayURL, "pushgateway-url", cfg.PushgatewayURL, "push run metrics to this Prometheus Pushgateway at exit")

	root.AddCommand(a.precipCmd(), a.amoCmd(), a.firesCmd())
	return root
}

// run executes fn with the optional HTTP server up for its duration and
// pushes metrics afterwards. The push is attempted even when fn fails. A
// server that cannot bind fails the command before fn runs.
func (a *app) run(ctx context.Context, job string, ready sharedobs.ReadinessChecker, fn func(context.Context) error) error {
	var srv *httpadapter.Server
	if a.cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(a.cfg.HTTPAddr, ready, a.registry, a.logger)
		if _, err := srv.Listen(); err != nil {
			return err
		}
	}

	runErr := fn(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown error", "error", err)
		}
	}
	if a.cfg.PushgatewayURL != "" {
		if err := observability.Push(a.cfg.PushgatewayURL, "climprep_"+job, a.registry); err != nil {
			a.logger.Warn("metrics push failed", "error", err)
		}
	}
	return runErr
}

// pendingReadiness stands in for a pipeline that is built inside run. It
// reports not ready until the pipeline is attached, then delegates.
type pendingReadiness struct {
	job    string
	mu     sync.Mutex
	target sharedobs.ReadinessChecker
}

func (r *pendingReadiness) attach(c sharedobs.ReadinessChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = c
}

// CheckReadiness implements sharedobs.ReadinessChecker.
func (r *pendingReadiness) CheckReadiness(ctx context.Context) error {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	if target == nil {
		return fmt.Errorf("%s pipeline has not started", r.job)
	}
	return target.CheckReadiness(ctx)
}
