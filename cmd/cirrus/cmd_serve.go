package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/cirrus/controlplane"
	"github.com/yairfalse/cirrus/internal/api"
	"github.com/yairfalse/cirrus/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		addr          string
		autoDiscovery bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane HTTP API",
		Long: `Run the control plane as a long-lived server.

Serves the JSON API under /api/v1, liveness on /healthz and Prometheus
metrics on /metrics. The estate is re-discovered on the configured interval
unless discovery.auto is false or --auto-discovery=false is given. Shuts down
gracefully on SIGTERM/SIGINT.`,
		Example: `  cirrus serve                          # AWS, default config
  cirrus serve --offline --pretty       # Demo estate
  cirrus serve --auto-discovery=false   # Discover only on request
  cirrus serve --addr :9000 -c cirrus.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.API.Addr = addr
			}
			if cmd.Flags().Changed("auto-discovery") {
				cfg.Discovery.Auto = autoDiscovery
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			tp, err := telemetry.NewProvider(ctx, cfg.OTEL)
			if err != nil {
				return fmt.Errorf("failed to create telemetry provider: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("telemetry shutdown")
				}
			}()

			console, err := controlplane.Build(ctx, cfg, controlplane.BuildOptions{Telemetry: tp})
			if err != nil {
				return fmt.Errorf("failed to build control plane: %w", err)
			}
			defer func() { _ = console.Close() }()

			ln, err := net.Listen("tcp", cfg.API.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.API.Addr, err)
			}
			return serve(ctx, console, tp.Handler(), ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().BoolVar(&autoDiscovery, "auto-discovery", true, "Re-discover the estate on the configured interval")
	return cmd
}

// serve runs the HTTP server, auto-discovery and signal handling as one
// actor group. The first actor to return stops the others.
func serve(ctx context.Context, console *controlplane.Console, metrics http.Handler, ln net.Listener) error {
	var g run.Group

	srv := &http.Server{
		Handler:           api.NewRouter(console, api.Options{Metrics: metrics, BaseContext: ctx}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Add(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("api server shutdown")
		}
	})

	if console.AutoDiscovery().Running {
		stop := make(chan struct{})
		g.Add(func() error {
			<-stop
			return nil
		}, func(error) {
			close(stop)
			console.StopAutoDiscovery()
		})
	}

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err := g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
