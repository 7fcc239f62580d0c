package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/askdata/api/handlers"
	"github.com/malbeclabs/askdata/api/metrics"
	"github.com/malbeclabs/askdata/api/server"
	mcpserver "github.com/malbeclabs/askdata/mcp/server"
)

const metricsReadHeaderTimeout = 5 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var (
		listenAddr  string
		metricsAddr string
		corsOrigins []string
		adminTokens []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(opts.verbose)
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, log, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			a.loadSchema(ctx)

			admin, err := handlers.NewAdminHandler(handlers.AdminConfig{Logger: log, Schema: a.schema, Tokens: adminTokens})
			if err != nil {
				return fmt.Errorf("failed to create admin handler: %w", err)
			}
			srv, err := server.New(server.Config{
				Logger:      log,
				Query:       a.query,
				Admin:       admin,
				Health:      &handlers.Health{Schema: a.schema, Gateway: a.gateway},
				ListenAddr:  listenAddr,
				CORSOrigins: corsOrigins,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return runWithMetrics(ctx, log, metricsAddr, srv.Run)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&listenAddr, "listen-addr", envString("ASKDATA_LISTEN_ADDR", defaultListenAddr), "HTTP server listen address (or set ASKDATA_LISTEN_ADDR)")
	flags.StringVar(&metricsAddr, "metrics-addr", envString("ASKDATA_METRICS_ADDR", defaultMetricsAddr), "address to listen on for prometheus metrics, empty to disable (or set ASKDATA_METRICS_ADDR)")
	flags.StringSliceVar(&corsOrigins, "cors-origins", envList("ASKDATA_CORS_ORIGINS"), "allowed CORS origins (or set ASKDATA_CORS_ORIGINS)")
	flags.StringSliceVar(&adminTokens, "admin-tokens", envList("ASKDATA_ADMIN_TOKENS"), "bearer tokens for the admin endpoints (or set ASKDATA_ADMIN_TOKENS)")
	return cmd
}

func newMCPCmd(opts *options) *cobra.Command {
	var (
		listenAddr  string
		metricsAddr string
		tokens      []string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline as MCP tools over streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(opts.verbose)
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, log, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			a.loadSchema(ctx)

			if len(tokens) == 0 {
				log.Warn("mcp: no tokens configured, endpoint is unauthenticated")
			}
			srv, err := mcpserver.New(mcpserver.Config{
				Logger:        log,
				Answerer:      a.query,
				Classifier:    a.classifier,
				Schema:        a.schema,
				Name:          a.profile.DisplayName + " data assistant",
				Version:       version,
				ListenAddr:    listenAddr,
				AllowedTokens: tokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create mcp server: %w", err)
			}
			return runWithMetrics(ctx, log, metricsAddr, srv.Run)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&listenAddr, "listen-addr", envString("ASKDATA_MCP_LISTEN_ADDR", defaultMCPListenAddr), "MCP server listen address (or set ASKDATA_MCP_LISTEN_ADDR)")
	flags.StringVar(&metricsAddr, "metrics-addr", envString("ASKDATA_METRICS_ADDR", defaultMetricsAddr), "address to listen on for prometheus metrics, empty to disable (or set ASKDATA_METRICS_ADDR)")
	flags.StringSliceVar(&tokens, "tokens", envList("ASKDATA_MCP_TOKENS"), "bearer tokens allowed to call the MCP endpoint (or set ASKDATA_MCP_TOKENS)")
	return cmd
}

// runWithMetrics runs a server alongside the prometheus listener until ctx is done or
// either fails.
func runWithMetrics(ctx context.Context, log *slog.Logger, metricsAddr string, run func(context.Context) error) error {
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	metricsServerErrCh := make(chan error, 1)
	if metricsAddr != "" {
		listener, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout}
		go func() {
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			if err := metricsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				metricsServerErrCh <- err
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- run(ctx)
	}()

	select {
	case err := <-serverErrCh:
		if err != nil {
			log.Error("server: server error causing shutdown", "error", err)
		}
		return err
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}
}
