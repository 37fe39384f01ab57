package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

func newRunCommand() *cobra.Command {
	var connectEnabled bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the credential refresh scan and serve metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = runDaemon(ctx, a, connectEnabled)

			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.close(closeCtx)
			return err
		},
	}
	runCmd.Flags().BoolVar(&connectEnabled, "connect", false, "Connect every enabled server at startup")
	return runCmd
}

// runDaemon blocks until ctx is done
func runDaemon(ctx context.Context, a *app, connectEnabled bool) error {
	a.logger.Info("Starting mcpctx",
		zap.String("version", version),
		zap.String("data_dir", a.cfg.DataDir),
		zap.String("extensions_dir", a.cfg.ExtensionInstallRoot()))

	a.manager.AddStateChangeHandler(func(change upstream.StateChange) {
		a.logger.Info("Server state changed",
			zap.String("server", change.ServerID),
			zap.String("from", change.From.String()),
			zap.String("to", change.To.String()))
	})
	a.manager.Coordinator().EnsureStarted()

	var metricsServer *http.Server
	if handler := a.obs.MetricsHandler(); handler != nil {
		listener, err := net.Listen("tcp", a.cfg.Observability.MetricsListen)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			a.logger.Info("Serving metrics", zap.String("address", listener.Addr().String()))
			if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	if connectEnabled {
		connectAll(ctx, a)
	}

	<-ctx.Done()
	a.logger.Info("Shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Error stopping metrics server", zap.Error(err))
		}
	}
	return nil
}

// connectAll connects enabled servers; failures are logged and skipped
func connectAll(ctx context.Context, a *app) {
	servers, err := a.store.ListServers(ctx)
	if err != nil {
		a.logger.Warn("Failed to list servers", zap.Error(err))
		return
	}
	for _, server := range servers {
		if !server.Enabled {
			continue
		}
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		if _, err := a.manager.Client(connectCtx, server); err != nil {
			a.logger.Warn("Failed to connect server",
				zap.String("server", server.ID),
				zap.Error(err))
		}
		cancel()
	}
}
