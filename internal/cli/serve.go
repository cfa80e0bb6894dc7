package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bishoku/autopilot-codex/internal/api"
	"github.com/bishoku/autopilot-codex/internal/realtime"
)

// shutdownTimeout bounds how long in-flight requests may take to drain
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket server",
		Long: `Serve the REST API under /api and live run events on /ws.

Runs left RUNNING or QUEUED by a previous process are marked FAILED
before the server starts accepting requests.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config and PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		a.cfg.Server.Port = port
	}

	hub := realtime.NewHub(a.logger)
	a.orch.SetSink(hub)

	if _, err := a.svc.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile interrupted runs: %w", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      api.NewRouter(a.svc, hub.Handler(), a.cfg.Server.APIKey, a.logger),
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeoutS) * time.Second,
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeoutS) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("server listening", "addr", srv.Addr, "workspace", a.cfg.WorkspaceRoot, "auth", a.cfg.Server.APIKey != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
