package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/specforge/internal/health"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/server"
	"github.com/felixgeelhaar/specforge/internal/tui"
	"github.com/felixgeelhaar/specforge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API, event stream, and health endpoints",
	Long: `Start an HTTP server that runs reviews and decompositions in the background and
exposes specs, sessions, and progress over a JSON API.

Endpoints:
  /api/...        - JSON API (OpenAPI document at /api/openapi.json, docs at /api/docs)
  /api/events     - Server-sent events, filter with ?spec=<name>
  /metrics        - Prometheus metrics
  /health/live    - Liveness probe
  /health/ready   - Readiness probe (assistant, workspace, task id sequence)
  /health/startup - Startup probe
  /healthz        - Readiness alias

On SIGTERM or SIGINT the server fails readiness, cancels running work, and drains
connections for up to --shutdown-timeout.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr            string
	serveShutdownTimeout time.Duration
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from server.address)")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 0, "connection drain limit (default from server.shutdown_timeout)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	lc := log.ServerConfig()
	a, err := newApp(ctx, appOptions{needSequence: true, logConfig: &lc})
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Server.Address
	}
	drain := serveShutdownTimeout
	if drain <= 0 {
		drain = a.cfg.Server.ShutdownTimeout
	}

	info := version.GetInfo()
	srv := server.New(server.Config{
		Address:         addr,
		ShutdownTimeout: drain,
		Version:         info.Version,
		Service:         a.svc,
		Bus:             a.bus,
		Probes:          health.NewProbes(info.Version, a.healthManager()),
		Gatherer:        a.registry,
		Logger:          a.logger,
	})

	styles := tui.DefaultStyles()
	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, styles.Title.Render("specforge "+info.Short()))
	fmt.Fprintf(out, "listening on http://%s (API docs at /api/docs)\n", addr)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case err := <-serverErr:
		a.close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", "drain", drain.String())
	// ctx is already cancelled, so shutdown gets a fresh deadline
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain+5*time.Second)
	defer cancel()
	serr := srv.Shutdown(shutdownCtx)
	a.close(shutdownCtx)
	if serr != nil {
		return fmt.Errorf("shutdown error: %w", serr)
	}
	a.logger.Info("server stopped")
	return nil
}
