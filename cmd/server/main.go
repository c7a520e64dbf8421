/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the visit scheduler. Handles configuration,
  dependency wiring, background jobs and graceful shutdown.

COMMANDS:
  serve   HTTP API plus background sweeps (default)
  sweep   Run the expiry and/or eligibility sweep once and exit
  match   Rank session templates for a legacy visit without writing

STARTUP SEQUENCE (serve):
  1. Load configuration (TOML file, .env, VISITS_* variables)
  2. Initialize logging
  3. Open the store (sqlite or memory)
  4. Build notifier, job lock, engine and scheduler
  5. Configure HTTP router
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (server.shutdown_timeout)
  3. Stop the scheduler and wait for running sweeps
  4. Close store, broker and lock connections

EXAMPLES:
  # Run with a config file
  ./server serve --config ./visits.toml

  # Run with an in-memory store on another port
  VISITS_STORE_DRIVER=memory VISITS_PORT=3000 ./server

  # Expire stale holds from cron
  ./server sweep --task expiry

SEE ALSO:
  - config/config.go: Configuration sources and keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/visit-scheduler/api"
	"github.com/warp/visit-scheduler/jobs"
)

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Prison visit session scheduling and booking service",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to TOML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background sweeps",
		RunE:  runServe,
	})
	root.AddCommand(newSweepCmd())
	root.AddCommand(newMatchCmd())
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}
	scheduler := jobs.NewScheduler(locker, a.log, a.tasks()...)
	scheduler.Enabled = a.cfg.Jobs.Enabled
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(a.engine, a.store, scheduler, a.log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      api.NewRouter(handler, a.cfg.Server.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Int("port", a.cfg.Server.Port).Str("store", a.cfg.Store.Driver).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info().Msg("server stopped")
	return nil
}
