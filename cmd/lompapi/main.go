package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"lompapi/internal/config"
	"lompapi/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// customRecovery is a middleware that recovers from panics and handles http.ErrAbortHandler gracefully.
func customRecovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn().Str("path", c.Request.URL.Path).Msg("Client connection aborted")
					c.Abort()
					return
				}

				log.Error().
					Interface("error", recovered).
					Str("path", c.Request.URL.Path).
					Str("stack", string(debug.Stack())).
					Msg("Panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "lompapi",
		Short:         "LOMP Stack control panel API",
		Long:          "lompapi serves the control panel API behind API key authentication, per-key permissions and rate limits.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")

	load := func() (*config.Config, error) {
		cfg, warnings, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		console := logger.Console(cfg.Debug)
		for _, w := range warnings {
			console.Warn().Msg(w)
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newKeysCmd(load),
		newWindowsCmd(load),
	)
	return root
}

type configLoader func() (*config.Config, error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the public API, the admin API and the housekeeping scheduler.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger.New(cfg.Debug))
		},
	}
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scheduler.Start(); err != nil {
		return err
	}
	log.Info().Str("schedule", cfg.Scheduler.PurgeSchedule).Msg("Scheduler started")

	janitorCtx, cancelJanitors := context.WithCancel(context.Background())
	defer cancelJanitors()
	a.publicThrottle.StartJanitor(janitorCtx)
	a.adminThrottle.StartJanitor(janitorCtx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.scheduler.Stop()
	if err := a.webhooks.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Pending webhook deliveries were aborted")
	}

	log.Info().Msg("Server exiting")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
