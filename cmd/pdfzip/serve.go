package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/pdfzip/internal/api"
	"github.com/spherical/pdfzip/internal/config"
	"github.com/spherical/pdfzip/internal/convert"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP conversion service",
		Long: `Serve accepts multipart uploads on POST /convert and streams the archive
back as it is rendered.

The config file is re-read on SIGHUP and whenever it changes on disk;
conversion settings apply to the next request. Server address, timeouts,
CORS and rate limits need a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cfg := cfgStore.Current()
	cfgStore.OnReload = func(c *config.Config, err error) {
		if err != nil {
			logger.Error().Err(err).Msg("Config reload failed, keeping previous settings")
			return
		}
		logger.Info().
			Int("max_pages", c.Conversion.MaxPages).
			Float64("scale", c.Conversion.ScaleFactor()).
			Int("jpeg_quality", c.Conversion.JPEGQuality).
			Msg("Config reloaded")
	}
	go func() {
		if err := cfgStore.Watch(ctx); err != nil {
			logger.Warn().Err(err).Str("path", cfgStore.Path()).Msg("Config watcher stopped")
		}
	}()

	service := convert.NewService(newEngine(), cfgStore, logger)
	router := api.NewRouter(api.NewHandler(service, cfgStore, logger), cfgStore, logger)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	logger.Info().
		Str("addr", srv.Addr).
		Int("max_pages", cfg.Conversion.MaxPages).
		Float64("scale", cfg.Conversion.ScaleFactor()).
		Bytes("max_upload", cfg.Server.MaxUploadBytes).
		Str("version", version).
		Msg("Starting pdfzip server")

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(shutdown)
	defer signal.Stop(hangup)

wait:
	for {
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Server error")
				return err
			}
			return nil
		case <-hangup:
			logger.Info().Msg("SIGHUP received, reloading config")
			_ = cfgStore.Reload()
		case sig := <-shutdown:
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			break wait
		case <-parent.Done():
			break wait
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfgStore.Current().Server.GracefulShutdown)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		// In-flight streams are cancelled through the base context.
		cancel()
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
	return nil
}
