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
	"golang.org/x/exp/slog"

	"kiosk/internal/app"
	"kiosk/internal/config"
	"kiosk/internal/handler"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the kiosk session daemon and its local API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "local API port (overrides server.port)")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	k, err := wireKiosk(startCtx, cfg, logger, wireOptions{
		userAgent: userAgentFor(cfg, logger, os.Stdout),
		storage:   true,
	})
	if err != nil {
		return err
	}
	defer k.Close()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(k, cfg, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting local API", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Reset abandons a donation that has not reached the reader.
	if err := k.payments.Reset(); err != nil {
		logger.Warn("donation still capturing at shutdown", slog.Any("err", err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

func newRouter(k *kiosk, cfg *config.Config, logger *slog.Logger) http.Handler {
	return app.NewRouter(app.RouterDeps{
		AuthHandler:      handler.NewAuthHandler(k.auth),
		ReaderHandler:    handler.NewReaderHandler(k.readers),
		DonationHandler:  handler.NewDonationHandler(k.payments, k.receipts, cfg.Payment.AllowOffline, logger),
		CatalogHandler:   handler.NewCatalogHandler(k.catalog),
		EventHandler:     handler.NewEventHandler(k.bus, logger),
		IdempotencyStore: k.idempotency,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		NewRelicApp:      k.nrApp,
		Logger:           logger,
	})
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
