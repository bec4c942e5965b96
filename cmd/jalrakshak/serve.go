package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Shadan1221/jal-rakshak/api"
	"github.com/Shadan1221/jal-rakshak/api/services"
	"github.com/Shadan1221/jal-rakshak/pkg/auth"
	embeddednats "github.com/Shadan1221/jal-rakshak/pkg/services/embedded-nats"
	"github.com/Shadan1221/jal-rakshak/pkg/services/feed"
	"github.com/Shadan1221/jal-rakshak/pkg/services/workers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Jal Rakshak API server",
	Long: `Start the API server with its embedded NATS JetStream server, the
SQLite store and the live reading feed.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func initNATS() (*embeddednats.EmbeddedNATS, error) {
	natsConfig := embeddednats.DefaultConfig()
	natsConfig.Port = cfg.NATSPort
	natsConfig.DataDir = cfg.NATSDataDir
	natsConfig.Quiet = cfg.SlogLevel() > slog.LevelDebug
	natsConfig.Logger = logger

	en, err := embeddednats.New(natsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS: %w", err)
	}
	if err := en.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	if err := en.CreateStreams(); err != nil {
		en.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create streams: %w", err)
	}

	logger.Info("NATS JetStream initialized", "port", cfg.NATSPort)
	return en, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.JWTSecret == "jalrakshak-dev-secret" {
		logger.Warn("JWT_SECRET not set, using the development secret")
	}

	dbService, err := openDB()
	if err != nil {
		return err
	}
	defer dbService.Close()

	nats, err := initNATS()
	if err != nil {
		return err
	}

	photoStore, err := nats.ObjectStore(cfg.PhotoBucket)
	if err != nil {
		nats.Shutdown(context.Background())
		return fmt.Errorf("failed to open photo bucket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
	hub := feed.NewHub(tokens.Authenticate, logger)
	go hub.Run(ctx)

	// Start NATS workers
	workerManager, err := workers.NewManager(nats, hub, logger)
	if err != nil {
		nats.Shutdown(context.Background())
		return fmt.Errorf("failed to create worker manager: %w", err)
	}
	if err := workerManager.Start(); err != nil {
		nats.Shutdown(context.Background())
		return fmt.Errorf("failed to start workers: %w", err)
	}

	handlers := api.NewHandlers(api.Deps{
		Store:    dbService,
		Sites:    services.NewSiteService(dbService.GetDB(), nats, logger),
		Readings: services.NewReadingService(dbService.GetDB(), nats, logger),
		Photos:   services.NewPhotoService(photoStore, cfg.PublicBaseURL, cfg.MaxPhotoBytes, logger),
		Feed:     hub,
		NATS:     nats,
		Tokens:   tokens,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handlers.Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// no WriteTimeout: websocket feed connections are long lived
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting Jal Rakshak API server", "port", cfg.Port, "public_url", cfg.PublicBaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", "error", err)
	}

	if err := workerManager.Stop(); err != nil {
		logger.Error("failed to stop workers", "error", err)
	}
	cancel()

	if err := nats.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown NATS", "error", err)
	}

	logger.Info("server shutdown complete")
	return runErr
}
