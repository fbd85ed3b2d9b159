package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/logger"
	"github.com/nicktill/perfwatch/pkg/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "perfwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	loaded, err := server.LoadEnvFile(os.Getenv("PERFWATCH_ENV_FILE"))
	if err != nil {
		return err
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.WithLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	zap.ReplaceGlobals(log.Desugar())

	log.Infow("Starting perfwatch server", "version", config.Version, "env_file_loaded", loaded)

	store, err := server.InitializeStore(cfg, log.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnw("Failed to close store", "error", err)
		}
	}()

	handlers := server.InitializeHandlers(cfg, store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		handlers.Hub.Run(ctx)
	}()
	log.Debug("WebSocket hub started for live alert streaming")

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.RecordStoreStats(ctx, store, config.StoreStatsEvery, log.Named("stats"))
	}()

	router := mux.NewRouter()
	handler := server.SetupRoutes(router, cfg, handlers, store, log.Named("http"))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infow("Server listening",
			"addr", srv.Addr,
			"store", cfg.StoreBackend,
			"metrics_path", config.MetricsPath,
			"errors_path", config.ErrorsPath,
			"alerts_path", config.AlertsPath,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("Shutdown signal received", "signal", sig.String())
	case err, ok := <-serveErr:
		if ok {
			cancel()
			wg.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Cancel background tasks before waiting on them
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Server shutdown warning", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("All background tasks stopped")
	case <-time.After(5 * time.Second):
		log.Warn("Some background tasks did not stop in time")
	}

	log.Info("perfwatch server exited cleanly")
	return nil
}
