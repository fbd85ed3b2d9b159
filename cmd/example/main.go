package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/logger"
	"github.com/nicktill/perfwatch/pkg/sdk"
	"github.com/nicktill/perfwatch/pkg/sdk/httpx"
	"github.com/nicktill/perfwatch/pkg/sdk/runtime"
	"github.com/nicktill/perfwatch/pkg/sdk/signals"
)

const appAddr = ":3000"

func main() {
	log, err := logger.New()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	feed := signals.NewFeed(config.DefaultFeedBuffer)

	cfg := sdk.DefaultConfig()
	cfg.Endpoint = envOr("PERFWATCH_ENDPOINT", config.DefaultEndpoint)
	cfg.SampleRate = 1 // demo: send everything
	cfg.PageURL = "https://courts.example/"
	cfg.UserAgent = "perfwatch-example/" + config.Version
	cfg.MemoryWarmup = 2 * time.Second
	cfg.MemoryInterval = 10 * time.Second
	cfg.Logger = log.Named("sdk")
	cfg.Platform = signals.Platform{
		Vitals:    feed,
		Memory:    runtime.NewMemoryReader(),
		Resources: demoBundles{},
		Device:    signals.StaticDevice{ConnectionType: "4g", DeviceMemoryGB: 8},
	}

	client, err := sdk.New(cfg)
	if err != nil {
		log.Fatalw("Failed to create perfwatch client", "error", err)
	}

	// Error-level logs become custom error records
	log = log.Desugar().WithOptions(client.Errors().Hook()).Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		log.Fatalw("Failed to start perfwatch client", "error", err)
	}
	defer client.Stop()

	mux := http.NewServeMux()
	setupHandlers(mux, client, log)

	srv := &http.Server{
		Addr:         appAddr,
		Handler:      httpx.Middleware(client)(mux),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		log.Infow("Example app listening", "addr", appAddr, "perfwatch", cfg.Endpoint, "session", client.SessionID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("Example app failed", "error", err)
			cancel()
		}
	}()

	go simulateSession(ctx, client, feed, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("Shutting down example app")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Shutdown warning", "error", err)
	}

	stats := client.Stats()
	log.Infow("Session finished",
		"samples_sent", stats.SamplesSent,
		"alerts_raised", stats.AlertsRaised,
		"errors_queued", stats.ErrorsQueued,
		"dropped", stats.Delivery.Dropped,
	)
}

// demoBundles reports the scripts a typical page would have loaded
type demoBundles struct{}

func (demoBundles) Resources() []signals.Resource {
	return []signals.Resource{
		{Name: "https://courts.example/static/js/main.4f2a1c.js", InitiatorType: "script", TransferSize: 412_000, ResponseEnd: 180 * time.Millisecond},
		{Name: "https://courts.example/static/js/vendor.91be0d.js", InitiatorType: "script", TransferSize: 1_350_000, ResponseEnd: 320 * time.Millisecond},
		{Name: "https://courts.example/node_modules/react/index.js", InitiatorType: "script", TransferSize: 140_000, ResponseEnd: 90 * time.Millisecond},
		{Name: "https://courts.example/static/css/main.css", InitiatorType: "link", TransferSize: 40_000, ResponseEnd: 60 * time.Millisecond},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
