// Storefront bridge - drives WooCommerce cart fragments and variation lookups
// on behalf of shopper sessions over REST and MCP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-bridge/internal/adapter"
	"storefront-bridge/internal/config"
	"storefront-bridge/internal/handler"
	"storefront-bridge/internal/middleware"
	"storefront-bridge/internal/transport"
	"storefront-bridge/internal/woocommerce"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration first: .env may set LOG_LEVEL
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(cfg)

	logger.Info("configuration loaded",
		slog.String("store_id", cfg.StoreID),
		slog.String("environment", cfg.Environment),
		slog.String("store_domain", cfg.Store.StoreDomain),
		slog.Bool("fingerprint", cfg.Store.Fingerprinting()),
	)

	registry := handler.NewRegistry(cfg.Store.SessionTTL.Std(), logger)
	defer registry.Close()

	h := handler.New(storefrontFactory(cfg, logger), registry, handler.Options{
		ActivityWindow:  cfg.Store.ActivityWindow.Std(),
		LookupTimeout:   cfg.Store.LookupTimeout.Std(),
		RefreshInterval: cfg.Store.RefreshInterval.Std(),
		CartHashKey:     cfg.Store.CartHashKey,
		FragmentName:    cfg.Store.FragmentName,
	}, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → request id → logging → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Store.RequestTimeout.Std() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go registry.Janitor(janitorCtx, time.Minute)

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped", slog.Int("sessions", registry.Len()))
	return nil
}

// storefrontFactory builds one WooCommerce client per session, each with its
// own cookie jar.
func storefrontFactory(cfg *config.Config, logger *slog.Logger) handler.StorefrontFactory {
	return func() (adapter.Storefront, error) {
		httpClient, err := transport.NewClient(transport.Options{
			Timeout:     cfg.Store.RequestTimeout.Std(),
			Fingerprint: cfg.Store.Fingerprinting(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating HTTP client: %w", err)
		}
		return woocommerce.New(woocommerce.Config{
			StoreURL:       cfg.Store.StoreURL,
			AjaxURL:        cfg.Store.AjaxURL,
			HTTPClient:     httpClient,
			Logger:         logger,
			RequestTimeout: cfg.Store.RequestTimeout.Std(),
		})
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
