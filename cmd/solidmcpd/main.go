// Command solidmcpd is a host wiring demo for the delivery engine. It loads
// a YAML configuration file, opens a Store (PostgreSQL or SQLite), wires a
// Writer, Hub, and Sweeper together, exposes the admin HTTP surface, and
// shuts down gracefully on SIGTERM or SIGINT. It is not the wire protocol a
// real MCP host would speak to publishers and subscribers — that transport
// is left to the embedding application; this binary exists to prove the
// engine's components compose and drain cleanly end to end.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seuros/solid-mcp/internal/admin"
	"github.com/seuros/solid-mcp/internal/config"
	"github.com/seuros/solid-mcp/internal/hub"
	"github.com/seuros/solid-mcp/internal/store"
	"github.com/seuros/solid-mcp/internal/subscriber"
	"github.com/seuros/solid-mcp/internal/sweeper"
	"github.com/seuros/solid-mcp/internal/writer"
)

func main() {
	var configPath string
	var jwtPublicKeyPath string
	flag.StringVar(&configPath, "config", "/etc/solidmcp/config.yaml", "path to the YAML configuration file")
	flag.StringVar(&jwtPublicKeyPath, "jwt-pubkey", "", "path to PEM RSA public key for admin API validation (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "solidmcpd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("solidmcpd starting",
		slog.String("database_driver", cfg.DatabaseDriver),
		slog.String("health_addr", cfg.HealthAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close(context.Background())

	w := writer.New(st,
		writer.WithLogger(logger),
		writer.WithBatchSize(cfg.BatchSize),
		writer.WithQueueSize(cfg.MaxQueueSize),
		writer.WithShutdownTimeout(cfg.ShutdownTimeout),
		writer.WithFlushInterval(cfg.FlushInterval),
	)

	h := hub.New(st, w,
		hub.WithLogger(logger),
		hub.WithSubscriberOptions(subscriber.WithPollingInterval(cfg.PollingInterval)),
	)

	sw := sweeper.New(st,
		sweeper.WithLogger(logger),
		sweeper.WithDeliveredRetention(cfg.DeliveredRetention),
		sweeper.WithUndeliveredRetention(cfg.UndeliveredRetention),
	)
	sw.Start()

	var pubKey *rsa.PublicKey
	if jwtPublicKeyPath != "" {
		pem, err := os.ReadFile(jwtPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = admin.ParseRSAPublicKey(pem)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("admin API authentication enabled")
	} else {
		logger.Warn("jwt-pubkey not configured; admin API authentication disabled (dev mode)")
	}

	adminSrv := admin.NewServer(sw, h)
	httpHandler := admin.NewRouter(adminSrv, pubKey)
	httpServer := &http.Server{
		Addr:         cfg.HealthAddr,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("admin HTTP server listening", slog.String("addr", cfg.HealthAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- fmt.Errorf("admin HTTP server: %w", err)
		}
		close(httpErrCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("admin HTTP server error", slog.Any("error", err))
		}
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin HTTP server shutdown error", slog.Any("error", err))
	}

	if err := sw.Stop(shutdownCtx); err != nil {
		logger.Warn("sweeper stop error", slog.Any("error", err))
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Warn("hub shutdown error", slog.Any("error", err))
	}

	logger.Info("solidmcpd exited cleanly")
}

// openStore constructs the Store backend named by cfg.DatabaseDriver.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.DatabaseDSN)
	default:
		return store.NewPostgresStore(ctx, cfg.DatabaseDSN)
	}
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
