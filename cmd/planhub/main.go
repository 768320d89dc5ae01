package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	probeadapter "github.com/planhub/planhub/internal/adapter/driven/probe"
	sqliteadapter "github.com/planhub/planhub/internal/adapter/driven/sqlite"
	httphandler "github.com/planhub/planhub/internal/adapter/driving/http"
	"github.com/planhub/planhub/internal/application"
	"github.com/planhub/planhub/internal/config"
	"github.com/planhub/planhub/internal/encrypt"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"key_path", cfg.KeyPath,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on the writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Bring up the encryption service. A failure here is fatal; the
	// vault must never run uninitialized.
	crypto := encrypt.NewService(cfg.KeyPath, slog.Default())
	if err := crypto.Initialize(); err != nil {
		return err
	}
	slog.Info("encryption service initialized", "key_path", cfg.KeyPath)

	// 6. Wire the vault.
	integrationStore := sqliteadapter.NewIntegrationRepo(db)
	prober := probeadapter.NewHTTPProber(cfg.ProbeTimeout)
	vault := application.NewVaultService(integrationStore, crypto, prober, slog.Default())
	defer vault.Shutdown()

	// 7. Register the API routes with middleware applied.
	handler := httphandler.NewHandler(vault, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(handler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("planhub vault started", "listen_addr", cfg.ListenAddr)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
