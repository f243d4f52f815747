// overflowgpt relay server: streams ChatGPT answers to browser pages over
// websocket channels.
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

	"github.com/ashureev/overflowgpt/internal/api"
	"github.com/ashureev/overflowgpt/internal/chatgpt"
	"github.com/ashureev/overflowgpt/internal/config"
	"github.com/ashureev/overflowgpt/internal/credential"
	"github.com/ashureev/overflowgpt/internal/identity"
	"github.com/ashureev/overflowgpt/internal/middleware"
	"github.com/ashureev/overflowgpt/internal/relay"
	"github.com/ashureev/overflowgpt/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.Dev, "ledger", cfg.LedgerEnabled)

	// The ledger is optional; keep both interfaces nil when it is off.
	var (
		repo   store.Repository
		ledger relay.Ledger
	)
	if cfg.LedgerEnabled {
		sqlite, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := sqlite.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		if err := sqlite.Ping(context.Background()); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Database connected", "path", cfg.DBPath)

		// Sessions finish on the channel goroutines; queue their writes so
		// a slow disk never holds a channel open.
		async := store.NewAsyncLedger(sqlite, store.DefaultLedgerQueueSize, logger)
		defer func() {
			if closeErr := async.Close(); closeErr != nil {
				slog.Error("Failed to flush ledger", "error", closeErr)
			}
		}()
		repo, ledger = sqlite, async
	}

	chat := chatgpt.New(chatgpt.Config{
		SessionURL: cfg.ChatGPT.SessionURL,
		APIURL:     cfg.ChatGPT.APIURL,
		Model:      cfg.ChatGPT.Model,
		HTTPClient: &http.Client{Transport: http.DefaultTransport},
		Cache:      credential.NewCache(cfg.ChatGPT.CredentialTTL, nil),
		Logger:     logger,
	})

	registry := relay.NewRegistry()
	wsHandler := relay.NewHandler(chat, ledger, registry, relay.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Dev:            cfg.Dev,
		CleanupTimeout: cfg.Session.CleanupTimeout,
		StreamTimeout:  cfg.Session.StreamTimeout,
		Logger:         logger,
	})
	apiHandler := api.NewHandler(repo, registry, chat)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.Dev))

	apiHandler.RegisterRoutes(r)

	// Page channels.
	r.Get("/ws/port", wsHandler.ServeHTTP)

	// Answers stream for as long as the upstream keeps talking, so there is
	// no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second+cfg.Session.CleanupTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Hijacked websocket connections are not tracked by Shutdown. Closing
	// them cancels their sessions, which hide their conversations before the
	// channels unregister.
	registry.CloseAll("server shutting down")
	if err := registry.Drain(shutdownCtx); err != nil {
		slog.Warn("Channels still open at exit", "count", registry.Count(), "error", err)
	}

	slog.Info("Server stopped successfully")
}
