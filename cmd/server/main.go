// minichat - multi-session chat server with an OpenAI-compatible gateway
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

	"github.com/akarpov/minichat/internal/api"
	"github.com/akarpov/minichat/internal/chat"
	"github.com/akarpov/minichat/internal/config"
	"github.com/akarpov/minichat/internal/gateway"
	"github.com/akarpov/minichat/internal/middleware"
	"github.com/akarpov/minichat/internal/store"
	"github.com/akarpov/minichat/internal/ws"
	"github.com/akarpov/minichat/web"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"model", cfg.OpenAI.Model,
		"base_url", cfg.OpenAI.BaseURL,
		"mock", cfg.MockActive(),
	)
	if cfg.MockActive() && !cfg.OpenAI.UseMock {
		slog.Warn("OPENAI_API_KEY is not set, falling back to mock responses")
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	completer := gateway.NewClient(gateway.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		OrgID:   cfg.OpenAI.OrgID,
		UseMock: cfg.OpenAI.UseMock,
	})

	chatStore, err := chat.NewStore(context.Background(), repo, completer)
	if err != nil {
		slog.Error("Failed to hydrate session state", "error", err)
		os.Exit(1)
	}
	slog.Info("Session state hydrated")

	hub := ws.NewHub(chatStore.State)
	chatStore.SetListener(hub.Broadcast)

	handler := api.NewHandler(chatStore, completer)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(api.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	handler.RegisterRoutes(r)

	// WebSocket state feed.
	r.Get("/ws/state", hub.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// The completion call has no internal deadline, so no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
