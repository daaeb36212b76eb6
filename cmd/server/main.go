// Pairlab - Session Liveness and Pacing Coordinator
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

	"github.com/ashureev/pairlab/internal/api"
	"github.com/ashureev/pairlab/internal/archiver"
	"github.com/ashureev/pairlab/internal/config"
	"github.com/ashureev/pairlab/internal/live"
	"github.com/ashureev/pairlab/internal/logbook"
	"github.com/ashureev/pairlab/internal/middleware"
	"github.com/ashureev/pairlab/internal/relay"
	"github.com/ashureev/pairlab/internal/store"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	var st store.Store
	if cfg.DBPath == "" {
		st = store.NewMemory()
		slog.Info("Using in-memory store")
	} else {
		sq, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		st = sq
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := st.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected")

	// Initialize services.
	recorder := logbook.NewRecorder(st)
	cm := live.NewConnManager()

	// Initialize handlers.
	baseHandler := api.NewHandler(st, recorder)
	sessionHandler := api.NewSessionHandler(baseHandler, cfg.StalenessWindow)
	exportHandler := api.NewExportHandler(baseHandler)
	wsHandler := live.NewHandler(st, cm, recorder, live.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Staleness:         cfg.StalenessWindow,
		PromptDismiss:     cfg.PromptDismissAfter,
		RearmOnRejoin:     cfg.RearmOnRejoin,
	}, cfg.FrontendURL, cfg.IsDevelopment())

	// Relay client (optional).
	var relayHandler *api.RelayHandler
	if cfg.RelayAddr != "" {
		slog.Info("Connecting to relay service via gRPC", "address", cfg.RelayAddr)
		relayClient, err := relay.New(cfg.RelayAddr, logger)
		if err != nil {
			slog.Warn("Failed to connect to relay, completion endpoint disabled", "error", err)
		} else {
			defer relayClient.Close()
			relayHandler = api.NewRelayHandler(baseHandler, relayClient)
		}
	}
	if relayHandler == nil {
		slog.Info("Relay disabled (RELAY_ADDR not set or connection failed)")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))

	// Routes.
	baseHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	exportHandler.RegisterRoutes(r)
	if relayHandler != nil {
		relayHandler.RegisterRoutes(r)
	}

	// WebSocket endpoint.
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	// Start the session archiver.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	arch := archiver.New(st, cfg.StalenessWindow, cfg.ArchiveSweepInterval)
	arch.Start(ctx)
	slog.Info("Session archiver started", "staleness_window", cfg.StalenessWindow)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cm.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
