// Day Quest server: REST API and websocket chat over the progress store.
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

	"github.com/ashureev/dayquest/internal/api"
	"github.com/ashureev/dayquest/internal/chat"
	"github.com/ashureev/dayquest/internal/config"
	"github.com/ashureev/dayquest/internal/content"
	"github.com/ashureev/dayquest/internal/identity"
	"github.com/ashureev/dayquest/internal/logging"
	"github.com/ashureev/dayquest/internal/middleware"
	"github.com/ashureev/dayquest/internal/progress"
	"github.com/ashureev/dayquest/internal/quest"
	"github.com/ashureev/dayquest/internal/store"
	"github.com/ashureev/dayquest/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.DBDriver)

	repo, err := store.Open(cfg.DBDriver, cfg.DSN())
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
	applied, err := repo.Migrate(context.Background())
	if err != nil {
		slog.Error("Failed to apply migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "migrations_applied", applied)

	table, err := content.Load(cfg.ContentFile)
	if err != nil {
		slog.Error("Failed to load quest content", "error", err, "file", cfg.ContentFile)
		os.Exit(1)
	}
	engine, err := quest.NewEngine(table, table.TotalDays())
	if err != nil {
		slog.Error("Failed to initialize progression engine", "error", err)
		os.Exit(1)
	}
	svc := progress.NewService(repo, engine, logger)
	slog.Info("Quest content loaded", "total_days", engine.TotalDays())

	allowedOrigins := middleware.AllowedOrigins(cfg.FrontendURL)

	healthHandler := api.NewHealthHandler(repo)
	questHandler := api.NewQuestHandler(api.NewHandler(svc))
	wsHandler := chat.NewWebSocketHandler(svc, chat.NewSessionManager(), allowedOrigins[0], cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	// Forwarded identities come from a server-side gateway, never from a
	// browser, so only the session header is exposed to CORS.
	r.Use(middleware.CORS(allowedOrigins, identity.SessionHeaderName))
	r.Use(identity.Middleware(svc, cfg.IsDevelopment(), cfg.GatewayToken))

	healthHandler.RegisterHealth(r)
	questHandler.RegisterRoutes(r)

	r.Get("/ws/chat", wsHandler.ServeHTTP)

	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: chat websockets are long-lived.
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
