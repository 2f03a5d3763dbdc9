// SkillSync BFF server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/skillsync/skillsync-bff/internal/agent"
	"github.com/skillsync/skillsync-bff/internal/api"
	"github.com/skillsync/skillsync-bff/internal/apiclient"
	"github.com/skillsync/skillsync-bff/internal/config"
	"github.com/skillsync/skillsync-bff/internal/follow"
	"github.com/skillsync/skillsync-bff/internal/identity"
	"github.com/skillsync/skillsync-bff/internal/middleware"
	"github.com/skillsync/skillsync-bff/internal/realtime"
	"github.com/skillsync/skillsync-bff/internal/session"
	"github.com/skillsync/skillsync-bff/internal/store"
	"github.com/skillsync/skillsync-bff/internal/worker"
)

const (
	bootstrapTimeout     = 30 * time.Second
	bootstrapWaitTimeout = 10 * time.Second
	retentionInterval    = time.Hour
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "api", cfg.API.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	jar, err := store.NewJar(ctx, repo, logger)
	if err != nil {
		slog.Error("Failed to load cookie jar", "error", err)
		os.Exit(1)
	}

	opts := apiclient.Options{
		BaseURL:      cfg.API.BaseURL,
		AIStreamPath: cfg.API.AIStreamPath,
		Timeout:      cfg.API.RequestTimeout,
		RateLimit:    cfg.API.RateLimit,
		RateBurst:    cfg.API.RateBurst,
		Jar:          jar,
		ImageKit: apiclient.ImageKitOptions{
			PublicKey: cfg.ImageKit.PublicKey,
			UploadURL: cfg.ImageKit.UploadURL,
		},
		Logger: logger,
	}

	// Initialize services.
	hub := realtime.NewHub(cfg.SSE.ReplaySize, logger)

	follows := follow.NewStore()
	follows.OnChange(hub.FollowChanged)

	authAPI := apiclient.NewAuthAPI(opts)
	sessions := session.NewManager(authAPI,
		session.WithLogger(logger),
		session.WithObserver(follows),
		session.WithObserver(hub),
	)
	client := apiclient.New(opts, sessions)
	syncer := follow.NewSynchronizer(follows, client, logger)

	chat := agent.NewService(client, repo, cfg.Chat, logger)
	agentHandler := agent.NewHandler(chat, cfg.Chat, logger)
	defer agentHandler.Close()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, sessions)
	authHandler := api.NewAuthHandler(sessions, authAPI, jar, logger)
	socialHandler := api.NewSocialHandler(client, syncer, sessions, logger)
	registry := realtime.NewRegistry()
	wsHandler := realtime.NewWebSocketHandler(hub, registry, follows, cfg.AllowedOrigins(), cfg.IsDevelopment(), logger)
	sseHandler := realtime.NewStreamHandler(hub, cfg.SSE, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else waits for the first session bootstrap.
	r.Group(func(r chi.Router) {
		r.Use(middleware.WaitForBootstrap(sessions, bootstrapWaitTimeout))
		r.Use(identity.Middleware(sessions, cfg.IsDevelopment()))

		authHandler.RegisterRoutes(r)
		r.Get("/api/events", sseHandler.ServeHTTP)
		r.Get("/ws", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(sessions))
			socialHandler.RegisterRoutes(r)
			agentHandler.RegisterRoutes(r)
		})
	})

	// Create server.
	// SSE and WebSocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Restore the session from the stored refresh cookie.
	go func() {
		bctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer cancel()
		s := sessions.Bootstrap(bctx)
		slog.Info("Session bootstrap complete", "authenticated", s.IsAuthenticated)
	}()

	worker.StartRefreshWorker(ctx, sessions, cfg.Refresh.CheckInterval, cfg.Refresh.Skew)
	worker.StartRetentionWorker(ctx, repo, retentionInterval, cfg.Chat.HistoryRetention)

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

	registry.CloseAll("server shutting down")
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
