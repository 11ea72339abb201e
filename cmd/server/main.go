package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/config"
	"github.com/adi-253/classroomx/backend/internal/handlers"
	"github.com/adi-253/classroomx/backend/internal/logging"
	"github.com/adi-253/classroomx/backend/internal/notify"
	"github.com/adi-253/classroomx/backend/internal/services"
	"github.com/adi-253/classroomx/backend/internal/supabase"
	"github.com/adi-253/classroomx/backend/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Initialize Supabase gateway and change feed
	db := supabase.NewClient(cfg, logger)
	realtime := supabase.NewRealtime(cfg, logger)

	// Initialize services. User requests run under the caller's JWT; only
	// the sweeper uses the service role.
	notifier := notify.NewService(logger)
	chatService := services.NewChatService(services.UserStores(db), realtime, notifier, cfg, logger)
	sweeper := services.NewTypingSweeper(db, cfg.TypingSweepInterval, cfg.TypingStaleAfter, logger)

	// Start background workers
	go sweeper.Start()
	defer sweeper.Stop()

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	limiter := auth.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go sweepLimiter(ctx, limiter)

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(chatService, logger)
	wsHandler := websocket.NewHandler(hub, chatService, notifier, logger)

	// Set up router with middleware
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)

	logger.Info("CORS allowed origins", zap.Strings("origins", cfg.CORSOrigins))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics endpoints
	r.Get("/health", handlers.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	requireSession := auth.Middleware([]byte(cfg.SupabaseJWTSecret))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(requireSession)
		r.Use(limiter.Middleware)

		r.Route("/chats", func(r chi.Router) {
			r.Get("/{id}", chatHandler.GetChat)
			r.Post("/{id}/messages", chatHandler.SendMessage)
			r.Post("/{id}/media", chatHandler.UploadMedia)
		})
		r.Post("/messages/{id}/reactions", chatHandler.AddReaction)
	})

	// Live chat screens
	r.With(requireSession).Get("/ws/chats/{id}", wsHandler.ServeWS)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ClassroomX chat backend starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweepLimiter drops idle rate limit buckets every few minutes.
func sweepLimiter(ctx context.Context, l *auth.Limiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
