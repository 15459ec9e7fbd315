package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HammerMeetNail/tastemate/internal/config"
	"github.com/HammerMeetNail/tastemate/internal/database"
	"github.com/HammerMeetNail/tastemate/internal/handlers"
	"github.com/HammerMeetNail/tastemate/internal/logging"
	"github.com/HammerMeetNail/tastemate/internal/middleware"
	"github.com/HammerMeetNail/tastemate/internal/realtime"
	"github.com/HammerMeetNail/tastemate/internal/services"
)

const notificationRetention = 90 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	// Initialize logger
	logger := logging.New()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Server.Debug {
		logger.SetLevel(logging.LevelDebug)
		logging.SetDefaultLevel(logging.LevelDebug)
	}

	logger.Info("Starting Tastemate server...")

	// Connect to PostgreSQL
	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgresDB(cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	logger.Info("Running database migrations...")
	migrator, err := database.NewMigrator(cfg.Database.DSN(), "migrations")
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	_ = migrator.Close()
	logger.Info("Migrations completed")

	// Connect to Redis
	logger.Info("Connecting to Redis", map[string]interface{}{
		"addr": cfg.Redis.Addr(),
	})
	redisDB, err := database.NewRedisDB(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()
	logger.Info("Connected to Redis")

	// Initialize services
	dbAdapter := services.NewPoolAdapter(db.Pool)
	redisAdapter := services.NewRedisAdapter(redisDB.Client)
	hub := realtime.NewHub()

	emailFrom := fmt.Sprintf("%s <%s>", cfg.Email.FromName, cfg.Email.FromAddress)

	userService := services.NewUserService(dbAdapter)
	authService := services.NewAuthService(dbAdapter, redisAdapter)
	providerAuthService := services.NewProviderAuthService(dbAdapter)
	emailService := services.NewEmailService(dbAdapter, cfg.Email.Provider, cfg.Email.ResendAPIKey, emailFrom, cfg.Email.BaseURL)
	friendService := services.NewFriendService(dbAdapter)
	recommendationService := services.NewRecommendationService(dbAdapter, friendService)
	notificationService := services.NewNotificationService(dbAdapter, emailService)
	accountService := services.NewAccountService(dbAdapter)

	friendService.SetNotificationService(notificationService)
	friendService.SetEventPublisher(hub)
	recommendationService.SetEventPublisher(hub)

	oauthProviders := map[services.Provider]services.OAuthProvider{}
	if cfg.OAuth.Google.Enabled {
		googleProvider, err := services.NewOIDCProvider(context.Background(), services.OIDCProviderConfig{
			Provider:     services.ProviderGoogle,
			ClientID:     cfg.OAuth.Google.ClientID,
			ClientSecret: cfg.OAuth.Google.ClientSecret,
			RedirectURL:  cfg.OAuth.Google.RedirectURL,
			IssuerURL:    cfg.OAuth.Google.IssuerURL,
			Scopes:       cfg.OAuth.Google.Scopes,
		})
		if err != nil {
			return fmt.Errorf("initializing google oidc provider: %w", err)
		}
		oauthProviders[services.ProviderGoogle] = googleProvider
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, redisDB)
	authHandler := handlers.NewAuthHandler(authService, userService, cfg.Server.Secure)
	providerAuthHandler := handlers.NewProviderAuthHandler(providerAuthService, authService, redisAdapter, oauthProviders, cfg.Server.Secure)
	friendHandler := handlers.NewFriendHandler(friendService, userService)
	recommendationHandler := handlers.NewRecommendationHandler(recommendationService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)
	accountHandler := handlers.NewAccountHandler(accountService, authService, cfg.Server.Secure)
	eventsHandler := handlers.NewEventsHandler(hub)

	// Background cleanup
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if _, err := notificationService.CleanupOld(context.Background(), notificationRetention); err != nil {
					logger.Warn("Notification cleanup failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if err := authService.CleanupExpired(context.Background()); err != nil {
					logger.Warn("Session cleanup failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(authService, userService)
	securityHeaders := middleware.NewSecurityHeaders(cfg.Server.Secure)
	requestLogger := middleware.NewRequestLogger(logger)

	authRateLimiter := middleware.NewRateLimiter(redisDB.Client, 20, 15*time.Minute, "ratelimit:auth:", func(r *http.Request) string {
		return middleware.GetClientIP(r)
	}, true)

	requireSession := authMiddleware.RequireSession
	limitAuth := authRateLimiter.Middleware

	// Set up router
	mux := http.NewServeMux()

	// Health endpoints (no auth, no rate limit)
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /ready", healthHandler.Ready)
	mux.HandleFunc("GET /live", healthHandler.Live)

	// Auth endpoints
	mux.Handle("POST /api/auth/register", limitAuth(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /api/auth/login", limitAuth(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/auth/logout", requireSession(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET /api/auth/me", requireSession(http.HandlerFunc(authHandler.Me)))
	mux.Handle("PUT /api/auth/searchable", requireSession(http.HandlerFunc(authHandler.UpdateSearchable)))
	mux.Handle("GET /api/auth/{provider}/start", http.HandlerFunc(providerAuthHandler.ProviderStart))
	mux.Handle("GET /api/auth/{provider}/callback", http.HandlerFunc(providerAuthHandler.ProviderCallback))
	mux.Handle("POST /api/auth/{provider}/complete", requireSession(http.HandlerFunc(providerAuthHandler.ProviderComplete)))

	// Account endpoints
	mux.Handle("GET /api/account/export", requireSession(http.HandlerFunc(accountHandler.Export)))
	mux.Handle("DELETE /api/account", requireSession(http.HandlerFunc(accountHandler.Delete)))

	// Friend endpoints
	mux.Handle("GET /api/friends", requireSession(http.HandlerFunc(friendHandler.List)))
	mux.Handle("GET /api/friends/search", requireSession(http.HandlerFunc(friendHandler.Search)))
	mux.Handle("GET /api/friends/requests", requireSession(http.HandlerFunc(friendHandler.ListRequests)))
	mux.Handle("GET /api/friends/requests/sent", requireSession(http.HandlerFunc(friendHandler.ListSent)))
	mux.Handle("POST /api/friends/requests/{id}", requireSession(http.HandlerFunc(friendHandler.SendRequest)))
	mux.Handle("PUT /api/friends/requests/{id}/accept", requireSession(http.HandlerFunc(friendHandler.AcceptRequest)))
	mux.Handle("PUT /api/friends/requests/{id}/decline", requireSession(http.HandlerFunc(friendHandler.DeclineRequest)))
	mux.Handle("DELETE /api/friends/requests/{id}", requireSession(http.HandlerFunc(friendHandler.CancelRequest)))
	mux.Handle("DELETE /api/friends/{id}", requireSession(http.HandlerFunc(friendHandler.Remove)))
	mux.Handle("GET /api/friends/{id}/recommendations", requireSession(http.HandlerFunc(recommendationHandler.ListForFriend)))
	mux.Handle("POST /api/friends/{id}/recommendations", requireSession(http.HandlerFunc(recommendationHandler.SendToFriend)))

	// Recommendation endpoints
	mux.Handle("GET /api/recommendations", requireSession(http.HandlerFunc(recommendationHandler.List)))
	mux.Handle("POST /api/recommendations", requireSession(http.HandlerFunc(recommendationHandler.Create)))
	mux.Handle("GET /api/recommendations/categories", http.HandlerFunc(recommendationHandler.Categories))
	mux.Handle("GET /api/recommendations/pending", requireSession(http.HandlerFunc(recommendationHandler.ListPending)))
	mux.Handle("GET /api/recommendations/{id}", requireSession(http.HandlerFunc(recommendationHandler.Get)))
	mux.Handle("PUT /api/recommendations/{id}", requireSession(http.HandlerFunc(recommendationHandler.Update)))
	mux.Handle("DELETE /api/recommendations/{id}", requireSession(http.HandlerFunc(recommendationHandler.Delete)))
	mux.Handle("POST /api/recommendations/{id}/approve", requireSession(http.HandlerFunc(recommendationHandler.Approve)))
	mux.Handle("POST /api/recommendations/{id}/reject", requireSession(http.HandlerFunc(recommendationHandler.Reject)))
	mux.Handle("POST /api/recommendations/{id}/copy", requireSession(http.HandlerFunc(recommendationHandler.Copy)))

	// Notification endpoints
	mux.Handle("GET /api/notifications", requireSession(http.HandlerFunc(notificationHandler.List)))
	mux.Handle("GET /api/notifications/unread-count", requireSession(http.HandlerFunc(notificationHandler.UnreadCount)))
	mux.Handle("POST /api/notifications/{id}/read", requireSession(http.HandlerFunc(notificationHandler.MarkRead)))
	mux.Handle("POST /api/notifications/read-all", requireSession(http.HandlerFunc(notificationHandler.MarkAllRead)))
	mux.Handle("DELETE /api/notifications/{id}", requireSession(http.HandlerFunc(notificationHandler.Delete)))
	mux.Handle("DELETE /api/notifications", requireSession(http.HandlerFunc(notificationHandler.DeleteAll)))

	// Realtime events
	mux.Handle("GET /api/events", requireSession(http.HandlerFunc(eventsHandler.Serve)))

	// Build middleware chain (order matters: outermost first)
	var handler http.Handler = mux
	handler = securityHeaders.Apply(handler)
	handler = requestLogger.Apply(handler)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Websocket connections stay open indefinitely; no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Server is shutting down...")
		cleanupCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
				"error": err.Error(),
			})
		}
		close(done)
	}()

	logger.Info("Server is ready to handle requests", map[string]interface{}{"addr": addr})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	<-done
	logger.Info("Server stopped")
	return nil
}
