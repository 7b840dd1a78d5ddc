// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/config"
	"github.com/replyflow-ai/messaging-pipeline/internal/delivery"
	"github.com/replyflow-ai/messaging-pipeline/internal/handler"
	"github.com/replyflow-ai/messaging-pipeline/internal/middleware"
	"github.com/replyflow-ai/messaging-pipeline/internal/queue"
	"github.com/replyflow-ai/messaging-pipeline/internal/routing"
	"github.com/replyflow-ai/messaging-pipeline/internal/service"
	"github.com/replyflow-ai/messaging-pipeline/internal/session"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/internal/webhook"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/retry"
	"github.com/replyflow-ai/messaging-pipeline/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-pipeline", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to Postgres and migrate
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to Postgres", zap.Error(err))
		os.Exit(1)
	}
	if err := store.Migrate(db); err != nil {
		log.Error("failed to migrate schema", zap.Error(err))
		os.Exit(1)
	}

	// Connect to Redis
	cache, err := session.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error("failed to connect to Redis", zap.Error(err))
		os.Exit(1)
	}
	defer cache.Close()

	// Connect to NATS
	natsClient, err := queue.Connect(ctx, queue.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream streams exist
	streamManager := queue.NewStreamManager(natsClient)
	if err := streamManager.EnsureStreams(ctx); err != nil {
		log.Error("failed to ensure streams", zap.Error(err))
		os.Exit(1)
	}

	// Initialize stores
	tenantStore := store.NewTenantStore(db)
	conversationStore := store.NewConversationStore(db)
	messageStore := store.NewMessageStore(db)
	webhookLogStore := store.NewWebhookLogStore(db, cfg.WebhookLogMaxRows)

	// Initialize services
	router := routing.New(conversationStore, tenantStore, cfg.TestPhoneNumber, cfg.TestTenantID, log)
	providerClient := delivery.NewClient(cfg.ProviderBaseURL, cfg.ProviderAccessToken, cfg.ProviderSenderID)
	sender := delivery.NewSender(providerClient, messageStore, conversationStore, streamManager, retry.DefaultPolicy, log)
	reconciler := delivery.NewReconciler(messageStore, log)
	validator := webhook.NewValidator(cfg.WebhookSecret, cfg.WebhookVerifyToken, log)
	inbound := service.NewInboundService(router, conversationStore, messageStore, reconciler, streamManager, webhookLogStore, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, store.NewHealth(db), cache)
	webhookHandler := handler.NewWebhookHandler(validator, inbound, log)
	conversationHandler := handler.NewConversationHandler(conversationStore, messageStore, log)
	messageHandler := handler.NewMessageHandler(conversationStore, messageStore, sender, handler.BulkDefaults{
		BatchSize:   cfg.BulkBatchSize,
		BatchDelay:  cfg.BulkBatchDelay,
		Concurrency: cfg.BulkConcurrency,
	}, log)

	// Prune the webhook audit log in the background
	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-pruneCtx.Done():
				return
			case <-ticker.C:
				if err := webhookLogStore.Prune(pruneCtx); err != nil {
					log.Warn("webhook log prune failed", zap.Error(err))
				}
			}
		}
	}()

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Provider webhook (authenticated by HMAC signature, not JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.WebhookRateLimit(600, time.Minute))
		r.Get("/webhook", webhookHandler.Verify)
		r.Post("/webhook", webhookHandler.Receive)
	})

	// Admin API with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Put("/ai", conversationHandler.SetAI)
				r.Post("/archive", conversationHandler.Archive)
				r.Delete("/", conversationHandler.Delete)

				r.Get("/messages", conversationHandler.Messages)
				r.Post("/messages", messageHandler.Send)
			})
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/bulk", messageHandler.SendBulk)
			r.Post("/retry-failed", messageHandler.RetryFailed)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
