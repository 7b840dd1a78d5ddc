// Package main is the entry point for the queue worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/config"
	"github.com/replyflow-ai/messaging-pipeline/internal/delivery"
	"github.com/replyflow-ai/messaging-pipeline/internal/llm"
	"github.com/replyflow-ai/messaging-pipeline/internal/orchestrator"
	"github.com/replyflow-ai/messaging-pipeline/internal/queue"
	"github.com/replyflow-ai/messaging-pipeline/internal/session"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/internal/worker"
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

	log.Info("starting worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-pipeline-worker", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Connect to Postgres
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to Postgres", zap.Error(err))
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

	streamManager := queue.NewStreamManager(natsClient)
	if err := streamManager.EnsureStreams(ctx); err != nil {
		log.Error("failed to ensure streams", zap.Error(err))
		os.Exit(1)
	}

	// Initialize stores
	tenantStore := store.NewTenantStore(db)
	conversationStore := store.NewConversationStore(db)
	messageStore := store.NewMessageStore(db)
	sessionStore := store.NewSessionStore(db)
	usageStore := store.NewUsageStore(db)
	knowledgeStore := store.NewKnowledgeStore(db)

	// Initialize LLM clients. The primary slot prefers OpenAI; Anthropic
	// becomes the fallback, or the primary when it is the only key present.
	var primary, fallback llm.Client
	primaryModel, fallbackModel := cfg.PrimaryModel, cfg.FallbackModel

	if cfg.OpenAIAPIKey != "" {
		primary, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Error("failed to create OpenAI client", zap.Error(err))
			os.Exit(1)
		}
	}
	if cfg.AnthropicAPIKey != "" {
		anthropicClient, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Error("failed to create Anthropic client", zap.Error(err))
			os.Exit(1)
		}
		if primary == nil {
			primary = anthropicClient
			primaryModel = fallbackModel
		} else {
			fallback = anthropicClient
		}
	}
	if primary == nil {
		log.Error("no LLM API key configured")
		os.Exit(1)
	}

	// Initialize services
	sessionManager := session.NewManager(cache, sessionStore, cfg.SessionTTL, log)
	responder := orchestrator.New(orchestrator.Config{
		Primary:       primary,
		Fallback:      fallback,
		PrimaryModel:  primaryModel,
		FallbackModel: fallbackModel,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		Usage:         usageStore,
		Knowledge:     knowledgeStore,
		RetryPolicy:   retry.DefaultPolicy,
		Logger:        log,
	})
	providerClient := delivery.NewClient(cfg.ProviderBaseURL, cfg.ProviderAccessToken, cfg.ProviderSenderID)
	sender := delivery.NewSender(providerClient, messageStore, conversationStore, streamManager, retry.DefaultPolicy, log)

	w := worker.New(worker.Config{
		Tenants:       tenantStore,
		Conversations: conversationStore,
		Messages:      messageStore,
		Responder:     responder,
		Deliverer:     sender,
		Queue:         streamManager,
		Sessions:      sessionManager,
		Logger:        log,
	})

	// Run both consumers until shutdown
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := streamManager.RunConsumer(ctx, queue.WebhookStream, queue.WebhookConsumer, "webhook", cfg.WorkerLanes, w.HandleReplyJob, log)
		if err != nil {
			log.Error("webhook consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := streamManager.RunConsumer(ctx, queue.DeliveryStream, queue.DeliveryConsumer, "delivery", cfg.WorkerLanes, w.HandleDeliveryJob, log)
		if err != nil {
			log.Error("delivery consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	log.Info("worker running",
		zap.Int("lanes", cfg.WorkerLanes),
		zap.String("primary_model", primaryModel),
	)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("shutting down worker")
	cancel()
	wg.Wait()
	log.Info("worker stopped")
}
