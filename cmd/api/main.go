// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-dialogue/internal/config"
	"github.com/capitalize-ai/persona-dialogue/internal/handler"
	"github.com/capitalize-ai/persona-dialogue/internal/llm"
	natsclient "github.com/capitalize-ai/persona-dialogue/internal/nats"
	"github.com/capitalize-ai/persona-dialogue/internal/service"
	"github.com/capitalize-ai/persona-dialogue/internal/store"
	"github.com/capitalize-ai/persona-dialogue/pkg/logger"
	"github.com/capitalize-ai/persona-dialogue/pkg/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("DIALOGUE_CONFIG"), "path to a TOML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(ctx, "persona-dialogue", cfg.Tracing.Endpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the database
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer db.Close()

	opts := []service.Option{service.WithMaxTokens(cfg.LLM.MaxTokens)}

	// Connect to NATS when event publishing is enabled
	var natsClient *natsclient.Client
	if cfg.NATS.Enabled {
		natsClient, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATS.URL,
			CAFile:   cfg.NATS.CAFile,
			CertFile: cfg.NATS.CertFile,
			KeyFile:  cfg.NATS.KeyFile,
			Token:    cfg.NATS.Token,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		opts = append(opts, service.WithEvents(streamManager))
	}

	// Initialize LLM client. Without one every generation fails with a 500.
	llmClient, err := llm.NewClient(llm.Provider(cfg.LLM.Provider), llm.Options{
		APIKey:  cfg.LLM.APIKey(),
		BaseURL: cfg.LLM.OpenAIBaseURL,
	})
	if err != nil {
		log.Warn("LLM provider unavailable, generation disabled",
			zap.String("provider", cfg.LLM.Provider), zap.Error(err))
		llmClient = nil
	}
	generator := llm.NewGenerator(llmClient, cfg.LLM.Model)

	// Initialize services
	conversationSvc := service.NewConversationService(db, generator, log, opts...)

	jwtSecret := ""
	if cfg.Auth.Enabled {
		jwtSecret = cfg.Auth.JWTSecret
	}

	router := handler.NewRouter(handler.RouterConfig{
		Conversations:     handler.NewConversationHandler(conversationSvc, log),
		Stream:            handler.NewStreamHandler(conversationSvc, log),
		Health:            handler.NewHealthHandler(db, natsClient),
		Logger:            log,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		JWTSecret:         jwtSecret,
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
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
