// Package main is the entry point for the chat sync service.
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

	"github.com/matchpulse/chatsync/internal/chatapi"
	"github.com/matchpulse/chatsync/internal/config"
	"github.com/matchpulse/chatsync/internal/dispatch"
	"github.com/matchpulse/chatsync/internal/handler"
	"github.com/matchpulse/chatsync/internal/middleware"
	natsclient "github.com/matchpulse/chatsync/internal/nats"
	"github.com/matchpulse/chatsync/internal/privacy"
	"github.com/matchpulse/chatsync/internal/receipts"
	"github.com/matchpulse/chatsync/internal/send"
	"github.com/matchpulse/chatsync/internal/store"
	syncengine "github.com/matchpulse/chatsync/internal/sync"
	"github.com/matchpulse/chatsync/pkg/logger"
	"github.com/matchpulse/chatsync/pkg/tracing"
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

	if cfg.UserID == "" {
		log.Error("CHAT_USER_ID is required")
		os.Exit(1)
	}

	log.Infow("starting chat sync service", "user_id", cfg.UserID)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatsync", cfg.TracingEndpoint)
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Errorw("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure the push-event stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Errorw("failed to ensure stream", "error", err)
		os.Exit(1)
	}

	// Backend REST client
	backend := chatapi.New(chatapi.Config{
		BaseURL: cfg.BackendBaseURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout,
	})

	// Assemble the synchronizer
	st := store.New(cfg.UserID)
	dispatcher := dispatch.New(log)
	tracker := receipts.NewTracker()
	gate := privacy.NewGate()
	pipeline := send.New(st, backend, tracker, log)
	engine := syncengine.New(st, dispatcher, pipeline, gate, tracker, backend, log)
	defer engine.Close()

	// Feed push events into the dispatcher
	durable := "chatsync-" + cfg.UserID
	consumeCtx, err := streamManager.ConsumePush(ctx, cfg.UserID, durable, dispatcher.DispatchRaw)
	if err != nil {
		log.Errorw("failed to start push consumer", "error", err)
		os.Exit(1)
	}
	defer consumeCtx.Stop()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	conversationHandler := handler.NewConversationHandler(engine, log)
	messageHandler := handler.NewMessageHandler(engine, log)
	streamHandler := handler.NewStreamHandler(st, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
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

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/stream", streamHandler.Stream)
		r.Get("/notices", messageHandler.Notices)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{partnerID}", func(r chi.Router) {
				r.Get("/unread", conversationHandler.Unread)
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/open", messageHandler.Open)
				r.Post("/close", messageHandler.Close)
			})
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
		log.Infow("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server error", "error", err)
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
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
