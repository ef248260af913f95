package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mshogin/deepresearch/internal/application/services"
	"github.com/mshogin/deepresearch/internal/infrastructure/config"
	"github.com/mshogin/deepresearch/internal/infrastructure/keypool"
	"github.com/mshogin/deepresearch/internal/infrastructure/logging"
	"github.com/mshogin/deepresearch/internal/infrastructure/providers"
	"github.com/mshogin/deepresearch/internal/infrastructure/search"
	"github.com/mshogin/deepresearch/internal/presentation/api"
)

func main() {
	// Parse CLI flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	host := flag.String("host", "", "Server host (overrides config)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Apply CLI overrides
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level))
	logging.SetDefaultLogger(logger)

	// Build the credential pool: config keys take priority, environment
	// variables are the fallback.
	var pool *keypool.Pool
	if len(cfg.Keys.APIKeys) > 0 {
		pool, err = keypool.New(cfg.Keys.APIKeys)
	} else {
		pool, err = keypool.FromEnvironment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize credential pool: %v", err)
	}
	logging.Info("credential pool initialized", map[string]interface{}{
		"keys": pool.Total(),
	})

	// Initialize providers and the rotation-aware invoker
	generator := providers.NewGeminiProvider(cfg.Provider)
	searcher := search.NewBraveClient(cfg.Search)
	invoker := services.NewModelInvoker(
		pool,
		generator,
		searcher,
		cfg.Provider.Timeout,
		cfg.Search.Timeout,
	)

	// Initialize workflow components
	controller := services.NewWorkflowController(
		services.NewQueryPlanner(invoker),
		services.NewResearchDispatcher(invoker),
		services.NewReflectionEvaluator(invoker),
		services.NewAnswerFinalizer(invoker),
	)

	// Initialize HTTP handler
	handler := api.NewHandler(controller, pool)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(api.CORSMiddleware())

	// Routes
	r.Post("/v1/research", handler.SubmitResearch)
	r.Get("/v1/research/{sessionID}", handler.GetSession)
	r.Post("/v1/research/{sessionID}/cancel", handler.CancelSession)
	r.Get("/v1/keys", handler.KeyStatus)
	r.Post("/v1/keys/reset", handler.ResetKeys)
	r.Get("/health", handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	// HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// No WriteTimeout: research sessions stream over SSE for minutes.
	}

	// Graceful shutdown
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalf("Server error: %v", err)

	case sig := <-shutdown:
		log.Printf("Received signal %v, shutting down gracefully...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
			if err := server.Close(); err != nil {
				log.Fatalf("Failed to close server: %v", err)
			}
		}

		log.Println("Server stopped")
	}
}
