package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/akagifreeez/deepl-quota-monitor/internal/config"
	"github.com/akagifreeez/deepl-quota-monitor/internal/handlers"
	"github.com/akagifreeez/deepl-quota-monitor/internal/services"
	"github.com/akagifreeez/deepl-quota-monitor/internal/workers"
	"github.com/akagifreeez/deepl-quota-monitor/pkg/crypto"
	"github.com/akagifreeez/deepl-quota-monitor/pkg/database"
	"github.com/akagifreeez/deepl-quota-monitor/pkg/deeplapi"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting DeepL Quota Monitor")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("Migrations completed successfully")

	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid encryption key")
	}

	// Provider rate limiting: shared fixed window when Redis is configured,
	// in-process token bucket otherwise.
	var limiter deeplapi.Limiter
	if cfg.RedisURL != "" {
		redisLimiter, err := deeplapi.NewRateLimiter(cfg.RedisURL, cfg.ProviderRateLimit, "deepl_api:rate_limit")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Redis rate limiter, falling back to local limiter")
		} else {
			limiter = redisLimiter
			defer redisLimiter.Close()
		}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.ProviderRateLimit)/60), 1)
	}

	provider := deeplapi.NewClient(cfg.FreeBaseURL, cfg.ProBaseURL, cfg.ProviderTimeout, limiter)

	// Initialize services
	registry := services.NewRegistry(db, cipher, cfg.MinQueryInterval, cfg.DefaultQueryInterval)
	store := services.NewUsageStore(db)
	aggregator := services.NewAggregator(store, cfg.Location())

	// Start per-group polling tasks
	poller := workers.NewGroupPoller(registry, store, provider, cfg.MaxConcurrentChecks)
	if err := poller.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start group poller")
	}

	// Initialize handlers
	usageHandler := handlers.NewUsageHandler(registry, store, aggregator)
	groupHandler := handlers.NewGroupHandler(registry, poller)
	keyHandler := handlers.NewKeyHandler(registry)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/summary", usageHandler.GetSummary)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", groupHandler.ListGroups)
			r.Post("/", groupHandler.CreateGroup)
			r.Put("/{id}", groupHandler.UpdateGroup)
			r.Delete("/{id}", groupHandler.DeleteGroup)
			r.Post("/{id}/check-now", groupHandler.CheckNow)
		})

		r.Route("/keys", func(r chi.Router) {
			r.Post("/", keyHandler.CreateKey)
			r.Post("/bulk", keyHandler.CreateKeysBulk)
			r.Get("/{id}", usageHandler.GetKeyDetails)
			r.Put("/{id}", keyHandler.UpdateKey)
			r.Delete("/{id}", keyHandler.DeleteKey)
			r.Get("/{id}/usage", usageHandler.GetUsage)
		})

		r.Get("/scheduler/status", groupHandler.SchedulerStatus)
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		poller.StopAll()
		cancel()
	}()

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}
