package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lostradar/lostradar/internal/handlers"
	"github.com/lostradar/lostradar/internal/services"
	"github.com/lostradar/lostradar/internal/storage"
	"github.com/lostradar/lostradar/internal/vectorstore"
)

func main() {
	// Setup logger
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("LOG_DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	config := loadConfig()

	log.Info().
		Str("host", config.Host).
		Str("port", config.Port).
		Msg("Starting lostradar server")

	log.Info().Msg("Initializing object store...")
	objectStore, err := storage.NewObjectStore(
		config.MinIOEndpoint,
		config.MinIOPublicEndpoint,
		config.MinIOAccessKey,
		config.MinIOSecretKey,
		config.MinIOBucket,
		config.MinIOUseSSL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize object store")
	}

	log.Info().Msg("Initializing metadata store...")
	metadataStore, err := storage.NewMetadataStore(
		config.DBHost,
		config.DBPort,
		config.DBUser,
		config.DBPassword,
		config.DBName,
		config.DBSSLMode,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metadata store")
	}
	defer metadataStore.Close()

	log.Info().Msg("Initializing vector store client...")
	vectorClient, err := vectorstore.NewClient(vectorstore.Config{
		Address:    config.QdrantAddress,
		Collection: config.QdrantCollection,
		Dimension:  uint64(config.EmbeddingDim),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vector store client")
	}
	defer vectorClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := vectorClient.EnsureCollection(ctx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to ensure vector collection")
	}
	cancel()

	log.Info().Msg("Initializing embedding client...")
	embedder := services.NewEmbeddingClient(config.EmbedAPIURL, config.EmbedAPIKey, config.EmbeddingDim)

	var events services.EventPublisher
	var publisher *services.RabbitMQPublisher
	if config.RabbitMQURL != "" {
		log.Info().Msg("Initializing RabbitMQ publisher...")
		publisher, err = services.NewRabbitMQPublisher(config.RabbitMQURL, config.RabbitMQExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ publisher")
		}
		defer publisher.Close()
		events = publisher
	} else {
		log.Warn().Msg("RABBITMQ_URL not set, lifecycle events disabled")
	}

	statusTracker := services.NewMemoryStatusTracker(config.StatusRetention)
	defer statusTracker.Close()

	pool := services.NewPool(config.WorkerCount)

	ingestCoordinator := services.NewIngestionCoordinator(
		objectStore,
		embedder,
		vectorClient,
		metadataStore,
		statusTracker,
		pool,
		events,
	)
	searchCoordinator := services.NewSearchCoordinator(embedder, vectorClient, metadataStore)

	checks := map[string]handlers.HealthChecker{
		"minio":    objectStore.HealthCheck,
		"postgres": metadataStore.HealthCheck,
		"qdrant":   vectorClient.HealthCheck,
	}
	if publisher != nil {
		checks["rabbitmq"] = func(context.Context) error { return publisher.HealthCheck() }
	}

	handler := handlers.NewHandler(
		ingestCoordinator,
		searchCoordinator,
		statusTracker,
		metadataStore,
		vectorClient,
		handlers.HeaderAuthenticator{},
		checks,
	)

	router := setupRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", srv.Addr).Msg("Server starting...")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain in-flight ingestions so no upload is left half-indexed.
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Background tasks did not drain in time")
	}

	log.Info().Msg("Server exited gracefully")
}

type Config struct {
	Host                string
	Port                string
	MinIOEndpoint       string
	MinIOPublicEndpoint string
	MinIOAccessKey      string
	MinIOSecretKey      string
	MinIOBucket         string
	MinIOUseSSL         bool
	DBHost              string
	DBPort              string
	DBUser              string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	QdrantAddress       string
	QdrantCollection    string
	EmbeddingDim        int
	EmbedAPIURL         string
	EmbedAPIKey         string
	RabbitMQURL         string
	RabbitMQExchange    string
	StatusRetention     time.Duration
	WorkerCount         int
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		Host:                getEnv("SERVER_HOST", "0.0.0.0"),
		Port:                getEnv("SERVER_PORT", "8080"),
		MinIOEndpoint:       getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOPublicEndpoint: getEnv("MINIO_PUBLIC_ENDPOINT", ""),
		MinIOAccessKey:      getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:      getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucket:         getEnv("MINIO_BUCKET_NAME", "item-images"),
		MinIOUseSSL:         getEnv("MINIO_USE_SSL", "false") == "true",
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", "postgres"),
		DBName:              getEnv("DB_NAME", "postgres"),
		DBSSLMode:           getEnv("DB_SSL_MODE", "disable"),
		QdrantAddress:       getEnv("QDRANT_ADDRESS", "localhost:6334"),
		QdrantCollection:    getEnv("QDRANT_COLLECTION", "lost_found_items"),
		EmbeddingDim:        getEnvInt("EMBEDDING_DIM", 512),
		EmbedAPIURL:         getEnv("EMBED_API_URL", "http://localhost:8090"),
		EmbedAPIKey:         getEnv("EMBED_API_KEY", ""),
		RabbitMQURL:         getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:    getEnv("RABBITMQ_EXCHANGE", "lostradar.events"),
		StatusRetention:     getEnvDuration("STATUS_RETENTION", time.Hour),
		WorkerCount:         getEnvInt("WORKER_COUNT", 4),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// setupRouter configures all routes and middleware
func setupRouter(h *handlers.Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload", h.UploadHandler).Methods("POST")
	api.HandleFunc("/status", h.StatusHandler).Methods("GET")
	api.HandleFunc("/search/image", h.SearchImageHandler).Methods("POST")
	api.HandleFunc("/search/text", h.SearchTextHandler).Methods("POST")
	api.HandleFunc("/delete", h.DeleteHandler).Methods("POST")
	api.HandleFunc("/items", h.ListItemsHandler).Methods("GET")
	api.HandleFunc("/items/mine", h.MyItemsHandler).Methods("GET")

	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	log.Info().Msg("Routes configured successfully")
	return r
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
