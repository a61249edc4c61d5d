package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	CORSOrigins []string

	// Relational store: "mongo", "sqlite" or "postgres"
	StoreDriver string
	MongoURI    string
	DBName      string
	SQLDSN      string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// JWT access token secret
	AccessSecret string

	// Uploads
	UploadDir   string
	MaxFileSize int64

	// Embeddings configuration
	GeminiAPIKey          string
	EmbeddingsProvider    string // "google" (default), "hash"
	GoogleEmbeddingsModel string // e.g., "text-embedding-004"
	VectorDimensions      int
	VectorDBDir           string
	EmbedTimeout          time.Duration

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Retrieval
	SimilarityThreshold float64
	MaxChunks           int
	MaxContextLength    int
	AnswerProvider      string // "keyword" (default), "gemini"
	GeminiTier          string

	// Indexing: "async" runs through the asynq worker, "sync" inline
	IndexingMode string

	QueryCacheEnabled bool
	QueryCacheTTL     time.Duration

	MaintenanceCron string

	OTELEnabled  bool
	OTELEndpoint string
}

// DefaultConfig returns a configuration usable without any environment,
// backed by in-memory SQLite and the local hash embedder.
func DefaultConfig() *Config {
	return &Config{
		Port:                  "8080",
		GinMode:               "test",
		CORSOrigins:           []string{"http://localhost:3000"},
		StoreDriver:           "sqlite",
		DBName:                "school_copilot",
		SQLDSN:                ":memory:",
		RedisURL:              "localhost:6379",
		AccessSecret:          "test-access-secret-with-at-least-32-chars",
		UploadDir:             "./storage/documents",
		MaxFileSize:           52428800,
		EmbeddingsProvider:    "hash",
		GoogleEmbeddingsModel: "text-embedding-004",
		VectorDimensions:      384,
		VectorDBDir:           "data/vector_db",
		EmbedTimeout:          30 * time.Second,
		ChunkSize:             700,
		ChunkOverlap:          100,
		SimilarityThreshold:   0.7,
		MaxChunks:             5,
		MaxContextLength:      2000,
		AnswerProvider:        "keyword",
		GeminiTier:            "free",
		IndexingMode:          "sync",
		QueryCacheTTL:         time.Hour,
		MaintenanceCron:       "0 3 * * *",
		OTELEndpoint:          "localhost:4317",
	}
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "mongo")),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/school_copilot"),
		DBName:      getEnv("DB_NAME", "school_copilot"),
		SQLDSN:      getEnv("SQL_DSN", "school_copilot.db"),

		// Redis Configuration
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AccessSecret: getEnv("ACCESS_SECRET", ""),

		UploadDir:   getEnv("UPLOAD_DIR", "./storage/documents"),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB

		// Embeddings
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		EmbeddingsProvider:    strings.ToLower(getEnv("EMBEDDINGS_PROVIDER", "google")),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDimensions:      getEnvInt("VECTOR_DIM", 768),
		VectorDBDir:           getEnv("VECTOR_DB_DIR", "data/vector_db"),
		EmbedTimeout:          getEnvDuration("EMBED_TIMEOUT", 30*time.Second),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 700),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 100),

		SimilarityThreshold: getEnvFloat64("SIMILARITY_THRESHOLD", 0.7),
		MaxChunks:           getEnvInt("MAX_CHUNKS", 5),
		MaxContextLength:    getEnvInt("MAX_CONTEXT_LENGTH", 2000),
		AnswerProvider:      strings.ToLower(getEnv("ANSWER_PROVIDER", "keyword")),
		GeminiTier:          getEnv("GEMINI_TIER", "free"),

		IndexingMode: strings.ToLower(getEnv("INDEXING_MODE", "async")),

		QueryCacheEnabled: getEnvBool("QUERY_CACHE_ENABLED", false),
		QueryCacheTTL:     getEnvDuration("QUERY_CACHE_TTL", time.Hour),

		MaintenanceCron: getEnv("MAINTENANCE_CRON", "0 3 * * *"),

		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint: getEnv("OTEL_ENDPOINT", "localhost:4317"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.AccessSecret == "" {
		return fmt.Errorf("ACCESS_SECRET is required - set it in .env file")
	}
	if len(c.AccessSecret) < 32 {
		return fmt.Errorf("ACCESS_SECRET must be at least 32 characters")
	}

	if c.UsesGemini() && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when a gemini provider is selected - set it in .env file")
	}

	switch c.StoreDriver {
	case "mongo", "sqlite", "postgres":
	default:
		return fmt.Errorf("STORE_DRIVER must be one of mongo, sqlite, postgres (got %q)", c.StoreDriver)
	}

	switch c.IndexingMode {
	case "async", "sync":
	default:
		return fmt.Errorf("INDEXING_MODE must be async or sync (got %q)", c.IndexingMode)
	}

	if c.VectorDimensions <= 0 {
		return fmt.Errorf("VECTOR_DIM must be positive")
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in [0, 1]")
	}
	if c.MaxChunks <= 0 {
		return fmt.Errorf("MAX_CHUNKS must be positive")
	}

	return nil
}

// UsesGemini reports whether any configured provider calls the Gemini API
func (c *Config) UsesGemini() bool {
	return c.EmbeddingsProvider == "google" || c.AnswerProvider == "gemini"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
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
