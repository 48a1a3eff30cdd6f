package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	DatabaseURL     string
	DBMaxConns      int
	UseMemoryStores bool

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// LLM
	LLMProvider             string
	BedrockModelID          string
	BedrockEmbeddingModelID string
	EmbeddingDimensions     int
	GeminiAPIKey            string
	GeminiModelID           string
	LLMMaxTokens            int
	AgentTimeout            time.Duration
	OutboundTimeout         time.Duration

	// Instagram
	InstagramVerifyToken  string
	InstagramAppSecret    string
	InstagramGraphBaseURL string
	InstagramAccountsPath string

	// Extraction
	ExtractionBackend     string
	ExtractionQueueURL    string
	ExtractionWorkers     int
	ExtractionMaxAttempts int
	AsynqQueue            string
	JobsTable             string

	AdminJWTSecret      string
	AdminRateLimit      float64
	AdminRateBurst      int
	RetrieverTopK       int
	SessionHistoryLimit int
	UsageResetCron      string
	PlanCatalogPath     string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		DBMaxConns:      getEnvAsInt("DB_MAX_CONNS", 0),
		UseMemoryStores: getEnvAsBool("USE_MEMORY_STORES", false),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		LLMProvider:             strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModelID:          getEnv("BEDROCK_MODEL_ID", ""),
		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", ""),
		EmbeddingDimensions:     getEnvAsInt("EMBEDDING_DIMENSIONS", 0),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:           getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),
		LLMMaxTokens:            getEnvAsInt("LLM_MAX_TOKENS", 512),
		AgentTimeout:            getEnvAsDuration("AGENT_TIMEOUT", 20*time.Second),
		OutboundTimeout:         getEnvAsDuration("OUTBOUND_TIMEOUT", 10*time.Second),

		InstagramVerifyToken:  getEnv("INSTAGRAM_VERIFY_TOKEN", ""),
		InstagramAppSecret:    getEnv("INSTAGRAM_APP_SECRET", ""),
		InstagramGraphBaseURL: getEnv("INSTAGRAM_GRAPH_BASE_URL", "https://graph.instagram.com/v24.0"),
		InstagramAccountsPath: getEnv("INSTAGRAM_ACCOUNTS_PATH", ""),

		ExtractionBackend:     strings.ToLower(strings.TrimSpace(getEnv("EXTRACTION_BACKEND", "memory"))),
		ExtractionQueueURL:    getEnv("EXTRACTION_QUEUE_URL", ""),
		ExtractionWorkers:     getEnvAsInt("EXTRACTION_WORKERS", 2),
		ExtractionMaxAttempts: getEnvAsInt("EXTRACTION_MAX_ATTEMPTS", 3),
		AsynqQueue:            getEnv("ASYNQ_QUEUE", "extraction"),
		JobsTable:             getEnv("JOBS_TABLE", ""),

		AdminJWTSecret:      getEnv("ADMIN_JWT_SECRET", ""),
		AdminRateLimit:      getEnvAsFloat("ADMIN_RATE_LIMIT", 10),
		AdminRateBurst:      getEnvAsInt("ADMIN_RATE_BURST", 20),
		RetrieverTopK:       getEnvAsInt("RETRIEVER_TOP_K", 10),
		SessionHistoryLimit: getEnvAsInt("SESSION_HISTORY_LIMIT", 0),
		UsageResetCron:      getEnv("USAGE_RESET_CRON", "0 0 * * *"),
		PlanCatalogPath:     getEnv("PLAN_CATALOG_PATH", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
