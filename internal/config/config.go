package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Agent relay endpoints. AgentEndpoint is the primary (proxy) URL the
	// relay posts to; DirectEndpoint is the fallback hit when the primary
	// is unreachable.
	AgentEndpoint  string
	DirectEndpoint string

	// Relay behavior
	RelayTimeoutMs  int
	PollIntervalMs  int
	PollTimeoutMs   int
	RelayRPM        int
	MessageLimit    int
	PendingReplyTTL int // seconds a callback reply is held for polling

	// Widget embed tokens
	EmbedSecret   string
	EmbedTokenTTL string

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Housekeeping
	ConversationMaxAgeDays int
	CleanupCron            string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/milna"),
		DBName:      getEnv("DB_NAME", "milna"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "*"), ","),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AgentEndpoint:  getEnv("AGENT_ENDPOINT", ""),
		DirectEndpoint: getEnv("DIRECT_ENDPOINT", ""),

		RelayTimeoutMs:  getEnvInt("RELAY_TIMEOUT_MS", 10000),
		PollIntervalMs:  getEnvInt("POLL_INTERVAL_MS", 2000),
		PollTimeoutMs:   getEnvInt("POLL_TIMEOUT_MS", 30000),
		RelayRPM:        getEnvInt("RELAY_RPM", 300),
		MessageLimit:    getEnvInt("MESSAGE_LIMIT", 100),
		PendingReplyTTL: getEnvInt("PENDING_REPLY_TTL", 300),

		EmbedSecret:   getEnv("EMBED_SECRET", ""),
		EmbedTokenTTL: getEnv("EMBED_TOKEN_TTL", "720h"),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		ConversationMaxAgeDays: getEnvInt("CONVERSATION_MAX_AGE_DAYS", 90),
		CleanupCron:            getEnv("CLEANUP_CRON", "0 3 * * *"),
	}

	// Validate required fields
	if cfg.AgentEndpoint == "" {
		return nil, fmt.Errorf("AGENT_ENDPOINT is required - set it in .env file")
	}

	if cfg.EmbedSecret == "" {
		return nil, fmt.Errorf("EMBED_SECRET is required - set it in .env file")
	}

	return cfg, nil
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
