package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// EMPI
	StoreDriver          string
	EMPINumberPrefix     string
	EMPINumberSuffixLen  int
	EMPIGenerateAttempts int
	EMPIEventsEnabled    bool
	EMPIEventTopic       string
	EMPICacheTTL         time.Duration
	AuthorityCatalogPath string

	// OIDC
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string

	// API
	APIRequestTimeout time.Duration
	APIRateLimitRPS   int
	APIRateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "empi"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "empi123"),
		PostgresDB:       getEnv("POSTGRES_DB", "empi"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "empi-service"),

		StoreDriver:          getEnv("EMPI_STORE", "postgres"),
		EMPINumberPrefix:     getEnv("EMPI_NUMBER_PREFIX", "EMPI"),
		EMPINumberSuffixLen:  getIntEnv("EMPI_NUMBER_SUFFIX_LEN", 8),
		EMPIGenerateAttempts: getIntEnv("EMPI_GENERATE_ATTEMPTS", 5),
		EMPIEventsEnabled:    getBoolEnv("EMPI_EVENTS_ENABLED", false),
		EMPIEventTopic:       getEnv("EMPI_EVENT_TOPIC", "empi.identity.events"),
		EMPICacheTTL:         getDuration("EMPI_CACHE_TTL", 5*time.Minute),
		AuthorityCatalogPath: getEnv("AUTHORITY_CATALOG_PATH", ""),

		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),

		APIRequestTimeout: getDuration("API_REQUEST_TIMEOUT", 10*time.Second),
		APIRateLimitRPS:   getIntEnv("API_RATE_LIMIT_RPS", 50),
		APIRateLimitBurst: getIntEnv("API_RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
