package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries everything the terminal needs at startup. Values come from
// the environment, with defaults suitable for local development.
type Config struct {
	// HTTP server
	ServerAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Tenant session
	TenantID string
	NodeID   string

	// Remote backend
	RemoteBaseURL string
	RemoteAPIKey  string
	RemoteTimeout time.Duration

	// Change feed
	FeedBrokers []string
	FeedTopic   string

	// Local store
	StorePath string

	// Sync engine
	MaxRetries    int
	FlushInterval time.Duration

	// Connectivity probe (disabled when ProbeURL is empty)
	ProbeURL      string
	ProbeInterval time.Duration
}

func Load() Config {
	return Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8087"),
		ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),

		TenantID: getEnv("TENANT_ID", "demo-cafe"),
		NodeID:   getEnv("NODE_ID", ""),

		RemoteBaseURL: getEnv("REMOTE_BASE_URL", "http://localhost:8080"),
		RemoteAPIKey:  getEnv("REMOTE_API_KEY", ""),
		RemoteTimeout: getEnvDuration("REMOTE_TIMEOUT", 10*time.Second),

		FeedBrokers: []string{getEnv("KAFKA_BROKER", "localhost:9092")},
		FeedTopic:   getEnv("KAFKA_ORDERS_TOPIC", "pos.orders.changes"),

		StorePath: getEnv("STORE_PATH", "pos-terminal.db"),

		MaxRetries:    getEnvInt("SYNC_MAX_RETRIES", 5),
		FlushInterval: getEnvDuration("SYNC_FLUSH_INTERVAL", 30*time.Second),

		ProbeURL:      getEnv("PROBE_URL", ""),
		ProbeInterval: getEnvDuration("PROBE_INTERVAL", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
