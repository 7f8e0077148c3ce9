// Package config reads the hub's process configuration from the
// environment, in the teacher's style: plain env reads with typed
// defaults collected once at startup, no configuration library.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every knob the hub's process wiring needs.
type Config struct {
	HTTPPort string

	LogLevel  string
	LogPretty bool

	BrokerKind    string // "redis" or "nats"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSUrl       string
	NATSUser      string
	NATSPassword  string

	JWTSecret        string
	JWTIssuer        string
	ReconnectTTL     time.Duration
	HandshakeTimeout time.Duration

	DuplicatePingTimeout time.Duration

	WorkspaceReapInterval time.Duration
	StaleClientInterval   time.Duration
}

// Load reads Config from the environment, falling back to development
// defaults for anything unset.
func Load() *Config {
	return &Config{
		HTTPPort: getEnv("MSGHUB_HTTP_PORT", "8080"),

		LogLevel:  getEnv("MSGHUB_LOG_LEVEL", "info"),
		LogPretty: getEnv("MSGHUB_LOG_PRETTY", "false") == "true",

		BrokerKind:    getEnv("MSGHUB_BROKER", "redis"),
		RedisAddr:     getEnv("MSGHUB_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("MSGHUB_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("MSGHUB_REDIS_DB", 0),
		NATSUrl:       getEnv("MSGHUB_NATS_URL", "nats://localhost:4222"),
		NATSUser:      getEnv("MSGHUB_NATS_USER", ""),
		NATSPassword:  getEnv("MSGHUB_NATS_PASSWORD", ""),

		JWTSecret:        getEnv("MSGHUB_JWT_SECRET", ""),
		JWTIssuer:        getEnv("MSGHUB_JWT_ISSUER", "msghub"),
		ReconnectTTL:     getEnvDuration("MSGHUB_RECONNECT_TTL", 48*time.Hour),
		HandshakeTimeout: getEnvDuration("MSGHUB_HANDSHAKE_TIMEOUT", 10*time.Second),

		DuplicatePingTimeout: getEnvDuration("MSGHUB_DUPLICATE_PING_TIMEOUT", 3*time.Second),

		WorkspaceReapInterval: getEnvDuration("MSGHUB_WORKSPACE_REAP_INTERVAL", 5*time.Minute),
		StaleClientInterval:   getEnvDuration("MSGHUB_STALE_CLIENT_INTERVAL", 2*time.Minute),
	}
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
