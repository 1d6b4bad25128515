// Package config provides configuration for the fedchat client and server.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ClientConfig holds the chat client configuration.
type ClientConfig struct {
	// Origin of the chat service, e.g. https://fedreg.example.org.
	// The realtime endpoint is derived from it.
	Origin string

	// Realtime settings
	ReconnectDelay   time.Duration
	PendingTimeout   time.Duration // 0 disables placeholder expiry
	HandshakeTimeout time.Duration

	// Logging
	LogLevel string
}

// ServerConfig holds the chat server configuration.
type ServerConfig struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Tools listed here are blocked by the default tool policy.
	BlockedTools string
	ToolTimeout  time.Duration

	// Federal Register API used by the ingest pipeline
	FederalRegisterURL string
	FetchInterval      time.Duration

	// Logging
	LogLevel string
}

// LoadDotEnv loads a .env file from the working directory when one exists.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
}

// LoadClient loads client configuration from environment variables.
func LoadClient() *ClientConfig {
	return &ClientConfig{
		Origin:           getEnv("FEDCHAT_ORIGIN", "http://localhost:8000"),
		ReconnectDelay:   time.Duration(getEnvInt("FEDCHAT_RECONNECT_MS", 3000)) * time.Millisecond,
		PendingTimeout:   time.Duration(getEnvInt("FEDCHAT_PENDING_TIMEOUT_MS", 0)) * time.Millisecond,
		HandshakeTimeout: time.Duration(getEnvInt("FEDCHAT_HANDSHAKE_TIMEOUT_MS", 10000)) * time.Millisecond,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
}

// LoadServer loads server configuration from environment variables.
func LoadServer() *ServerConfig {
	return &ServerConfig{
		HTTPPort:       getEnvInt("FEDCHAT_HTTP_PORT", 8000),
		DatabaseURL:    getEnv("FEDCHAT_DATABASE_URL", "file:fedchat.db?cache=shared&mode=rwc"),
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		BlockedTools:   getEnv("FEDCHAT_BLOCKED_TOOLS", ""),
		ToolTimeout:    time.Duration(getEnvInt("FEDCHAT_TOOL_TIMEOUT_MS", 10000)) * time.Millisecond,
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		FederalRegisterURL: getEnv("FEDERAL_REGISTER_API_URL", "https://www.federalregister.gov/api/v1"),
		FetchInterval:      time.Duration(getEnvInt("FEDERAL_REGISTER_FETCH_INTERVAL_MS", 1000)) * time.Millisecond,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
