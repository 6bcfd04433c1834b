package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for the relay service
type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Redis    RedisConfig
	Transfer TransferConfig
	Remote   RemoteConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BackendConfig holds settings for the backend collaborator
// (credential authority and metadata store)
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RedisConfig holds Redis connection settings for the optional
// Redis-backed chunk store
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// TransferConfig holds upload pipeline settings
type TransferConfig struct {
	UploadDir        string
	SmallObjectLimit int64
	BlockSize        int64
	Workers          int
	QueueSize        int
	ChunkStore       string // memory, redis
	ChunkSessionTTL  time.Duration
	ChunkSweepEvery  time.Duration
	CredentialTTL    time.Duration
}

// RemoteConfig holds remote object store addressing
type RemoteConfig struct {
	SmallObjectEndpoint string
	SessionEndpoint     string
	Timeout             time.Duration
	RequestsPerSecond   float64
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
	File  string // when set, logs rotate via lumberjack
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 10000),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 5*time.Minute),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Minute),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Backend: BackendConfig{
			BaseURL: getEnv("BACKEND_URL", "http://localhost:8001"),
			Timeout: getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Transfer: TransferConfig{
			UploadDir:        getEnv("UPLOAD_DIR", "/tmp/uploads"),
			SmallObjectLimit: getEnvInt64("SMALL_OBJECT_LIMIT", 50*1024*1024),
			BlockSize:        getEnvInt64("TRANSFER_BLOCK_SIZE", 1024*1024),
			Workers:          getEnvInt("TRANSFER_WORKERS", 4),
			QueueSize:        getEnvInt("TRANSFER_QUEUE_SIZE", 64),
			ChunkStore:       getEnv("CHUNK_STORE", "memory"),
			ChunkSessionTTL:  getEnvDuration("CHUNK_SESSION_TTL", 24*time.Hour),
			ChunkSweepEvery:  getEnvDuration("CHUNK_SWEEP_INTERVAL", time.Hour),
			CredentialTTL:    getEnvDuration("CREDENTIAL_TTL", time.Hour),
		},
		Remote: RemoteConfig{
			SmallObjectEndpoint: getEnv("REMOTE_SMALL_OBJECT_ENDPOINT", "https://store.example.com/api"),
			SessionEndpoint:     getEnv("REMOTE_SESSION_ENDPOINT", "https://store.example.com/session"),
			Timeout:             getEnvDuration("REMOTE_TIMEOUT", 5*time.Minute),
			RequestsPerSecond:   getEnvFloat("REMOTE_REQUESTS_PER_SECOND", 10),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Helper functions for environment variable parsing
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
