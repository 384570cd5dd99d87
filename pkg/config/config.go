package config

import (
	"fmt"
	"time"
)

// Resource names accepted in shutdown.order.
const (
	ResourceDatabase  = "database"
	ResourceRedis     = "redis"
	ResourceQueue     = "queue"
	ResourceWorker    = "worker"
	ResourceWebSocket = "websocket"
	ResourceChild     = "child"
)

// DefaultShutdownOrder stops the worker, closes storage, then the socket layer, then child processes.
var DefaultShutdownOrder = []string{
	ResourceWorker,
	ResourceDatabase,
	ResourceRedis,
	ResourceQueue,
	ResourceWebSocket,
	ResourceChild,
}

// Config holds runtime configuration for the shutdown sequencer daemon.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Child     ChildConfig     `mapstructure:"child"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gte=0"`
}

// ShutdownConfig controls the graceful shutdown session.
type ShutdownConfig struct {
	Deadline time.Duration `mapstructure:"deadline" validate:"gt=0"`
	Order    []string      `mapstructure:"order" validate:"unique,dive,oneof=worker database redis queue websocket child"`
}

type LoggerConfig struct {
	Level  string     `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string     `mapstructure:"format" validate:"oneof=json text"`
	File   FileConfig `mapstructure:"file"`
}

// FileConfig enables a rotated log file next to stdout.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

type SentryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DSN          string        `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment  string        `mapstructure:"environment"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout" validate:"gte=0"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	User     string `mapstructure:"user" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required_if=Enabled true"`
	SSLMode  string `mapstructure:"sslmode"`

	// Migrations is a directory of *.up.sql files applied at startup; empty skips them.
	Migrations string `mapstructure:"migrations"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int           `mapstructure:"min_idle_conns" validate:"gte=0"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// QueueConfig enables the asynq client; it shares the Redis address.
type QueueConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WorkerConfig enables the asynq task processor; it shares the Redis address.
type WorkerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

type WebSocketConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// ChildConfig describes an optional helper process started alongside the daemon.
type ChildConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Command string   `mapstructure:"command" validate:"required_if=Enabled true"`
	Args    []string `mapstructure:"args"`
}
