// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the room chat service.
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Netflix/go-env"
	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	defaultPort            = ":8000"
	defaultOrigin          = "http://localhost:5173"
	defaultMaxMessageSize  = 4096
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultSendBufferSize  = 256
	defaultMaxRooms        = 8
	defaultShutdownTimeout = 10 * time.Second
	defaultLogLevel        = "INFO"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls
// and the room membership policy.
type Config struct {
	Port                  string
	AllowedOrigins        []string
	MaxMessageSize        int64
	RateLimit             RateLimitConfig
	SendBufferSize        int
	MaxRoomsPerConnection int
	RequireMembership     bool
	ShutdownTimeout       time.Duration
	LogLevel              string
}

// environment is the raw shape read from the process environment.
type environment struct {
	Port                    string        `env:"SERVER_PORT,default=:8000"`
	AllowedOrigins          string        `env:"ALLOWED_ORIGINS,default=http://localhost:5173"`
	MaxMessageSize          int           `env:"MAX_MESSAGE_SIZE,default=4096"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=5"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	SendBufferSize          int           `env:"SEND_BUFFER_SIZE,default=256"`
	MaxRoomsPerConnection   int           `env:"MAX_ROOMS_PER_CONNECTION,default=8"`
	RequireMembership       bool          `env:"REQUIRE_MEMBERSHIP,default=false"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel                string        `env:"LOG_LEVEL,default=INFO"`
}

var (
	configMu      sync.RWMutex
	activeConfig  Config
	activeOrigins originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port:           defaultPort,
		AllowedOrigins: []string{defaultOrigin},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		SendBufferSize:        defaultSendBufferSize,
		MaxRoomsPerConnection: defaultMaxRooms,
		ShutdownTimeout:       defaultShutdownTimeout,
		LogLevel:              defaultLogLevel,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	if cfg.MaxRoomsPerConnection < 0 {
		cfg.MaxRoomsPerConnection = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = defaultLogLevel
	}

	policy, origins, _ := newOriginPolicy(cfg.AllowedOrigins)
	cfg.AllowedOrigins = origins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	activeOrigins = policy

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	copied := *cfg
	copied.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(copied)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// CurrentConfig returns a copy of the active configuration.
func CurrentConfig() Config {
	return currentConfig()
}

// ChatOptions derives the membership policy of the chat core.
func (c Config) ChatOptions() chat.Options {
	return chat.Options{
		MaxRoomsPerConnection: c.MaxRoomsPerConnection,
		RequireMembership:     c.RequireMembership,
	}
}

// InvalidOrigins lists the configured origins that SetConfig will drop
// because they are not scheme://host[:port].
func (c Config) InvalidOrigins() []string {
	_, _, rejected := newOriginPolicy(c.AllowedOrigins)
	return rejected
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset variables take their defaults. Values that cannot be parsed are
// reported as an error.
func NewConfigFromEnv() (*Config, error) {
	var raw environment
	if _, err := env.UnmarshalFromEnviron(&raw); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return &Config{
		Port:           normalizePort(raw.Port),
		AllowedOrigins: parseOrigins(raw.AllowedOrigins),
		MaxMessageSize: int64(raw.MaxMessageSize),
		RateLimit: RateLimitConfig{
			Burst:          raw.RateLimitBurst,
			RefillInterval: raw.RateLimitRefillInterval,
		},
		SendBufferSize:        raw.SendBufferSize,
		MaxRoomsPerConnection: raw.MaxRoomsPerConnection,
		RequireMembership:     raw.RequireMembership,
		ShutdownTimeout:       raw.ShutdownTimeout,
		LogLevel:              strings.ToUpper(strings.TrimSpace(raw.LogLevel)),
	}, nil
}

// normalizePort accepts both "8000" and ":8000".
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
