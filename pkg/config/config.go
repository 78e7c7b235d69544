package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path              string        `yaml:"path"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		MaxMessageBytes   int64         `yaml:"max_message_bytes"`
		SendBuffer        int           `yaml:"send_buffer"`
		MaxRoomMembers    int           `yaml:"max_room_members"` // 0 = unbounded
		AllowedOrigins    []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		Required  bool          `yaml:"required"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Directory struct {
		InstanceID          string        `yaml:"instance_id"`
		QueueSize           int           `yaml:"queue_size"`
		EventBus            bool          `yaml:"event_bus"`
		RetryAttempts       int           `yaml:"retry_attempts"`
		RetryInitialDelay   time.Duration `yaml:"retry_initial_delay"`
		BreakerMaxFailures  int           `yaml:"breaker_max_failures"`
		BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`
		CacheTTL            time.Duration `yaml:"cache_ttl"` // 0 disables read caching
	} `yaml:"directory"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if !strings.HasPrefix(c.Signal.Path, "/") {
		return fmt.Errorf("signal.path must start with '/'")
	}
	if c.Signal.HeartbeatInterval <= 0 {
		return fmt.Errorf("signal.heartbeat_interval must be > 0")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.MaxMessageBytes <= 0 {
		return fmt.Errorf("signal.max_message_bytes must be > 0")
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("signal.send_buffer must be > 0")
	}
	if c.Signal.MaxRoomMembers < 0 {
		return fmt.Errorf("signal.max_room_members must be >= 0")
	}

	// Auth
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.required=true")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Directory
	if c.Directory.QueueSize <= 0 {
		return fmt.Errorf("directory.queue_size must be > 0")
	}
	if c.Directory.RetryAttempts < 0 {
		return fmt.Errorf("directory.retry_attempts must be >= 0")
	}
	if c.Directory.CacheTTL < 0 {
		return fmt.Errorf("directory.cache_ttl must be >= 0")
	}
	if c.Directory.BreakerMaxFailures <= 0 {
		return fmt.Errorf("directory.breaker_max_failures must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":3000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.HeartbeatInterval = 30 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageBytes = 64 * 1024
	cfg.Signal.SendBuffer = 256
	cfg.Signal.MaxRoomMembers = 0
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.Required = false
	cfg.Auth.TokenTTL = 15 * time.Minute

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Directory.QueueSize = 1024
	cfg.Directory.EventBus = false
	cfg.Directory.RetryAttempts = 3
	cfg.Directory.RetryInitialDelay = 50 * time.Millisecond
	cfg.Directory.BreakerMaxFailures = 5
	cfg.Directory.BreakerResetTimeout = 30 * time.Second
	cfg.Directory.CacheTTL = time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// PORT and JWT_SECRET are the names the existing deployments set.
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Address = ":" + port
	}
	if addr := os.Getenv("ROOMSIGNAL_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("ROOMSIGNAL_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if required, err := strconv.ParseBool(os.Getenv("ROOMSIGNAL_AUTH_REQUIRED")); err == nil {
		c.Auth.Required = required
	}
	if level := os.Getenv("ROOMSIGNAL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if d, err := time.ParseDuration(os.Getenv("ROOMSIGNAL_HEARTBEAT_INTERVAL")); err == nil {
		c.Signal.HeartbeatInterval = d
	}
	if n, err := strconv.Atoi(os.Getenv("ROOMSIGNAL_MAX_ROOM_MEMBERS")); err == nil {
		c.Signal.MaxRoomMembers = n
	}
	if addr := os.Getenv("ROOMSIGNAL_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if id := os.Getenv("ROOMSIGNAL_INSTANCE_ID"); id != "" {
		c.Directory.InstanceID = id
	}
}
