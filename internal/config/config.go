package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/damoang/angple-social/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Config application configuration
type Config struct {
	Environment string         `yaml:"environment" env:"APP_ENV"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	JWT         JWTConfig      `yaml:"jwt"`
	CORS        CORSConfig     `yaml:"cors"`
	Chat        ChatConfig     `yaml:"chat"`
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig database settings. Driver is "mysql" or "sqlite".
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DB_DRIVER"`
	Host            string `yaml:"host" env:"DB_HOST"`
	Port            int    `yaml:"port" env:"DB_PORT"`
	User            string `yaml:"user" env:"DB_USER"`
	Password        string `yaml:"password" env:"DB_PASSWORD"`
	DBName          string `yaml:"dbname" env:"DB_NAME"`
	Path            string `yaml:"path" env:"DB_PATH"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
}

// GetDSN returns the MySQL DSN
func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig Redis settings
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     int    `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	PoolSize int    `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
}

// JWTConfig token settings (seconds)
type JWTConfig struct {
	Secret    string `yaml:"secret" env:"JWT_SECRET"`
	ExpiresIn int    `yaml:"expires_in" env:"JWT_EXPIRES_IN"`
	RefreshIn int    `yaml:"refresh_in" env:"JWT_REFRESH_IN"`
}

// CORSConfig comma-separated allowed origins
type CORSConfig struct {
	AllowOrigins string `yaml:"allow_origins" env:"CORS_ALLOW_ORIGINS"`
}

// ChatConfig realtime chat settings
type ChatConfig struct {
	EditWindow       time.Duration `yaml:"edit_window" env:"CHAT_EDIT_WINDOW"`
	Retention        time.Duration `yaml:"retention" env:"CHAT_RETENTION"`
	RetentionCron    string        `yaml:"retention_cron" env:"CHAT_RETENTION_CRON"`
	AuthTimeout      time.Duration `yaml:"auth_timeout" env:"CHAT_AUTH_TIMEOUT"`
	MaxBodyLength    int           `yaml:"max_body_length" env:"CHAT_MAX_BODY_LENGTH"`
	EventsPerSecond  float64       `yaml:"events_per_second" env:"CHAT_EVENTS_PER_SECOND"`
	EventBurst       int           `yaml:"event_burst" env:"CHAT_EVENT_BURST"`
	PresenceBackend  string        `yaml:"presence_backend" env:"CHAT_PRESENCE_BACKEND"`
	RESTRateLimitRPM int           `yaml:"rest_rate_limit_rpm" env:"CHAT_REST_RATE_LIMIT_RPM"`
}

// Default returns a config with every default filled in
func Default() *Config {
	return &Config{
		Environment: "local",
		Server: ServerConfig{
			Port:            8082,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "mysql",
			Host:            "localhost",
			Port:            3306,
			MaxIdleConns:    10,
			MaxOpenConns:    50,
			ConnMaxLifetime: 300,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 20,
		},
		JWT: JWTConfig{
			ExpiresIn: 900,
			RefreshIn: 604800,
		},
		Chat: ChatConfig{
			EditWindow:       5 * time.Minute,
			Retention:        24 * time.Hour,
			RetentionCron:    "* * * * *",
			AuthTimeout:      10 * time.Second,
			MaxBodyLength:    4000,
			EventsPerSecond:  20,
			EventBurst:       40,
			PresenceBackend:  "memory",
			RESTRateLimitRPM: 120,
		},
	}
}

// Load reads the YAML file at path (if present) over the defaults, then
// applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Chat.PresenceBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported presence backend %q", c.Chat.PresenceBackend)
	}
	if c.Chat.PresenceBackend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("presence_backend redis requires redis.enabled")
	}
	if c.Chat.EditWindow <= 0 || c.Chat.Retention <= 0 {
		return fmt.Errorf("chat.edit_window and chat.retention must be positive")
	}
	return nil
}

// IsDevelopment reports whether the app runs in a local/dev environment
func (c *Config) IsDevelopment() bool {
	switch c.Environment {
	case "", "local", "dev", "development":
		return true
	}
	return false
}

// LogResolved logs the effective configuration without secrets
func LogResolved(c *Config) {
	logger.GetLogger().Info().
		Str("env", c.Environment).
		Int("port", c.Server.Port).
		Str("db_driver", c.Database.Driver).
		Str("db_host", c.Database.Host).
		Bool("redis", c.Redis.Enabled).
		Str("presence_backend", c.Chat.PresenceBackend).
		Dur("edit_window", c.Chat.EditWindow).
		Dur("retention", c.Chat.Retention).
		Str("retention_cron", c.Chat.RetentionCron).
		Msg("config resolved")
}
