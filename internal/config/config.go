package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Redis configuration (flags and notifications)
	Redis RedisConfig `env:",prefix=REDIS_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Matching configuration
	Matching MatchingConfig `env:",prefix=MATCHING_"`

	// Tracing configuration
	Tracing TracingConfig `env:",prefix=TRACING_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Driver   string `env:"DRIVER,default=postgres"` // postgres or memory
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=vaxmatch"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
}

// RedisConfig holds Redis configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr          string `env:"ADDR"`
	Password      string `env:"PASSWORD"`
	DB            int    `env:"DB,default=0"`
	FlagPrefix    string `env:"FLAG_PREFIX,default=vaxmatch:flags:"`
	NotifyChannel string `env:"NOTIFY_CHANNEL,default=vaxmatch.campaigns.created"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT"` // json or console; empty picks console in development
	Debug       bool   `env:"DEBUG,default=false"`
	PolicyFile  string `env:"POLICY_FILE"`

	// Feature flags used when Redis is not configured.
	AlgoV3    bool `env:"FLAG_ALGO_V3,default=true"`
	RankingV2 bool `env:"FLAG_RANKING_V2,default=false"`
}

// MatchingConfig holds match lifecycle and background worker settings
type MatchingConfig struct {
	MatchTTL           time.Duration `env:"MATCH_TTL,default=15m"`
	ProjectionInterval time.Duration `env:"PROJECTION_INTERVAL,default=1m"`
	CompletionInterval time.Duration `env:"COMPLETION_INTERVAL,default=5m"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled    bool   `env:"ENABLED,default=false"`
	OutputFile string `env:"OUTPUT_FILE"`
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// UseMemory reports whether the in-process store was requested
func (c *DatabaseConfig) UseMemory() bool {
	return c.Driver == "memory"
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Enabled reports whether a Redis address was configured
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
