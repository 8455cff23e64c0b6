package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Host            string        `mapstructure:"HOST"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	Store           string        `mapstructure:"STORE"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBSchema        string        `mapstructure:"DB_SCHEMA"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	MaxConnections  int           `mapstructure:"MAX_CONNECTIONS"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	IdleTimeout     time.Duration `mapstructure:"IDLE_TIMEOUT"`
	MaxFrameBytes   int           `mapstructure:"MAX_FRAME_BYTES"`
	OpsPort         string        `mapstructure:"OPS_PORT"`

	SessionSigningKey   string        `mapstructure:"SESSION_SIGNING_KEY"`
	SessionTTL          time.Duration `mapstructure:"SESSION_TTL"`
	RequireSessionToken bool          `mapstructure:"REQUIRE_SESSION_TOKEN"`

	RescheduleChecksAvailability bool `mapstructure:"RESCHEDULE_CHECKS_AVAILABILITY"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	BcryptCost int `mapstructure:"BCRYPT_COST"`
}

var keys = []string{
	"PORT", "HOST", "ENV", "LOG_LEVEL", "STORE",
	"DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MAX_CONNECTIONS", "SHUTDOWN_TIMEOUT", "REQUEST_TIMEOUT", "IDLE_TIMEOUT", "MAX_FRAME_BYTES",
	"OPS_PORT",
	"SESSION_SIGNING_KEY", "SESSION_TTL", "REQUIRE_SESSION_TOKEN",
	"RESCHEDULE_CHECKS_AVAILABILITY",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"BCRYPT_COST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("HOST", "")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MAX_CONNECTIONS", 100)
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("REQUEST_TIMEOUT", "0s")
	v.SetDefault("IDLE_TIMEOUT", "0s")
	v.SetDefault("MAX_FRAME_BYTES", 1<<20)
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("KAFKA_TOPIC", "ths.events")
	v.SetDefault("BCRYPT_COST", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.KafkaBrokers) == 1 && strings.Contains(cfg.KafkaBrokers[0], ",") {
		cfg.KafkaBrokers = strings.Split(cfg.KafkaBrokers[0], ",")
	}
	brokers := cfg.KafkaBrokers[:0]
	for _, b := range cfg.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.KafkaBrokers = brokers
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if cfg.IsDev() && !cfg.RequireSessionToken {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: REQUIRE_SESSION_TOKEN is off; actorId is trusted as sent.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ListenAddr is the RPC listener address.
func (c *Config) ListenAddr() string {
	return c.Host + ":" + c.Port
}

// OpsAddr is the ops HTTP address, or "" when the ops server is disabled.
func (c *Config) OpsAddr() string {
	if c.OpsPort == "" {
		return ""
	}
	return c.Host + ":" + c.OpsPort
}

// SessionsEnabled reports whether LOGIN issues session tokens.
func (c *Config) SessionsEnabled() bool {
	return c.SessionSigningKey != ""
}

// Validate checks that the configuration is safe to run. The postgres store
// needs DATABASE_URL, and production or REQUIRE_SESSION_TOKEN needs a
// session signing key.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 0 and 65535, got %q", c.Port)
	}
	if c.OpsPort != "" {
		if p, err := strconv.Atoi(c.OpsPort); err != nil || p < 0 || p > 65535 {
			return fmt.Errorf("OPS_PORT must be a number between 0 and 65535, got %q", c.OpsPort)
		}
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("MAX_CONNECTIONS must be at least 1, got %d", c.MaxConnections)
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is %q", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	if c.RequireSessionToken && c.SessionSigningKey == "" {
		return fmt.Errorf("SESSION_SIGNING_KEY is required when REQUIRE_SESSION_TOKEN is true")
	}
	if c.IsProduction() && c.SessionSigningKey == "" {
		return fmt.Errorf("SESSION_SIGNING_KEY is required in production")
	}
	if c.SessionsEnabled() && c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.MaxFrameBytes < 0 || c.RequestTimeout < 0 || c.IdleTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("MAX_FRAME_BYTES and timeouts must not be negative")
	}
	return nil
}
