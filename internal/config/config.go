package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures backend runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"Rewards"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"json"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	RedisURL       string        `env:"REDIS_URL"`
	MigrateOnStart bool          `env:"MIGRATE_ON_START" envDefault:"true"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	JWTSecret      string        `env:"JWT_SECRET"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
	ResetTokenTTL  time.Duration `env:"RESET_TOKEN_TTL" envDefault:"15m"`
	LoginPerMinute int           `env:"LOGIN_ATTEMPTS_PER_MINUTE" envDefault:"5"`
	PasswordCost   int           `env:"PASSWORD_HASH_COST" envDefault:"10"`
	AdminPhones    []string      `env:"ADMIN_PHONES" envSeparator:","`

	CountryCode string `env:"COUNTRY_CODE" envDefault:"966"`
	OTP         OTP
}

// OTP holds challenge tuning. Cooldown and validity are independent.
type OTP struct {
	Validity    time.Duration `env:"OTP_VALIDITY" envDefault:"5m"`
	Cooldown    time.Duration `env:"OTP_COOLDOWN" envDefault:"60s"`
	Retention   time.Duration `env:"OTP_RETENTION" envDefault:"15m"`
	MaxAttempts int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	CodeLength  int           `env:"OTP_CODE_LENGTH" envDefault:"6"`
	HashCost    int           `env:"OTP_HASH_COST" envDefault:"10"`
}

const devJWTSecret = "dev-only-secret"

// Load reads configuration values from the environment and validates them.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the development configuration with every default applied,
// ignoring the process environment.
func Defaults() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	_ = cfg.Validate()
	return cfg
}

// Validate checks cross-field rules. Outside development the database,
// Redis and the signing secret are required; in development a missing secret
// falls back to a fixed value.
func (c *Config) Validate() error {
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.IsDevelopment() {
		if c.JWTSecret == "" {
			c.JWTSecret = devJWTSecret
		}
	} else {
		for name, v := range map[string]string{"DATABASE_URL": c.DatabaseURL, "REDIS_URL": c.RedisURL, "JWT_SECRET": c.JWTSecret} {
			if v == "" {
				return fmt.Errorf("config: %s must be set when APP_ENV=%s", name, c.AppEnv)
			}
		}
	}
	switch {
	case c.OTP.Validity <= 0:
		return fmt.Errorf("config: OTP_VALIDITY must be positive")
	case c.OTP.Cooldown < 0:
		return fmt.Errorf("config: OTP_COOLDOWN must not be negative")
	case c.OTP.MaxAttempts < 1:
		return fmt.Errorf("config: OTP_MAX_ATTEMPTS must be at least 1")
	case c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10:
		return fmt.Errorf("config: OTP_CODE_LENGTH must be between 4 and 10")
	case c.AccessTokenTTL <= 0 || c.ResetTokenTTL <= 0:
		return fmt.Errorf("config: token lifetimes must be positive")
	}
	return nil
}

// IsDevelopment reports whether the server runs with in-memory fallbacks.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// Client configures the client core: gateway location, session persistence
// and countdown cadence.
type Client struct {
	GatewayURL     string        `env:"GATEWAY_URL" envDefault:"http://localhost:8080/api/v1"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	SessionKey     string        `env:"SESSION_KEY" envDefault:"rewards-auth-session"`
	CountdownTick  time.Duration `env:"COUNTDOWN_TICK" envDefault:"1s"`
	RedisURL       string        `env:"REDIS_URL"`
	CountryCode    string        `env:"COUNTRY_CODE" envDefault:"966"`
}

// LoadClient reads the client configuration.
func LoadClient() (Client, error) {
	var c Client
	if err := env.Parse(&c); err != nil {
		return Client{}, fmt.Errorf("config: %w", err)
	}
	if c.GatewayURL == "" {
		return Client{}, fmt.Errorf("config: GATEWAY_URL must be set")
	}
	c.GatewayURL = strings.TrimRight(c.GatewayURL, "/")
	return c, nil
}
