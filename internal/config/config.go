// Package config loads coordinator configuration from a TOML file, then
// environment variables, following the teacher's defaults -> file ->
// env -> normalize pipeline.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/r3e-network/rebuildverify/internal/logging"
)

// HTTPConfig controls the HTTP listener.
type HTTPConfig struct {
	BindAddr                      string `toml:"bind_addr" env:"HTTP_ADDR"`
	Endpoint                      string `toml:"endpoint" env:"HTTP_ENDPOINT"`
	RealIPHeader                  string `toml:"real_ip_header" env:"HTTP_REAL_IP_HEADER"`
	PostBodySizeLimit             int64  `toml:"post_body_size_limit" env:"HTTP_POST_BODY_SIZE_LIMIT"`
	TransparentlySignAttestations bool   `toml:"transparently_sign_attestations" env:"HTTP_TRANSPARENTLY_SIGN_ATTESTATIONS"`
}

// DatabaseConfig controls the embedded store.
type DatabaseConfig struct {
	Path           string `toml:"path" env:"DATABASE_PATH"`
	MaxOpenConns   int    `toml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MigrateOnStart bool   `toml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// AuthConfig controls the admin cookie.
type AuthConfig struct {
	Cookie     string `toml:"cookie" env:"AUTH_COOKIE"`
	CookiePath string `toml:"cookie_path" env:"REBUILDERD_COOKIE_PATH"`
}

// WorkerConfig controls worker signup/allow-listing.
type WorkerConfig struct {
	AuthorizedWorkers []string `toml:"authorized_workers"`
	SignupSecret      string   `toml:"signup_secret" env:"WORKER_SIGNUP_SECRET"`
}

// ScheduleConfig controls retry back-off.
type ScheduleConfig struct {
	RetryDelayBase int `toml:"retry_delay_base" env:"SCHEDULE_RETRY_DELAY_BASE"`
	MaxRetries     int `toml:"max_retries" env:"SCHEDULE_MAX_RETRIES"`
	InitialDelay   int `toml:"initial_delay" env:"SCHEDULE_INITIAL_DELAY"`
}

// EndpointConfig is a named endpoint override (distinct admin cookie per mount point).
type EndpointConfig struct {
	Cookie string `toml:"cookie"`
}

// RedisConfig controls the optional v0 dashboard cache.
type RedisConfig struct {
	Addr    string `toml:"addr" env:"REDIS_ADDR"`
	Enabled bool   `toml:"enabled" env:"REDIS_ENABLED"`
}

// Config is the top-level coordinator configuration.
type Config struct {
	HTTP      HTTPConfig                `toml:"http"`
	Database  DatabaseConfig            `toml:"database"`
	Logging   logging.Config            `toml:"logging"`
	Auth      AuthConfig                `toml:"auth"`
	Worker    WorkerConfig              `toml:"worker"`
	Schedule  ScheduleConfig            `toml:"schedule"`
	Endpoints map[string]EndpointConfig `toml:"endpoints"`
	Redis     RedisConfig               `toml:"redis"`

	SigningKeyPath string `toml:"-" env:"REBUILDERD_SIGNING_KEY"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		HTTP: HTTPConfig{
			BindAddr:                      "127.0.0.1:8484",
			PostBodySizeLimit:             1 << 30, // 1 GiB
			TransparentlySignAttestations: true,
		},
		Database: DatabaseConfig{
			Path:           "rebuilderd.db",
			MaxOpenConns:   1, // single-writer embedded store
			MigrateOnStart: true,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Schedule: ScheduleConfig{
			RetryDelayBase: 1,
			MaxRetries:     0, // unlimited
			InitialDelay:   0,
		},
		Endpoints: map[string]EndpointConfig{},
		SigningKeyPath: "rebuilderd.sign.key",
	}
}

// Load loads configuration from the given TOML file path (if non-empty and
// present) and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if strings.TrimSpace(path) != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if c.Auth.CookiePath == "" {
		c.Auth.CookiePath = "rebuilderd.cookie"
	}
	if c.Endpoints == nil {
		c.Endpoints = map[string]EndpointConfig{}
	}
}

// Validate reports the first configuration error found, used by --check-config.
func (c *Config) Validate() error {
	if c.HTTP.BindAddr == "" {
		return fmt.Errorf("http.bind_addr must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Schedule.RetryDelayBase < 0 {
		return fmt.Errorf("schedule.retry_delay_base must be >= 0")
	}
	if c.Schedule.MaxRetries < 0 {
		return fmt.Errorf("schedule.max_retries must be >= 0")
	}
	return nil
}
