package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Push      PushConfig      `yaml:"push"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// PushConfig holds the VAPID keys and delivery tuning for web push.
type PushConfig struct {
	PublicKey           string        `yaml:"vapid_public_key"`
	PrivateKey          string        `yaml:"vapid_private_key"`
	Subject             string        `yaml:"subject"`
	TTL                 int           `yaml:"ttl"`
	SendTimeoutSeconds  int           `yaml:"send_timeout_seconds"`
	SendTimeout         time.Duration `yaml:"-"` // Ignored by YAML parser
	PrefCacheTTLSeconds int           `yaml:"pref_cache_ttl_seconds"`
}

// SchedulerConfig holds the periodic sweep configuration.
type SchedulerConfig struct {
	SweepIntervalSeconds int           `yaml:"sweep_interval_seconds"`
	SweepInterval        time.Duration `yaml:"-"`
	BatchSize            int           `yaml:"batch_size"`
}

// CleanupConfig holds the stale-subscription cleanup configuration.
type CleanupConfig struct {
	IntervalHours int           `yaml:"interval_hours"`
	Interval      time.Duration `yaml:"-"`
	MaxAgeDays    int           `yaml:"max_age_days"`
}

// RedisConfig holds the optional advisory-lock configuration. When Addr is
// empty the sweep runs without the cross-instance lock.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	LockKey        string `yaml:"lock_key"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// AuthConfig holds the JWT verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.Push.SendTimeoutSeconds <= 0 {
		cfg.Push.SendTimeoutSeconds = 10
	}
	cfg.Push.SendTimeout = time.Duration(cfg.Push.SendTimeoutSeconds) * time.Second

	if cfg.Push.PrefCacheTTLSeconds <= 0 {
		cfg.Push.PrefCacheTTLSeconds = 60
	}

	if cfg.Scheduler.SweepIntervalSeconds <= 0 {
		cfg.Scheduler.SweepIntervalSeconds = 60
	}
	cfg.Scheduler.SweepInterval = time.Duration(cfg.Scheduler.SweepIntervalSeconds) * time.Second
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 100
	}

	if cfg.Cleanup.IntervalHours <= 0 {
		cfg.Cleanup.IntervalHours = 24
	}
	cfg.Cleanup.Interval = time.Duration(cfg.Cleanup.IntervalHours) * time.Hour
	if cfg.Cleanup.MaxAgeDays <= 0 {
		cfg.Cleanup.MaxAgeDays = 90
	}

	if cfg.Redis.LockKey == "" {
		cfg.Redis.LockKey = "pushrelay:sweep:lock"
	}
	if cfg.Redis.LockTTLSeconds <= 0 {
		cfg.Redis.LockTTLSeconds = 120
	}

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Auth.JWTSecret == "" {
		log.Printf("auth.jwt_secret is not set; authenticated endpoints will reject all requests")
	}

	return &cfg, nil
}
