package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"azbuka/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App     AppConfig     `yaml:"app"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Sync    SyncConfig    `yaml:"sync"`
	Remote  RemoteConfig  `yaml:"remote"`
	Network NetworkConfig `yaml:"network"`
	Admin   AdminConfig   `yaml:"admin"`
	Backup  BackupConfig  `yaml:"backup"`
	Logging LoggingConfig `yaml:"logging"`
}

// Duration accepts "30s" / "10m" style YAML values.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type StorageConfig struct {
	Backend string      `yaml:"backend"` // sqlite | redis | memory
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type CacheConfig struct {
	SweepInterval Duration `yaml:"sweep_interval"`
}

type SyncConfig struct {
	Interval        Duration `yaml:"interval"`
	MaxRetries      int      `yaml:"max_retries"`
	DispatchTimeout Duration `yaml:"dispatch_timeout"`
	Concurrency     int      `yaml:"concurrency"`
	DeadLetterLimit int      `yaml:"dead_letter_limit"`
	RateRPS         float64  `yaml:"rate_rps"`
	RateBurst       int      `yaml:"rate_burst"`
}

type RemoteConfig struct {
	BaseURL           string            `yaml:"base_url"`
	Timeout           Duration          `yaml:"timeout"`
	HealthPath        string            `yaml:"health_path"`
	Token             string            `yaml:"token"`
	OAuth             OAuthConfig       `yaml:"oauth"`
	Routes            map[string]string `yaml:"routes"`
	PermanentStatuses []int             `yaml:"permanent_statuses"`
}

type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

func (o OAuthConfig) Configured() bool {
	return o.TokenURL != "" && o.ClientID != ""
}

type NetworkConfig struct {
	ProbeInterval Duration `yaml:"probe_interval"`
	AssumeOffline bool     `yaml:"assume_offline"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage path is required for sqlite backend")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return errors.New("redis address is required for redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if c.Remote.Token != "" && c.Remote.OAuth.Configured() {
		return errors.New("remote token and oauth are mutually exclusive")
	}

	if c.Sync.MaxRetries <= 0 {
		return errors.New("sync max_retries must be positive")
	}
	if c.Sync.Concurrency <= 0 {
		return errors.New("sync concurrency must be positive")
	}

	return ValidateRoutes(c.Remote.Routes)
}

// ValidateRoutes checks that every route path is non-empty and absolute.
func ValidateRoutes(routes map[string]string) error {
	for kind, path := range routes {
		if kind == "" {
			return errors.New("route with empty kind")
		}
		if path == "" || path[0] != '/' {
			return fmt.Errorf("route for %q must be an absolute path, got %q", kind, path)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "data/azbuka.db"
	}

	if c.Cache.SweepInterval.Duration == 0 {
		c.Cache.SweepInterval.Duration = models.DefaultCacheSweepInterval
	}

	// Sync defaults
	if c.Sync.Interval.Duration == 0 {
		c.Sync.Interval.Duration = models.DefaultSyncInterval
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.DispatchTimeout.Duration == 0 {
		c.Sync.DispatchTimeout.Duration = models.DefaultDispatchTimeout
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = models.DefaultDispatchConcurrency
	}
	if c.Sync.DeadLetterLimit == 0 {
		c.Sync.DeadLetterLimit = models.DefaultDeadLetterLimit
	}
	if c.Sync.RateRPS > 0 && c.Sync.RateBurst == 0 {
		c.Sync.RateBurst = c.Sync.Concurrency
	}

	if c.Network.ProbeInterval.Duration == 0 {
		c.Network.ProbeInterval.Duration = models.DefaultProbeInterval
	}

	if c.Remote.Timeout.Duration == 0 {
		c.Remote.Timeout.Duration = models.DefaultDispatchTimeout
	}
	if c.Remote.HealthPath == "" {
		c.Remote.HealthPath = "/health"
	}
	if c.Remote.Routes == nil {
		c.Remote.Routes = map[string]string{
			models.KindActivityResult: "/api/v1/activities/results",
			models.KindProgressUpdate: "/api/v1/progress",
			models.KindProfileUpdate:  "/api/v1/profile",
			models.KindSettingsUpdate: "/api/v1/settings",
		}
	}

	// Диагностический сервер слушает только loopback
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 8600
	}
}
