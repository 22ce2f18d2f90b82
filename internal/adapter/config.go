package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const appName = "kinosync"

// Config holds all application configuration
type Config struct {
	Profile  string         `mapstructure:"profile" validate:"required"`
	Trakt    TraktConfig    `mapstructure:"trakt"`
	Addon    AddonConfig    `mapstructure:"addon"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Replica  ReplicaConfig  `mapstructure:"replica"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TraktConfig holds the remote account service configuration.
// The access token is opaque; obtaining it is outside this program.
type TraktConfig struct {
	URL          string        `mapstructure:"url" validate:"required,url"`
	ClientID     string        `mapstructure:"client_id"`
	AccessToken  string        `mapstructure:"access_token"`
	RefreshToken string        `mapstructure:"refresh_token"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RateLimit    float64       `mapstructure:"rate_limit" validate:"gt=0"` // requests per second
	RateBurst    int           `mapstructure:"rate_burst" validate:"gte=1"`
}

// AddonConfig holds the Stremio add-on endpoint configuration
type AddonConfig struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// CacheConfig holds resource cache configuration
type CacheConfig struct {
	Dir           string        `mapstructure:"dir" validate:"required"`
	MemoryEntries int           `mapstructure:"memory_entries" validate:"gte=1"`
	MaxRetention  time.Duration `mapstructure:"max_retention" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	ManifestTTL   time.Duration `mapstructure:"manifest_ttl" validate:"gt=0"`
	CatalogTTL    time.Duration `mapstructure:"catalog_ttl" validate:"gt=0"`
}

// ReplicaConfig holds replica database configuration
type ReplicaConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// SyncConfig holds delta-sync configuration
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	MinInterval time.Duration `mapstructure:"min_interval" validate:"gte=0"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	OnStartup   bool          `mapstructure:"on_startup"`
}

// WorkersConfig holds background worker pool configuration
type WorkersConfig struct {
	Size         int           `mapstructure:"size" validate:"gte=1,lte=64"`
	QueueSize    int           `mapstructure:"queue_size" validate:"gte=1"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"gte=0"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryBase    time.Duration `mapstructure:"retry_base" validate:"gt=0"`
}

// PrefetchConfig holds warm scheduler configuration
type PrefetchConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CatalogDepth int  `mapstructure:"catalog_depth" validate:"gte=0"`
	NextUpLimit  int  `mapstructure:"next_up_limit" validate:"gte=0"`
}

// APIConfig holds the local HTTP API configuration
type APIConfig struct {
	Listen string `mapstructure:"listen" validate:"required"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN WARNING ERROR debug info warn warning error"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Profile: "default",
		Trakt: TraktConfig{
			URL:       "https://api.trakt.tv",
			Timeout:   10 * time.Second,
			RateLimit: 3,
			RateBurst: 5,
		},
		Addon: AddonConfig{
			Timeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Dir:           defaultCachePath(),
			MemoryEntries: 500,
			MaxRetention:  120 * 24 * time.Hour,
			SweepInterval: 6 * time.Hour,
			ManifestTTL:   24 * time.Hour,
			CatalogTTL:    6 * time.Hour,
		},
		Replica: ReplicaConfig{
			Dir: defaultDataPath(),
		},
		Sync: SyncConfig{
			Interval:    15 * time.Minute,
			MinInterval: 5 * time.Minute,
			TaskTimeout: 2 * time.Minute,
			OnStartup:   true,
		},
		Workers: WorkersConfig{
			Size:         4,
			QueueSize:    64,
			WriteTimeout: 15 * time.Second,
			DrainTimeout: 5 * time.Second,
			MaxRetries:   3,
			RetryBase:    time.Second,
		},
		Prefetch: PrefetchConfig{
			Enabled:      true,
			CatalogDepth: 5,
			NextUpLimit:  10,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8765",
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	return filepath.Join(defaultDataPath(), appName+".log")
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

// defaultDataPath returns the default data directory path for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName)
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	return filepath.Join(defaultDataPath(), "cache")
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(viper.New(), defaultConfigPath(), ".")
}

// LoadConfigFrom loads configuration using v, searching the given directories.
func LoadConfigFrom(v *viper.Viper, paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// Environment variable overrides, e.g. KINOSYNC_TRAKT_ACCESS_TOKEN
	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvKeys registers keys that have no default so AutomaticEnv can see them.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"profile",
		"trakt.client_id", "trakt.access_token", "trakt.refresh_token", "trakt.url",
		"addon.url",
		"cache.dir", "replica.dir",
		"api.listen",
		"logging.file", "logging.level",
	} {
		_ = v.BindEnv(key)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	configPath := defaultConfigPath()

	// Ensure config directory exists
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.Set("profile", cfg.Profile)

	v.Set("trakt.url", cfg.Trakt.URL)
	v.Set("trakt.client_id", cfg.Trakt.ClientID)
	v.Set("trakt.access_token", cfg.Trakt.AccessToken)
	v.Set("trakt.refresh_token", cfg.Trakt.RefreshToken)

	v.Set("addon.url", cfg.Addon.URL)

	v.Set("cache.dir", cfg.Cache.Dir)
	v.Set("cache.memory_entries", cfg.Cache.MemoryEntries)
	v.Set("replica.dir", cfg.Replica.Dir)

	v.Set("sync.interval", cfg.Sync.Interval.String())
	v.Set("sync.on_startup", cfg.Sync.OnStartup)

	v.Set("api.listen", cfg.API.Listen)

	v.Set("logging.file", cfg.Logging.File)
	v.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsConfigured returns true if the remote client ID and token are set
func (c *Config) IsConfigured() bool {
	return c.Trakt.ClientID != "" && c.Trakt.AccessToken != ""
}

// ProfileDir returns the per-profile subdirectory of base. Profiles are
// hashed so that names never leak into paths.
func ProfileDir(base, profile string) string {
	normalized := strings.ToLower(strings.TrimSpace(profile))
	hash := sha256.Sum256([]byte(normalized))
	return filepath.Join(ExpandPath(base), hex.EncodeToString(hash[:6]))
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// ClearCache removes all cached data for a profile
func ClearCache(cfg *Config) error {
	cachePath := ProfileDir(cfg.Cache.Dir, cfg.Profile)
	if err := os.RemoveAll(cachePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
