package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the Replicate image edit server
type Config struct {
	// Required
	ReplicateAPIToken   string `mapstructure:"replicate_api_token"`
	ReplicateImagesRoot string `mapstructure:"replicate_images_root_folder"`

	// Optional with defaults
	MaxImageSizeMB  int         `mapstructure:"max_image_size_mb"`
	DebugMode       bool        `mapstructure:"debug_mode"`
	DefaultStrategy string      `mapstructure:"edit_default_strategy"`
	Segmenter       string      `mapstructure:"edit_segmenter"`
	BackgroundModel string      `mapstructure:"edit_background_model"`
	BackgroundSeed  int         `mapstructure:"edit_background_seed"` // 0 means random
	HTTPAddr        string      `mapstructure:"http_addr"`
	Store           StoreConfig `mapstructure:",squash"`

	Timeouts TimeoutConfig `mapstructure:"-"`
	Retry    RetryConfig   `mapstructure:"-"`
}

// StoreConfig selects and sizes the edit result store
type StoreConfig struct {
	Backend       string        `mapstructure:"edit_store_backend"`
	TTL           time.Duration `mapstructure:"edit_store_ttl"`
	Capacity      int           `mapstructure:"edit_store_capacity"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// LoadConfig loads configuration from an optional YAML file and the
// environment. Environment variables win over the file.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Segmenter = strings.ToLower(strings.TrimSpace(cfg.Segmenter))
	cfg.BackgroundModel = strings.ToLower(strings.TrimSpace(cfg.BackgroundModel))
	cfg.Timeouts = loadTimeouts(v)
	cfg.Retry = DefaultRetry()

	if cfg.ReplicateAPIToken == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN environment variable is required")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("replicate_api_token", "")
	v.SetDefault("replicate_images_root_folder", "./replicate_images")
	v.SetDefault("max_image_size_mb", 5)
	v.SetDefault("debug_mode", false)
	v.SetDefault("edit_default_strategy", "direct")
	v.SetDefault("edit_segmenter", "grounded_sam")
	v.SetDefault("edit_background_model", "flux-schnell")
	v.SetDefault("edit_background_seed", 0)
	v.SetDefault("http_addr", "")

	v.SetDefault("edit_store_backend", "memory")
	v.SetDefault("edit_store_ttl", 30*time.Minute)
	v.SetDefault("edit_store_capacity", 256)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("replicate_poll_interval", 0)
	v.SetDefault("replicate_max_operation_time", 0)
}

// MaxImageBytes is the image size limit in bytes.
func (c *Config) MaxImageBytes() int64 {
	return int64(c.MaxImageSizeMB) * 1024 * 1024
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ReplicateAPIToken == "" {
		return fmt.Errorf("Replicate API token is required")
	}
	if c.MaxImageSizeMB <= 0 {
		return fmt.Errorf("max image size must be positive")
	}
	if c.Timeouts.PollInterval <= 0 || c.Timeouts.MaxOperationTime <= 0 {
		return fmt.Errorf("poll interval and max operation time must be positive")
	}
	switch c.DefaultStrategy {
	case "direct", "planned":
	default:
		return fmt.Errorf("invalid EDIT_DEFAULT_STRATEGY %q", c.DefaultStrategy)
	}
	switch c.Segmenter {
	case "grounded_sam", "detect":
	default:
		return fmt.Errorf("invalid EDIT_SEGMENTER %q (want grounded_sam or detect)", c.Segmenter)
	}
	switch c.BackgroundModel {
	case "flux-schnell", "flux-pro", "flux-dev", "imagen-4", "sdxl":
	default:
		return fmt.Errorf("invalid EDIT_BACKGROUND_MODEL %q", c.BackgroundModel)
	}
	if c.BackgroundSeed < 0 {
		return fmt.Errorf("EDIT_BACKGROUND_SEED must not be negative")
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid EDIT_STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Store.TTL <= 0 {
		return fmt.Errorf("store ttl must be positive")
	}

	// Create images root folder if it doesn't exist
	if err := os.MkdirAll(c.ReplicateImagesRoot, 0755); err != nil {
		return fmt.Errorf("failed to create images root folder: %w", err)
	}

	return nil
}
