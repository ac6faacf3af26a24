package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Platform identifiers accepted in configuration.
const (
	PlatformAppStore  = "appstore"
	PlatformPlayStore = "playstore"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Platform string
	IAP      IAPConfig
	Bridge   BridgeConfig
	Sentry   SentryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// IAPConfig holds the external verifier credentials. Empty credentials mean
// no verifier is constructed and subscription expiry stays unknown.
type IAPConfig struct {
	AppleSharedSecret string
	GoogleKeyJSON     string
	GooglePackageName string
}

// BridgeConfig holds websocket bridge configuration
type BridgeConfig struct {
	AllowedOrigins []string
}

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// .env file is optional for production (env vars are used)
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults. The daemon binds loopback-only traffic from the host
	// application, so short timeouts on the write side would cut off
	// user-paced purchase flows; WriteTimeout stays generous.
	viper.SetDefault("server_port", 8799)
	viper.SetDefault("server_read_timeout", 10*time.Second)
	viper.SetDefault("server_write_timeout", 0*time.Second)
	viper.SetDefault("server_shutdown_timeout", 15*time.Second)

	viper.SetDefault("platform", PlatformAppStore)

	viper.SetDefault("bridge_allowed_origins", []string{"tauri://localhost", "http://localhost"})

	viper.SetDefault("sentry_environment", "production")
}

func validate(cfg *Config) error {
	switch cfg.Platform {
	case PlatformAppStore, PlatformPlayStore:
	default:
		return fmt.Errorf("PLATFORM must be %q or %q, got %q",
			PlatformAppStore, PlatformPlayStore, cfg.Platform)
	}
	if cfg.Platform == PlatformPlayStore && cfg.IAP.GoogleKeyJSON != "" && cfg.IAP.GooglePackageName == "" {
		return fmt.Errorf("GOOGLE_PACKAGE_NAME is required when GOOGLE_KEY_JSON is set")
	}
	return nil
}
