package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Mirrors   []MirrorConfig  `mapstructure:"mirrors"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// APIConfig contains osu! API credentials and endpoints
type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	SourceTimeout string `mapstructure:"source_timeout"`
}

// MirrorConfig describes one public mirror source
type MirrorConfig struct {
	Name        string `mapstructure:"name"`
	URLTemplate string `mapstructure:"url_template"`
	Referer     string `mapstructure:"referer"`
	Priority    int    `mapstructure:"priority"`
	Timeout     string `mapstructure:"timeout"`
}

// CacheConfig contains archive cache settings
type CacheConfig struct {
	RootDir string `mapstructure:"root_dir"`
	MaxAge  string `mapstructure:"max_age"`
}

// RateLimitConfig contains download throttling settings
type RateLimitConfig struct {
	Threshold int    `mapstructure:"threshold"`
	Window    string `mapstructure:"window"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains statistics database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("api.base_url", "https://osu.ppy.sh")
	viper.SetDefault("api.source_timeout", "15s")
	viper.SetDefault("cache.root_dir", "/var/lib/beatmap-mirror")
	viper.SetDefault("cache.max_age", "24h")
	viper.SetDefault("rate_limit.threshold", 3)
	viper.SetDefault("rate_limit.window", "10m")
	viper.SetDefault("http.bind_addr", "0.0.0.0:8080")
	viper.SetDefault("http.admin_username", "admin")
	viper.SetDefault("http.admin_password", "")
	viper.SetDefault("http.read_timeout", "30s")
	viper.SetDefault("http.write_timeout", "5m")
	viper.SetDefault("http.idle_timeout", "60s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("database.path", "")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// The authoritative source is skipped when credentials are missing,
	// so only partially-filled credentials are an error.
	if (c.API.ClientID == "") != (c.API.ClientSecret == "") {
		return fmt.Errorf("api.client_id and api.client_secret must be set together")
	}

	if c.Cache.RootDir == "" {
		return fmt.Errorf("cache.root_dir is required")
	}
	if _, err := time.ParseDuration(c.Cache.MaxAge); err != nil {
		return fmt.Errorf("invalid cache.max_age: %w", err)
	}

	if c.RateLimit.Threshold <= 0 {
		return fmt.Errorf("rate_limit.threshold must be positive")
	}
	if _, err := time.ParseDuration(c.RateLimit.Window); err != nil {
		return fmt.Errorf("invalid rate_limit.window: %w", err)
	}

	for i, m := range c.Mirrors {
		if m.Name == "" {
			return fmt.Errorf("mirrors[%d].name is required", i)
		}
		if m.URLTemplate == "" {
			return fmt.Errorf("mirrors[%d].url_template is required", i)
		}
		if m.Timeout != "" {
			if _, err := time.ParseDuration(m.Timeout); err != nil {
				return fmt.Errorf("invalid mirrors[%d].timeout: %w", i, err)
			}
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetSourceTimeout returns the per-source timeout as time.Duration
func (c *APIConfig) GetSourceTimeout() time.Duration {
	d, _ := time.ParseDuration(c.SourceTimeout)
	if d == 0 {
		return 15 * time.Second
	}
	return d
}

// GetTimeout returns the mirror timeout as time.Duration
func (c *MirrorConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// GetMaxAge returns the cache maximum age as time.Duration
func (c *CacheConfig) GetMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.MaxAge)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetWindow returns the rate limit window as time.Duration
func (c *RateLimitConfig) GetWindow() time.Duration {
	d, _ := time.ParseDuration(c.Window)
	if d == 0 {
		return 10 * time.Minute
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 5 * time.Minute
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}
