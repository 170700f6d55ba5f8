package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	OutputDirectory     string            `mapstructure:"output_directory"`
	SupportedExtensions []string          `mapstructure:"supported_extensions"`
	Compression         CompressionConfig `mapstructure:"compression"`
	Progress            ProgressConfig    `mapstructure:"progress"`
	Telemetry           TelemetryConfig   `mapstructure:"telemetry"`
	Server              ServerConfig      `mapstructure:"server"`
	Logging             LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the default compression preset
type CompressionConfig struct {
	OutputFormat string `mapstructure:"output_format"` // keep, webp, jpeg, png
	Level        string `mapstructure:"level"`         // light, balanced, aggressive
	Quality      int    `mapstructure:"quality"`
}

// ProgressConfig contains simulated progress settings
type ProgressConfig struct {
	TickIntervalMs int `mapstructure:"tick_interval_ms"`
}

// TelemetryConfig contains telemetry store settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"`
	MaxRecords   int64  `mapstructure:"max_records"`
}

// ServerConfig contains web interface settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		SupportedExtensions: []string{
			".jpg", ".jpeg", ".png", ".webp", ".heic", ".heif",
		},
		Compression: CompressionConfig{
			OutputFormat: "keep",
			Level:        "balanced",
			Quality:      80,
		},
		Progress: ProgressConfig{
			TickIntervalMs: 100,
		},
		Telemetry: TelemetryConfig{
			Enabled:      true,
			DatabasePath: "image-squeeze-stats.db",
			MaxRecords:   5000,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-squeeze.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.image-squeeze")
		viper.AddConfigPath("/etc/image-squeeze")
	}

	// Enable environment variable support
	viper.SetEnvPrefix("IMAGE_SQUEEZE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Unmarshal config
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate and normalize config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validFormats := map[string]bool{
		"keep": true,
		"webp": true,
		"jpeg": true,
		"png":  true,
	}
	if !validFormats[strings.ToLower(c.Compression.OutputFormat)] {
		return fmt.Errorf("invalid output format: %s (valid: keep, webp, jpeg, png)",
			c.Compression.OutputFormat)
	}

	validLevels := map[string]bool{
		"light":      true,
		"balanced":   true,
		"aggressive": true,
	}
	if !validLevels[strings.ToLower(c.Compression.Level)] {
		return fmt.Errorf("invalid compression level: %s (valid: light, balanced, aggressive)",
			c.Compression.Level)
	}

	if c.Compression.Quality < 1 || c.Compression.Quality > 100 {
		return fmt.Errorf("quality must be within 1-100, got %d", c.Compression.Quality)
	}

	if c.Progress.TickIntervalMs <= 0 {
		c.Progress.TickIntervalMs = 100
	}
	if c.Telemetry.MaxRecords <= 0 {
		c.Telemetry.MaxRecords = 5000
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// IsSupportedExtension checks if the extension belongs to a supported image file
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
