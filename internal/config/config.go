// Package config provides configuration loading for pdfzip.
// Supports YAML files, .env files, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/pdfzip/internal/domain"
)

// Compression methods for page entries.
const (
	CompressionDeflate = "deflate"
	CompressionStore   = "store"
)

// Config holds all configuration for pdfzip.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Conversion    ConversionConfig    `yaml:"conversion"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"` // 0 disables; archives stream for as long as they need
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	RateLimit        int           `yaml:"rate_limit"` // requests per window per client IP, 0 disables
	RateWindow       time.Duration `yaml:"rate_window"`
	CORSOrigins      []string      `yaml:"cors_origins"`
}

// ConversionConfig holds the per-request conversion knobs.
type ConversionConfig struct {
	MaxPages             int     `yaml:"max_pages"`
	DPI                  float64 `yaml:"dpi"`
	Scale                float64 `yaml:"scale"` // takes precedence over dpi when > 0
	JPEGQuality          int     `yaml:"jpeg_quality"`
	ChunkSize            int     `yaml:"chunk_size"`
	Compression          string  `yaml:"compression"`
	CompressionLevel     int     `yaml:"compression_level"`
	EntryPattern         string  `yaml:"entry_pattern"`
	BatchName            string  `yaml:"batch_name"`
	NestedStreaming      bool    `yaml:"nested_streaming"`
	MaxParallelDocuments int     `yaml:"max_parallel_documents"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// ScaleFactor returns the render scale relative to 72 DPI.
func (c ConversionConfig) ScaleFactor() float64 {
	if c.Scale > 0 {
		return c.Scale
	}
	return c.DPI / 72.0
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, domain.ConfigError("environment override", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration sized for a small free-tier host.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             5000,
			ReadTimeout:      60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   100 << 20,
			RateLimit:        30,
			RateWindow:       time.Minute,
			CORSOrigins:      []string{"*"},
		},
		Conversion: ConversionConfig{
			MaxPages:             100,
			DPI:                  72, // ~0.5 MB per page; 100 gives ~1 MB
			JPEGQuality:          75,
			ChunkSize:            8192,
			Compression:          CompressionDeflate,
			CompressionLevel:     5,
			EntryPattern:         "(%d).jpeg",
			BatchName:            "all_converted.zip",
			MaxParallelDocuments: 4,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "pdfzip",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	conv := c.Conversion
	if conv.MaxPages < 1 {
		return fmt.Errorf("max_pages must be positive, got %d", conv.MaxPages)
	}
	if conv.ScaleFactor() <= 0 {
		return fmt.Errorf("resolution must be positive (dpi %v, scale %v)", conv.DPI, conv.Scale)
	}
	if conv.JPEGQuality < 0 || conv.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 0 and 100, got %d", conv.JPEGQuality)
	}
	if conv.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", conv.ChunkSize)
	}
	if conv.Compression != CompressionDeflate && conv.Compression != CompressionStore {
		return fmt.Errorf("invalid compression: %s", conv.Compression)
	}
	if conv.CompressionLevel < -2 || conv.CompressionLevel > 9 {
		return fmt.Errorf("compression_level must be between -2 and 9, got %d", conv.CompressionLevel)
	}
	if !validEntryPattern(conv.EntryPattern) {
		return fmt.Errorf("entry_pattern must contain exactly one %%d verb: %q", conv.EntryPattern)
	}
	if strings.TrimSpace(conv.BatchName) == "" {
		return fmt.Errorf("batch_name is required")
	}
	if conv.MaxParallelDocuments < 1 {
		return fmt.Errorf("max_parallel_documents must be positive, got %d", conv.MaxParallelDocuments)
	}

	return nil
}

// intVerb matches a %d verb with optional flags and width, as in %03d.
var intVerb = regexp.MustCompile(`%[-+ 0]*[0-9]*d`)

// validEntryPattern reports whether p formats exactly one integer. Escaped
// percent signs are allowed anywhere.
func validEntryPattern(p string) bool {
	rest := strings.ReplaceAll(p, "%%", "")
	return len(intVerb.FindAllString(rest, -1)) == 1 && strings.Count(rest, "%") == 1
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ParseResolution parses "150" or "150dpi" as DPI and "2x" as a scale factor.
func ParseResolution(v string) (dpi, scale float64, err error) {
	s := strings.ToLower(strings.TrimSpace(v))
	switch {
	case strings.HasSuffix(s, "x"):
		scale, err = strconv.ParseFloat(strings.TrimSuffix(s, "x"), 64)
	default:
		dpi, err = strconv.ParseFloat(strings.TrimSuffix(s, "dpi"), 64)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution %q: %w", v, err)
	}
	if dpi < 0 || scale < 0 || dpi+scale == 0 {
		return 0, 0, fmt.Errorf("invalid resolution %q: must be positive", v)
	}
	return dpi, scale, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"PORT", &cfg.Server.Port},
		{"MAX_PAGES", &cfg.Conversion.MaxPages},
		{"JPEG_QUALITY", &cfg.Conversion.JPEGQuality},
		{"CHUNK_SIZE", &cfg.Conversion.ChunkSize},
	}
	for _, o := range ints {
		if v := os.Getenv(o.env); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", o.env, err)
			}
			*o.dst = n
		}
	}

	if v := os.Getenv("RESOLUTION"); v != "" {
		dpi, scale, err := ParseResolution(v)
		if err != nil {
			return fmt.Errorf("RESOLUTION: %w", err)
		}
		cfg.Conversion.DPI, cfg.Conversion.Scale = dpi, scale
	}

	if v := os.Getenv("DPI"); v != "" {
		dpi, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("DPI: %w", err)
		}
		cfg.Conversion.DPI, cfg.Conversion.Scale = dpi, 0
	}

	if v := os.Getenv("SCALE"); v != "" {
		scale, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SCALE: %w", err)
		}
		cfg.Conversion.Scale = scale
	}

	if v := os.Getenv("COMPRESSION"); v != "" {
		cfg.Conversion.Compression = strings.ToLower(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	return nil
}
