// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	RootPath       string `env:"PINDL_ROOT,required"`
	ScratchPath    string `env:"PINDL_SCRATCH"`
	StatePath      string `env:"PINDL_STATE"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	Concurrency    int    `env:"CONCURRENCY" envDefault:"3"`
	MaxPages       int    `env:"MAX_PAGES" envDefault:"50"`
	EmptyPageLimit int    `env:"EMPTY_PAGE_LIMIT" envDefault:"3"`
	PageSize       int    `env:"PAGE_SIZE" envDefault:"25"`
	HTTPTimeoutSec int    `env:"HTTP_TIMEOUT_SECONDS" envDefault:"30"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration and fills derived paths
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	logLevel := strings.ToLower(c.LogLevel)
	isValidLevel := false
	for _, level := range validLogLevels {
		if logLevel == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("invalid log level %q, must be one of: %v", c.LogLevel, validLogLevels)
	}

	if c.RootPath == "" {
		return fmt.Errorf("PINDL_ROOT cannot be empty")
	}

	cleanRoot := filepath.Clean(c.RootPath)
	if !filepath.IsAbs(cleanRoot) {
		return fmt.Errorf("PINDL_ROOT must be an absolute path, got: %s", c.RootPath)
	}
	if info, err := os.Stat(cleanRoot); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("PINDL_ROOT must be a directory, got file: %s", cleanRoot)
		}
	}
	c.RootPath = cleanRoot

	if c.ScratchPath == "" {
		c.ScratchPath = filepath.Join(cleanRoot, ".scratch")
	}
	if c.StatePath == "" {
		c.StatePath = filepath.Join(cleanRoot, ".state")
	}
	c.ScratchPath = filepath.Clean(c.ScratchPath)
	c.StatePath = filepath.Clean(c.StatePath)

	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1, got: %d", c.Concurrency)
	}
	if c.MaxPages < 1 || c.MaxPages > 100 {
		return fmt.Errorf("MAX_PAGES must be between 1 and 100, got: %d", c.MaxPages)
	}
	if c.EmptyPageLimit < 1 {
		return fmt.Errorf("EMPTY_PAGE_LIMIT must be at least 1, got: %d", c.EmptyPageLimit)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("PAGE_SIZE must be at least 1, got: %d", c.PageSize)
	}
	if c.HTTPTimeoutSec < 1 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be at least 1, got: %d", c.HTTPTimeoutSec)
	}

	return nil
}
