package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	root := t.TempDir()
	t.Setenv("PINDL_ROOT", root)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, root, cfg.RootPath)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 3, cfg.Concurrency)
	require.Equal(t, 50, cfg.MaxPages)
	require.Equal(t, 3, cfg.EmptyPageLimit)
	require.Equal(t, filepath.Join(root, ".scratch"), cfg.ScratchPath)
	require.Equal(t, filepath.Join(root, ".state"), cfg.StatePath)
}

func TestLoad_EmptyRoot(t *testing.T) {
	t.Setenv("PINDL_ROOT", "")

	_, err := Load()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "relative root",
			mutate:  func(c *Config) { c.RootPath = "downloads" },
			wantErr: "absolute path",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Concurrency = 0 },
			wantErr: "CONCURRENCY",
		},
		{
			name:    "max pages above ceiling",
			mutate:  func(c *Config) { c.MaxPages = 101 },
			wantErr: "MAX_PAGES",
		},
		{
			name:    "zero empty page limit",
			mutate:  func(c *Config) { c.EmptyPageLimit = 0 },
			wantErr: "EMPTY_PAGE_LIMIT",
		},
		{
			name:    "zero page size",
			mutate:  func(c *Config) { c.PageSize = 0 },
			wantErr: "PAGE_SIZE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				RootPath:       root,
				LogLevel:       "info",
				Concurrency:    3,
				MaxPages:       50,
				EmptyPageLimit: 3,
				PageSize:       25,
				HTTPTimeoutSec: 30,
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateRootIsFile(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "root")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o644))

	cfg := &Config{
		RootPath:       filePath,
		LogLevel:       "info",
		Concurrency:    3,
		MaxPages:       50,
		EmptyPageLimit: 3,
		PageSize:       25,
		HTTPTimeoutSec: 30,
	}
	require.Error(t, cfg.Validate())
}
