// Package config provides the defaults of the command line flags, read from
// the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by LoadConfig.
const (
	EnvOutput    = "DBF_EXPORT_OUTPUT"
	EnvFormat    = "DBF_EXPORT_FORMAT"
	EnvAddr      = "DBF_EXPORT_ADDR"
	EnvDebounce  = "DBF_EXPORT_DEBOUNCE"
	EnvKeyField  = "DBF_EXPORT_KEY_FIELD"
	EnvPublish   = "DBF_EXPORT_PUBLISH"
	EnvGitHubTok = "GITHUB_TOKEN"
)

type Config struct {
	OutputDir   string
	Format      string
	Addr        string
	Debounce    time.Duration
	KeyField    string
	Publish     string
	GitHubToken string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		OutputDir: ".",
		Format:    "json",
		Addr:      ":8080",
		Debounce:  time.Second,
	}
}

// LoadConfig loads the given .env files (".env" when none are named) into the
// environment without overriding variables already set, then reads the
// configuration. Missing .env files are not an error.
func LoadConfig(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Default()
	if v := os.Getenv(EnvOutput); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv(EnvFormat); v != "" {
		cfg.Format = strings.ToLower(v)
	}
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(EnvDebounce); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvDebounce, v, err)
		}
		cfg.Debounce = d
	}
	cfg.KeyField = os.Getenv(EnvKeyField)
	cfg.Publish = os.Getenv(EnvPublish)
	cfg.GitHubToken = os.Getenv(EnvGitHubTok)

	return cfg, nil
}
