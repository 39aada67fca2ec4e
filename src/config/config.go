// Package config provides configuration management for the buildops console.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	// GCSBucket is the object storage bucket that receives uploaded artifacts.
	GCSBucket string `yaml:"gcs_bucket"`
	// UploadedBy is recorded on every uploaded blob's metadata.
	UploadedBy string `yaml:"uploaded_by"`
	// ListerCommand is the CLI invoked to list builds, e.g. "eas build:list".
	ListerCommand string `yaml:"lister_command"`
	// LogBaseURL is the base URL of the log streaming service.
	LogBaseURL string `yaml:"log_base_url"`
	// LogToken is the bearer token for the log streaming service. Optional.
	LogToken string `yaml:"log_token"`
	// DownloadDir is where downloaded artifacts are written.
	DownloadDir string `yaml:"download_dir"`
	// MaxStreams caps concurrent log streaming sessions.
	MaxStreams int `yaml:"max_streams"`
	// RingCapacity is the number of retained log lines per session.
	RingCapacity int `yaml:"ring_capacity"`
	// PostgresDSN enables the Postgres transfer history store when set.
	PostgresDSN string `yaml:"postgres_dsn"`
	// RedpandaBrokers enables the Redpanda event broker when set.
	RedpandaBrokers string `yaml:"redpanda_brokers"`
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults where a variable is unset.
func LoadFromEnv() (*Config, error) {
	bucket := os.Getenv("GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET environment variable is required")
	}

	cfg := &Config{
		GCSBucket:       bucket,
		UploadedBy:      getEnv("UPLOADED_BY", "buildops"),
		ListerCommand:   getEnv("LISTER_COMMAND", "eas build:list"),
		LogBaseURL:      getEnv("LOG_BASE_URL", "http://localhost:8080"),
		LogToken:        os.Getenv("LOG_TOKEN"),
		DownloadDir:     getEnv("DOWNLOAD_DIR", "."),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		RedpandaBrokers: os.Getenv("REDPANDA_BROKERS"),
	}

	var err error
	if cfg.MaxStreams, err = getEnvInt("MAX_STREAMS", 5); err != nil {
		return nil, err
	}
	if cfg.RingCapacity, err = getEnvInt("RING_CAPACITY", 1000); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ListerCommand) == "" {
		return nil, fmt.Errorf("LISTER_COMMAND must name an executable, got %q", cfg.ListerCommand)
	}
	return cfg, nil
}

// LoadFromFile reads a YAML configuration file and then applies environment
// overrides on top of it. Environment variables win over file values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{
		UploadedBy:    "buildops",
		ListerCommand: "eas build:list",
		LogBaseURL:    "http://localhost:8080",
		DownloadDir:   ".",
		MaxStreams:    5,
		RingCapacity:  1000,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("gcs_bucket is required (set it in %s or via GCS_BUCKET)", path)
	}
	if strings.TrimSpace(cfg.ListerCommand) == "" {
		return nil, fmt.Errorf("lister_command must name an executable, got %q", cfg.ListerCommand)
	}
	return cfg, nil
}

// MustLoadFromEnv loads configuration from environment variables and panics on
// error. Useful for initialization in main() where configuration errors should
// be fatal.
func MustLoadFromEnv() *Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.GCSBucket, "GCS_BUCKET")
	setString(&cfg.UploadedBy, "UPLOADED_BY")
	setString(&cfg.ListerCommand, "LISTER_COMMAND")
	setString(&cfg.LogBaseURL, "LOG_BASE_URL")
	setString(&cfg.LogToken, "LOG_TOKEN")
	setString(&cfg.DownloadDir, "DOWNLOAD_DIR")
	setString(&cfg.PostgresDSN, "POSTGRES_DSN")
	setString(&cfg.RedpandaBrokers, "REDPANDA_BROKERS")

	if v := os.Getenv("MAX_STREAMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxStreams = n
		}
	}
	if v := os.Getenv("RING_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RingCapacity = n
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}
