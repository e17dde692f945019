package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jscyril/music_stream_engine/internal/logging"
)

// Config holds application configuration
type Config struct {
	DataDir         string         `json:"data_dir"`
	LyricURL        string         `json:"lyric_url"`
	PollIntervalMs  int            `json:"poll_interval_ms"`
	ResumeAfterSeek bool           `json:"resume_after_seek"`
	DefaultVolume   float64        `json:"default_volume"`
	DefaultMode     string         `json:"default_mode"`
	HTTP            HTTPConfig     `json:"http"`
	ScanWorkers     int            `json:"scan_workers"`
	Logging         logging.Config `json:"logging"`
}

// HTTPConfig tunes the network transport
type HTTPConfig struct {
	ConnectTimeoutMs  int               `json:"connect_timeout_ms"`
	MetadataTimeoutMs int               `json:"metadata_timeout_ms"`
	ChunkSize         int               `json:"chunk_size"`
	Headers           map[string]string `json:"headers"`
}

// GetDefaultConfig returns default configuration
func GetDefaultConfig() *Config {
	return &Config{
		DataDir:         "./data",
		LyricURL:        "http://localhost:3000/lyric?id={id}",
		PollIntervalMs:  100,
		ResumeAfterSeek: true,
		DefaultVolume:   0.5,
		DefaultMode:     "order",
		HTTP: HTTPConfig{
			ConnectTimeoutMs:  10000,
			MetadataTimeoutMs: 10000,
			ChunkSize:         32 * 1024,
		},
		ScanWorkers: 4,
		Logging: logging.Config{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// PollInterval returns the position polling period
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// LyricURLFor expands the lyric URL template for one resource
func (c *Config) LyricURLFor(id string) string {
	if c.LyricURL == "" {
		return ""
	}
	return strings.ReplaceAll(c.LyricURL, "{id}", id)
}

// Validate checks values that would break the engine at runtime
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs))
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 1 {
		errs = append(errs, fmt.Errorf("default_volume must be within [0,1], got %v", c.DefaultVolume))
	}
	if c.HTTP.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("http.chunk_size must be positive, got %d", c.HTTP.ChunkSize))
	}
	if c.ScanWorkers <= 0 {
		errs = append(errs, fmt.Errorf("scan_workers must be positive, got %d", c.ScanWorkers))
	}
	return errors.Join(errs...)
}

// LoadConfig reads and unmarshals configuration from file.
// Fields missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

// SaveConfig marshals and saves configuration to file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadOrCreate loads config from path or creates default if not exists,
// then applies .env and environment overrides.
func LoadOrCreate(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := SaveConfig(config, path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	// A missing .env is normal; existing variables win over it.
	_ = godotenv.Load()
	ApplyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// ApplyEnv overrides config fields from MUSIC_PLAYER_* variables
func ApplyEnv(c *Config) {
	if v, ok := os.LookupEnv("MUSIC_PLAYER_DATA_DIR"); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := os.LookupEnv("MUSIC_PLAYER_LYRIC_URL"); ok {
		c.LyricURL = v
	}
	if v, ok := os.LookupEnv("MUSIC_PLAYER_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv("MUSIC_PLAYER_LOG_FILE"); ok {
		c.Logging.File = v
	}
	if v, ok := os.LookupEnv("MUSIC_PLAYER_POLL_INTERVAL_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollIntervalMs = n
		}
	}
}

// GetConfigPath returns the default config file path
func GetConfigPath() string {
	if path := os.Getenv("MUSIC_PLAYER_CONFIG"); path != "" {
		return path
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "musicplayer", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}

	return filepath.Join(home, ".config", "musicplayer", "config.json")
}
