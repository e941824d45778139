package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	BLE     BLEConfig     `yaml:"ble"`
	Capture CaptureConfig `yaml:"capture"`
	UserID  string        `yaml:"user_id"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig holds analysis backend settings.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the backend client.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// BLEConfig holds LED mask connection settings.
type BLEConfig struct {
	ServiceUUID        string        `yaml:"service_uuid"`
	CharacteristicUUID string        `yaml:"characteristic_uuid"`
	ResponseUUID       string        `yaml:"response_uuid"`
	NameMarker         string        `yaml:"name_marker"`
	ScanTimeout        time.Duration `yaml:"scan_timeout"`
	ReadyWait          time.Duration `yaml:"ready_wait"`
	Mock               bool          `yaml:"mock"` // use the simulated mask instead of the radio
}

// CaptureConfig holds camera and gallery settings.
type CaptureConfig struct {
	Quality            int           `yaml:"quality"`
	Width              int           `yaml:"width"`
	Height             int           `yaml:"height"`
	Encoding           string        `yaml:"encoding"` // "jpeg" or "png"
	CorrectOrientation bool          `yaml:"correct_orientation"`
	CameraCommand      []string      `yaml:"camera_command"`
	GalleryDir         string        `yaml:"gallery_dir"`
	ReadyWait          time.Duration `yaml:"ready_wait"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout" or a file path
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "glowlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:5001",
			Timeout: 30 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		BLE: BLEConfig{
			ServiceUUID:        "0000ffe0-0000-1000-8000-00805f9b34fb",
			CharacteristicUUID: "0000ffe1-0000-1000-8000-00805f9b34fb",
			ResponseUUID:       "0000ffe1-0000-1000-8000-00805f9b34fb",
			NameMarker:         "Xiao",
			ScanTimeout:        10 * time.Second,
			ReadyWait:          5 * time.Second,
		},
		Capture: CaptureConfig{
			Quality:            80,
			Width:              1024,
			Height:             1024,
			Encoding:           "jpeg",
			CorrectOrientation: true,
			GalleryDir:         "~/Pictures",
			ReadyWait:          5 * time.Second,
		},
		UserID: "default_user",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in capture.gallery_dir and log.output is
// expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Capture.GalleryDir = expandTilde(cfg.Capture.GalleryDir)
	cfg.Log.Output = expandTilde(cfg.Log.Output)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.Capture.GalleryDir = expandTilde(cfg.Capture.GalleryDir)
		return cfg, nil
	}
	return cfg, err
}

const defaultHeader = `# glowlink configuration
# Durations use Go syntax (500ms, 10s, 1m). ble.mock: true talks to a
# simulated mask. capture.camera_command uses {output} for the image path,
# e.g. ["imagesnap", "-q", "{output}"] or ["fswebcam", "--no-banner", "{output}"].
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the path written, or "" when a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must be >= 0")
	}

	if c.BLE.ServiceUUID == "" || c.BLE.CharacteristicUUID == "" {
		return fmt.Errorf("ble.service_uuid and ble.characteristic_uuid must not be empty")
	}
	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.ReadyWait < 0 {
		return fmt.Errorf("ble.ready_wait must be >= 0")
	}

	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		return fmt.Errorf("capture.quality must be between 1 and 100, got %d", c.Capture.Quality)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	switch c.Capture.Encoding {
	case "jpeg", "png":
	default:
		return fmt.Errorf("capture.encoding must be \"jpeg\" or \"png\", got %q", c.Capture.Encoding)
	}
	if c.Capture.ReadyWait < 0 {
		return fmt.Errorf("capture.ready_wait must be >= 0")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
