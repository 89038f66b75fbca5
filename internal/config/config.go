// Package config provides configuration loading for feedscan commands.
//
// Values are resolved in order: defaults, optional YAML file, .env file,
// then process environment. Flag parsing happens in cmd/feedscan and is
// applied on top of the returned Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultServiceURL    = "http://localhost:3000"
	DefaultWebPort       = "8080"
	DefaultAnalyzerPort  = "3000"
	DefaultScanInterval  = 3 * time.Second
	DefaultLiveQuality   = 0.6
	DefaultManualQuality = 0.8
	DefaultModel         = "gpt-4o"
	DefaultMaxTokens     = 100
)

// Config holds all configuration for feedscan.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Camera   CameraConfig   `yaml:"camera"`
	Scan     ScanConfig     `yaml:"scan"`
	Service  ServiceConfig  `yaml:"service"`
	Web      WebConfig      `yaml:"web"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
}

// CameraConfig selects the video source.
type CameraConfig struct {
	// Device is a device index ("0") or a stream URL (rtsp://, http://).
	Device string `yaml:"device"`

	// Preset names a camera.Constraints preset ("default", "1080p", "legacy", "front").
	Preset string `yaml:"preset"`

	// Width and Height override the preset's ideal resolution when non-zero.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ScanConfig tunes the capture loop.
type ScanConfig struct {
	Interval      time.Duration `yaml:"interval"`
	LiveQuality   float64       `yaml:"live_quality"`
	ManualQuality float64       `yaml:"manual_quality"`
	StartLive     bool          `yaml:"start_live"`
}

// ServiceConfig points at the remote classification service.
type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// WebConfig configures the operator control API.
type WebConfig struct {
	Port      string `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// AnalyzerConfig configures the classification service (feedscan serve).
type AnalyzerConfig struct {
	Port          string `yaml:"port"`
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"-"`
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`
	MaxTokens     int    `yaml:"max_tokens"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Camera: CameraConfig{
			Device: "0",
			Preset: "default",
		},
		Scan: ScanConfig{
			Interval:      DefaultScanInterval,
			LiveQuality:   DefaultLiveQuality,
			ManualQuality: DefaultManualQuality,
		},
		Service: ServiceConfig{
			URL:     DefaultServiceURL,
			Timeout: 30 * time.Second,
		},
		Web: WebConfig{
			Port: DefaultWebPort,
		},
		Analyzer: AnalyzerConfig{
			Port:      DefaultAnalyzerPort,
			BaseURL:   "https://api.openai.com/v1",
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (optional),
// the .env file at dotenv (optional) and the environment.
func Load(path, dotenv string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if dotenv != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	if err := cfg.LoadEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnv applies environment variable overrides.
func (c *Config) LoadEnv() error {
	if v := os.Getenv("FEEDSCAN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FEEDSCAN_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("FEEDSCAN_CAMERA_DEVICE"); v != "" {
		c.Camera.Device = v
	}
	if v := os.Getenv("FEEDSCAN_CAMERA_PRESET"); v != "" {
		c.Camera.Preset = v
	}
	if v := os.Getenv("FEEDSCAN_SCAN_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &Error{Field: "Scan.Interval", Message: fmt.Sprintf("FEEDSCAN_SCAN_INTERVAL: %v", err)}
		}
		c.Scan.Interval = d
	}
	if v := os.Getenv("FEEDSCAN_START_LIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Field: "Scan.StartLive", Message: fmt.Sprintf("FEEDSCAN_START_LIVE: %v", err)}
		}
		c.Scan.StartLive = b
	}
	if v := os.Getenv("FEEDSCAN_SERVICE_URL"); v != "" {
		c.Service.URL = v
	}
	if v := os.Getenv("FEEDSCAN_WEB_PORT"); v != "" {
		c.Web.Port = v
	}
	if v := os.Getenv("FEEDSCAN_ANALYZER_PORT"); v != "" {
		c.Analyzer.Port = v
	}
	if v := os.Getenv("FEEDSCAN_MODEL"); v != "" {
		c.Analyzer.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Analyzer.BaseURL = v
	}
	c.Analyzer.APIKey = os.Getenv("OPENAI_API_KEY")
	return nil
}

// Validate checks the client-side settings.
func (c *Config) Validate() error {
	if c.Service.URL == "" {
		return &Error{Field: "Service.URL", Message: "classification service URL is required"}
	}
	if c.Scan.Interval < 100*time.Millisecond {
		return &Error{Field: "Scan.Interval", Message: "scan interval must be at least 100ms"}
	}
	if !validQuality(c.Scan.LiveQuality) {
		return &Error{Field: "Scan.LiveQuality", Message: "live quality must be in (0, 1]"}
	}
	if !validQuality(c.Scan.ManualQuality) {
		return &Error{Field: "Scan.ManualQuality", Message: "manual quality must be in (0, 1]"}
	}
	return nil
}

// ValidateAnalyzer checks the settings needed by the classification service.
func (c *Config) ValidateAnalyzer() error {
	if c.Analyzer.APIKey == "" {
		return &Error{Field: "Analyzer.APIKey", Message: "OPENAI_API_KEY environment variable is required"}
	}
	if c.Analyzer.Model == "" {
		return &Error{Field: "Analyzer.Model", Message: "analyzer model is required"}
	}
	return nil
}

func validQuality(q float64) bool {
	return q > 0 && q <= 1
}

// Error represents a configuration validation error.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
