package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration. Values come from environment
// variables, optionally overridden by a YAML file named in OVERDUB_CONFIG.
type Config struct {
	// Inputs
	VideoPath    string `yaml:"video_path"`
	ManifestPath string `yaml:"manifest_path"`

	// Server
	Port int `yaml:"port"`

	// Playback clock
	TickInterval time.Duration `yaml:"tick_interval"`

	// Capture
	CaptureWidth  int    `yaml:"capture_width"`
	CaptureHeight int    `yaml:"capture_height"`
	ArtifactDir   string `yaml:"artifact_dir"`
	RegistryPath  string `yaml:"registry_path"`

	// Dubber service connection
	DubberAPIURL    string `yaml:"dubber_api_url"`
	DubberAPIKey    string `yaml:"dubber_api_key"`
	DubberOutputDir string `yaml:"dubber_output_dir"`
	DubberVoice     string `yaml:"dubber_voice"`
	DubberLanguage  string `yaml:"dubber_language"`
}

// Load reads configuration from environment variables with sane defaults,
// then applies the YAML overlay if OVERDUB_CONFIG names a file.
func Load() (Config, error) {
	cfg := Config{
		VideoPath:    envStr("OVERDUB_VIDEO", ""),
		ManifestPath: envStr("OVERDUB_MANIFEST", ""),

		Port: envInt("OVERDUB_PORT", 8080),

		TickInterval: time.Duration(envInt("OVERDUB_TICK_MS", 50)) * time.Millisecond,

		CaptureWidth:  envInt("OVERDUB_CAPTURE_WIDTH", 1280),
		CaptureHeight: envInt("OVERDUB_CAPTURE_HEIGHT", 720),
		ArtifactDir:   envStr("OVERDUB_ARTIFACT_DIR", "artifacts"),
		RegistryPath:  envStr("OVERDUB_REGISTRY_PATH", "artifacts/overdub.db"),

		DubberAPIURL:    envStr("DUBBER_API_URL", "http://dubber:8000"),
		DubberAPIKey:    envStr("DUBBER_API_KEY", ""),
		DubberOutputDir: envStr("DUBBER_OUTPUT_DIR", "/dubber-outputs"),
		DubberVoice:     envStr("DUBBER_VOICE", "narrator"),
		DubberLanguage:  envStr("DUBBER_LANGUAGE", "en"),
	}

	if path := os.Getenv("OVERDUB_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// overlay merges a YAML file on top of the current values. Zero-valued
// fields in the file leave the existing value in place.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if file.VideoPath != "" {
		c.VideoPath = file.VideoPath
	}
	if file.ManifestPath != "" {
		c.ManifestPath = file.ManifestPath
	}
	if file.Port != 0 {
		c.Port = file.Port
	}
	if file.TickInterval != 0 {
		c.TickInterval = file.TickInterval
	}
	if file.CaptureWidth != 0 {
		c.CaptureWidth = file.CaptureWidth
	}
	if file.CaptureHeight != 0 {
		c.CaptureHeight = file.CaptureHeight
	}
	if file.ArtifactDir != "" {
		c.ArtifactDir = file.ArtifactDir
	}
	if file.RegistryPath != "" {
		c.RegistryPath = file.RegistryPath
	}
	if file.DubberAPIURL != "" {
		c.DubberAPIURL = file.DubberAPIURL
	}
	if file.DubberAPIKey != "" {
		c.DubberAPIKey = file.DubberAPIKey
	}
	if file.DubberOutputDir != "" {
		c.DubberOutputDir = file.DubberOutputDir
	}
	if file.DubberVoice != "" {
		c.DubberVoice = file.DubberVoice
	}
	if file.DubberLanguage != "" {
		c.DubberLanguage = file.DubberLanguage
	}
	return nil
}

// Validate rejects values the player cannot run with. The tick interval
// must stay well inside the 0.3s trigger window or segments near the
// window edge could be stepped over without firing.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}
	if c.TickInterval >= 300*time.Millisecond {
		return fmt.Errorf("tick interval %v too coarse for the 300ms trigger window", c.TickInterval)
	}
	if c.CaptureWidth <= 0 || c.CaptureHeight <= 0 {
		return fmt.Errorf("capture size %dx%d invalid", c.CaptureWidth, c.CaptureHeight)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
