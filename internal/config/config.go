package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/TanaroSch/telly-spelly/internal/hotkey"
	"github.com/TanaroSch/telly-spelly/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. TELLY_SPELLY_START_KEY.
const EnvPrefix = "TELLY_SPELLY_"

// KGlobalAccelConfig names the component the KDE actions are filed under.
type KGlobalAccelConfig struct {
	Component          string `json:"component" yaml:"component" env:"COMPONENT"`
	AlternateComponent string `json:"alternate_component" yaml:"alternate_component" env:"ALTERNATE_COMPONENT"`
	FriendlyName       string `json:"friendly_name,omitempty" yaml:"friendly_name,omitempty" env:"FRIENDLY_NAME"`
}

// Config holds the application configuration
type Config struct {
	// Desktop overrides detection: auto, kde, xfce or unknown.
	Desktop  string `json:"desktop" yaml:"desktop" env:"DESKTOP"`
	StartKey string `json:"start_key" yaml:"start_key" env:"START_KEY"`
	StopKey  string `json:"stop_key" yaml:"stop_key" env:"STOP_KEY"`

	UseNotifications   bool `json:"use_notifications" yaml:"use_notifications" env:"USE_NOTIFICATIONS"`
	EnablePortal       bool `json:"enable_portal" yaml:"enable_portal" env:"ENABLE_PORTAL"`
	EnableKGlobalAccel bool `json:"enable_kglobalaccel" yaml:"enable_kglobalaccel" env:"ENABLE_KGLOBALACCEL"`
	X11GrabFallback    bool `json:"x11_grab_fallback" yaml:"x11_grab_fallback" env:"X11_GRAB_FALLBACK"`
	DedupeWindowMS     int  `json:"dedupe_window_ms" yaml:"dedupe_window_ms" env:"DEDUPE_WINDOW_MS"`

	KGlobalAccel KGlobalAccelConfig `json:"kglobalaccel" yaml:"kglobalaccel" envPrefix:"KGLOBALACCEL_"`

	LogLevel  string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" env:"LOG_FORMAT"`

	// Non-serialized runtime state
	configPath string
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	kga := hotkey.DefaultKGlobalAccelOptions()
	return &Config{
		Desktop:            "auto",
		StartKey:           "Ctrl+Alt+R",
		StopKey:            "Ctrl+Alt+S",
		UseNotifications:   true,
		EnablePortal:       true,
		EnableKGlobalAccel: true,
		DedupeWindowMS:     int(hotkey.DefaultDedupeWindow / time.Millisecond),
		KGlobalAccel: KGlobalAccelConfig{
			Component:          kga.Component,
			AlternateComponent: kga.AlternateComponent,
			FriendlyName:       kga.FriendlyName,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// DefaultPath is config.json under the user's configuration directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(dir, "telly-spelly", "config.json")
}

// GetConfigPath returns the path to the configuration file
func (c *Config) GetConfigPath() string {
	return c.configPath
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads the configuration file, creating a default one when it does
// not exist, then applies environment overrides and validates the result.
// Fields missing from the file keep their defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, creating default", "component", "config", "path", configPath)
		if createErr := CreateDefaultConfig(configPath); createErr != nil {
			return nil, fmt.Errorf("config file not found and failed to create default '%s': %w", configPath, createErr)
		}
		data, err = os.ReadFile(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	cfg := Default()
	if isYAML(configPath) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", configPath, err)
	}
	cfg.configPath = configPath

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config '%s': %w", configPath, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TELLY_SPELLY_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects key combinations, desktop labels and log settings that
// cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if _, err := hotkey.ParseKeyCombo(c.StartKey); err != nil {
		errs = append(errs, fmt.Errorf("start_key: %w", err))
	}
	if _, err := hotkey.ParseKeyCombo(c.StopKey); err != nil {
		errs = append(errs, fmt.Errorf("stop_key: %w", err))
	}
	if _, _, err := hotkey.ParseEnvironment(c.Desktop); err != nil {
		errs = append(errs, fmt.Errorf("desktop: %w", err))
	}
	if c.DedupeWindowMS < 0 {
		errs = append(errs, fmt.Errorf("dedupe_window_ms: must not be negative, got %d", c.DedupeWindowMS))
	}
	if err := logging.Validate(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		errs = append(errs, fmt.Errorf("log_format: %w", err))
	}
	return errors.Join(errs...)
}

// DedupeWindow returns the dispatcher dedupe window.
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowMS) * time.Millisecond
}

// KGlobalAccelOptions converts the component settings for the hotkey package.
func (c *Config) KGlobalAccelOptions() hotkey.KGlobalAccelOptions {
	return hotkey.KGlobalAccelOptions{
		Component:          c.KGlobalAccel.Component,
		AlternateComponent: c.KGlobalAccel.AlternateComponent,
		FriendlyName:       c.KGlobalAccel.FriendlyName,
	}
}

// Save writes the current configuration back to its file.
func (c *Config) Save() error {
	if c.configPath == "" {
		return fmt.Errorf("config has no file path")
	}
	var (
		data []byte
		err  error
	)
	if isYAML(c.configPath) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(c.configPath, data, 0600)
}

// CreateDefaultConfig writes the default configuration to configPath.
func CreateDefaultConfig(configPath string) error {
	cfg := Default()
	cfg.configPath = configPath
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	slog.Info("default config created", "component", "config", "path", configPath)
	return nil
}
