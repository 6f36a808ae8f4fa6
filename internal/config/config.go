// Package config loads and saves the camview settings file.
package config

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kataras/golog"
	"github.com/svanichkin/camview"
	"gopkg.in/yaml.v3"
)

// OverlayConfig is an image composited over the live view.
type OverlayConfig struct {
	Path    string `yaml:"path"`
	Opacity int    `yaml:"opacity"`
}

// Viewport is the display size; zero means the native capture size.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

func (v Viewport) Point() image.Point {
	return image.Pt(v.Width, v.Height)
}

// Config is the complete settings file.
type Config struct {
	Device   string `yaml:"device"`
	LogLevel string `yaml:"log_level"`

	camview.CameraConfig `yaml:",inline"`

	Amplification int             `yaml:"amplification"`
	Viewport      Viewport        `yaml:"viewport"`
	Overlays      []OverlayConfig `yaml:"overlays,omitempty"`

	// Listen is the preview server address.
	Listen string `yaml:"listen"`

	// Retry is the interval between attempts to open a missing device.
	// Zero disables retrying.
	Retry time.Duration `yaml:"retry"`
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		Device:        camview.DefaultDevice,
		LogLevel:      "info",
		CameraConfig:  camview.DefaultCameraConfig(),
		Amplification: camview.DefaultAmplification,
		Listen:        "127.0.0.1:8080",
		Retry:         time.Second,
	}
}

// DefaultPath returns <user config dir>/camview/camview.yml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: user config directory: %w", err)
	}
	return filepath.Join(dir, "camview", "camview.yml"), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the core cannot use.
func (c *Config) Validate() error {
	if c.Device == "" {
		return errors.New("device is empty")
	}
	if err := ValidLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.SnapshotQuality < 0 || c.SnapshotQuality > 100 {
		return fmt.Errorf("snapshot_quality %d out of range 0..100", c.SnapshotQuality)
	}
	if c.Amplification <= 0 {
		return fmt.Errorf("amplification %d must be positive", c.Amplification)
	}
	if c.Viewport.Width < 0 || c.Viewport.Height < 0 {
		return fmt.Errorf("viewport %dx%d is negative", c.Viewport.Width, c.Viewport.Height)
	}
	for i, o := range c.Overlays {
		if o.Path == "" {
			return fmt.Errorf("overlay %d has no path", i)
		}
		if o.Opacity < 0 || o.Opacity > 255 {
			return fmt.Errorf("overlay %s opacity %d out of range 0..255", o.Path, o.Opacity)
		}
	}
	if c.Retry < 0 {
		return fmt.Errorf("retry %s is negative", c.Retry)
	}
	return nil
}

// ValidLogLevel rejects names golog does not know. golog maps those to its
// disable level, which would silence every logger including fatal errors.
func ValidLogLevel(name string) error {
	if golog.ParseLevel(name) != golog.DisableLevel {
		return nil
	}
	switch strings.ToLower(name) {
	case "disable", "disabled":
		return nil
	}
	return fmt.Errorf("log_level %q is not one of debug, info, warn, error, fatal or disable", name)
}
