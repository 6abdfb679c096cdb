// Package config resolves gateway settings from defaults, an optional TOML
// or YAML file and GATEWAY_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"automation-gateway/internal/logging"
)

const EnvConfigFile = "GATEWAY_CONFIG"

type Config struct {
	Listen       string        `toml:"listen" yaml:"listen"`
	LogLevel     string        `toml:"log_level" yaml:"log_level"`
	MaxBodyBytes int64         `toml:"max_body_bytes" yaml:"max_body_bytes"`
	Shell        ShellConfig   `toml:"shell" yaml:"shell"`
	Desktop      DesktopConfig `toml:"desktop" yaml:"desktop"`
	Metrics      MetricsConfig `toml:"metrics" yaml:"metrics"`
}

type ShellConfig struct {
	Path           string   `toml:"path" yaml:"path"`
	Mode           string   `toml:"mode" yaml:"mode"`
	CommandTimeout Duration `toml:"command_timeout" yaml:"command_timeout"`
	StopGrace      Duration `toml:"stop_grace" yaml:"stop_grace"`
	MaxOutputBytes int      `toml:"max_output_bytes" yaml:"max_output_bytes"`
}

type DesktopConfig struct {
	Display            string   `toml:"display" yaml:"display"`
	Xdotool            string   `toml:"xdotool" yaml:"xdotool"`
	Scrot              string   `toml:"scrot" yaml:"scrot"`
	ScreenshotDir      string   `toml:"screenshot_dir" yaml:"screenshot_dir"`
	ScreenshotMaxWidth int      `toml:"screenshot_max_width" yaml:"screenshot_max_width"`
	TypeDelay          Duration `toml:"type_delay" yaml:"type_delay"`
}

type MetricsConfig struct {
	// Exporter is one of none, stdout or otlp.
	Exporter string   `toml:"exporter" yaml:"exporter"`
	Interval Duration `toml:"interval" yaml:"interval"`
}

func Default() Config {
	return Config{
		Listen:       ":8080",
		LogLevel:     "info",
		MaxBodyBytes: 4 << 20,
		Shell: ShellConfig{
			Path:           "/bin/bash",
			Mode:           "pipe",
			CommandTimeout: Duration(30 * time.Second),
			StopGrace:      Duration(5 * time.Second),
			MaxOutputBytes: 10 << 20,
		},
		Desktop: DesktopConfig{
			Display:       ":1",
			Xdotool:       "xdotool",
			Scrot:         "scrot",
			ScreenshotDir: os.TempDir(),
			TypeDelay:     Duration(12 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Exporter: "none",
			Interval: Duration(time.Minute),
		},
	}
}

// Load returns the defaults overlaid with the file named by path (or by
// GATEWAY_CONFIG when path is empty) and then the environment.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	if path == "" {
		path = getenv(EnvConfigFile)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(b, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		return fmt.Errorf("config %s: unsupported extension (want .toml, .yaml or .yml)", path)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *Duration) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		return dst.UnmarshalText([]byte(v))
	}

	str("GATEWAY_LISTEN", &cfg.Listen)
	str("GATEWAY_LOG_LEVEL", &cfg.LogLevel)
	str("GATEWAY_SHELL", &cfg.Shell.Path)
	str("GATEWAY_SHELL_MODE", &cfg.Shell.Mode)
	str("GATEWAY_DISPLAY", &cfg.Desktop.Display)
	str("GATEWAY_XDOTOOL", &cfg.Desktop.Xdotool)
	str("GATEWAY_SCROT", &cfg.Desktop.Scrot)
	str("GATEWAY_SCREENSHOT_DIR", &cfg.Desktop.ScreenshotDir)
	str("GATEWAY_METRICS_EXPORTER", &cfg.Metrics.Exporter)

	maxBody := int(cfg.MaxBodyBytes)
	for _, f := range []func() error{
		func() error { return num("GATEWAY_MAX_BODY_BYTES", &maxBody) },
		func() error { return num("GATEWAY_MAX_OUTPUT_BYTES", &cfg.Shell.MaxOutputBytes) },
		func() error { return num("GATEWAY_SCREENSHOT_MAX_WIDTH", &cfg.Desktop.ScreenshotMaxWidth) },
		func() error { return dur("GATEWAY_COMMAND_TIMEOUT", &cfg.Shell.CommandTimeout) },
		func() error { return dur("GATEWAY_STOP_GRACE", &cfg.Shell.StopGrace) },
		func() error { return dur("GATEWAY_TYPE_DELAY", &cfg.Desktop.TypeDelay) },
		func() error { return dur("GATEWAY_METRICS_INTERVAL", &cfg.Metrics.Interval) },
	} {
		if err := f(); err != nil {
			return fmt.Errorf("environment: %w", err)
		}
	}
	cfg.MaxBodyBytes = int64(maxBody)
	return nil
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	}
	switch c.Shell.Mode {
	case "pipe", "pty":
	default:
		return fmt.Errorf("shell mode %q: want pipe or pty", c.Shell.Mode)
	}
	if c.Shell.Path == "" {
		return fmt.Errorf("shell path must not be empty")
	}
	if c.Shell.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive")
	}
	if c.Shell.MaxOutputBytes < 0 || c.Desktop.ScreenshotMaxWidth < 0 {
		return fmt.Errorf("size limits must not be negative")
	}
	switch c.Metrics.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("metrics exporter %q: want none, stdout or otlp", c.Metrics.Exporter)
	}
	return nil
}

// Duration is a time.Duration written as "30s" or "1m" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}
