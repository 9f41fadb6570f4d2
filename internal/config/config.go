// Package config loads the panel configuration from a YAML file, the
// environment and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	fileName  = "ptzpanel"
	envPrefix = "PTZPANEL"
)

// Settings backends
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the full application configuration.
type Config struct {
	Listen         string         `mapstructure:"listen" yaml:"listen"`
	StaticDir      string         `mapstructure:"static_dir" yaml:"static_dir"`
	AllowedOrigins []string       `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ProxyAddress   string         `mapstructure:"proxy_address" yaml:"proxy_address"`
	Cameras        []string       `mapstructure:"cameras" yaml:"cameras"`
	Motion         MotionConfig   `mapstructure:"motion" yaml:"motion"`
	Device         DeviceConfig   `mapstructure:"device" yaml:"device"`
	Settings       SettingsConfig `mapstructure:"settings" yaml:"settings"`
	Session        SessionConfig  `mapstructure:"session" yaml:"session"`
	Log            LogConfig      `mapstructure:"log" yaml:"log"`
}

type MotionConfig struct {
	RotationSpeed    float64       `mapstructure:"rotation_speed" yaml:"rotation_speed"`
	RotationInterval time.Duration `mapstructure:"rotation_interval" yaml:"rotation_interval"`
	ZoomInterval     time.Duration `mapstructure:"zoom_interval" yaml:"zoom_interval"`
	InvertX          bool          `mapstructure:"invert_x" yaml:"invert_x"`
	InvertY          bool          `mapstructure:"invert_y" yaml:"invert_y"`
}

type DeviceConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SettingsConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend"`
	Path         string `mapstructure:"path" yaml:"path"`
	RedisAddress string `mapstructure:"redis_address" yaml:"redis_address"`
	RedisDB      int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisPrefix  string `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

// SessionConfig limits inbound websocket traffic per page.
type SessionConfig struct {
	MessageRate  float64 `mapstructure:"message_rate" yaml:"message_rate"`
	MessageBurst int     `mapstructure:"message_burst" yaml:"message_burst"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("static_dir", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("proxy_address", "10.128.115.10:7070")
	v.SetDefault("cameras", []string{"10.128.115.30", "10.128.115.31"})

	v.SetDefault("motion.rotation_speed", 0.4)
	v.SetDefault("motion.rotation_interval", 100*time.Millisecond)
	v.SetDefault("motion.zoom_interval", 20*time.Millisecond)
	v.SetDefault("motion.invert_x", true)
	v.SetDefault("motion.invert_y", false)

	v.SetDefault("device.timeout", 5*time.Second)

	v.SetDefault("settings.backend", BackendFile)
	v.SetDefault("settings.path", defaultSettingsPath())
	v.SetDefault("settings.redis_address", "localhost:6379")
	v.SetDefault("settings.redis_db", 0)
	v.SetDefault("settings.redis_prefix", "ptzpanel:")

	v.SetDefault("session.message_rate", 200.0)
	v.SetDefault("session.message_burst", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "ptzpanel-settings.json")
	}
	return filepath.Join(dir, "ptzpanel", "settings.json")
}

// Load reads cfgFile, or ./ptzpanel.yaml then $HOME/.ptzpanel.yaml when
// cfgFile is empty. A missing default file is not an error. PTZPANEL_*
// environment variables override file values.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = findConfigFile()
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func findConfigFile() string {
	candidates := []string{fileName + ".yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "."+fileName+".yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	if c.ProxyAddress == "" {
		return errors.New("config: proxy_address is required")
	}
	if len(c.Cameras) == 0 {
		return errors.New("config: at least one camera is required")
	}
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam == "" {
			return errors.New("config: empty camera address")
		}
		if seen[cam] {
			return fmt.Errorf("config: camera %s listed twice", cam)
		}
		seen[cam] = true
	}
	if c.Motion.RotationSpeed <= 0 {
		return fmt.Errorf("config: motion.rotation_speed must be positive, got %v", c.Motion.RotationSpeed)
	}
	if c.Motion.RotationInterval <= 0 || c.Motion.ZoomInterval <= 0 {
		return errors.New("config: motion intervals must be positive")
	}
	switch c.Settings.Backend {
	case BackendFile:
		if c.Settings.Path == "" {
			return errors.New("config: settings.path is required for the file backend")
		}
	case BackendRedis:
		if c.Settings.RedisAddress == "" {
			return errors.New("config: settings.redis_address is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown settings.backend %q", c.Settings.Backend)
	}
	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
