// Package config loads settings from config.yaml, an optional .env file and
// HABITUAL_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/utils"
)

// Remote drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Notifier kinds.
const (
	NotifierTray   = "tray"
	NotifierStdout = "stdout"
)

type RemoteConfig struct {
	Driver string `yaml:"driver"`
	// ConnectionString must not embed a password; use the keyring or
	// HABITUAL_DATABASE_URL for credentials.
	ConnectionString string `yaml:"connection_string,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

type ReminderConfig struct {
	SnoozeMinutes int    `yaml:"snooze_minutes"`
	Notifier      string `yaml:"notifier"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug,omitempty"`
}

type Config struct {
	Dir       string         `yaml:"-"`
	Timezone  string         `yaml:"timezone"`
	CachePath string         `yaml:"cache_path"`
	Remote    RemoteConfig   `yaml:"remote"`
	Redis     RedisConfig    `yaml:"redis,omitempty"`
	Reminders ReminderConfig `yaml:"reminders"`
	Metrics   MetricsConfig  `yaml:"metrics,omitempty"`
	Log       LogConfig      `yaml:"log"`
}

// Default returns the settings used when nothing is configured.
func Default(dir string) Config {
	return Config{
		Dir:       dir,
		Timezone:  "Local",
		CachePath: filepath.Join(dir, constants.DefaultDatabaseName),
		Remote:    RemoteConfig{Driver: DriverPostgres},
		Reminders: ReminderConfig{
			SnoozeMinutes: constants.DefaultSnoozeMinutes,
			Notifier:      NotifierTray,
		},
		Log: LogConfig{Level: "warn"},
	}
}

// Path returns the config file location inside dir.
func Path(dir string) string {
	return filepath.Join(dir, constants.DefaultConfigFile)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Load reads dir/config.yaml (missing is fine), then .env files from the
// working directory and dir, then HABITUAL_* variables.
func Load(dir string) (Config, error) {
	dir, err := ExpandHome(dir)
	if err != nil {
		return Config{}, err
	}
	cfg := Default(dir)

	data, err := os.ReadFile(Path(dir))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", Path(dir), err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("failed to read %s: %w", Path(dir), err)
	}
	cfg.Dir = dir

	if err := loadDotEnv(".env", filepath.Join(dir, ".env")); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if cfg.CachePath, err = ExpandHome(cfg.CachePath); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv loads the files that exist. Variables already set win.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func env(key string) (string, bool) {
	v, ok := os.LookupEnv(constants.EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (c *Config) applyEnv() error {
	if v, ok := env("TIMEZONE"); ok {
		c.Timezone = v
	}
	if v, ok := env("CACHE_PATH"); ok {
		c.CachePath = v
	}
	if v, ok := env("REMOTE_DRIVER"); ok {
		c.Remote.Driver = strings.ToLower(v)
	}
	if v, ok := env("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := env("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := env("REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sREDIS_DB %q: %w", constants.EnvPrefix, v, err)
		}
		c.Redis.DB = db
	}
	if v, ok := env("SNOOZE_MINUTES"); ok {
		m, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSNOOZE_MINUTES %q: %w", constants.EnvPrefix, v, err)
		}
		c.Reminders.SnoozeMinutes = m
	}
	if v, ok := env("NOTIFIER"); ok {
		c.Reminders.Notifier = strings.ToLower(v)
	}
	if v, ok := env("METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	if v, ok := env("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := env("DEBUG"); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDEBUG %q: %w", constants.EnvPrefix, v, err)
		}
		c.Log.Debug = debug
	}
	return nil
}

// Validate rejects settings the rest of the program cannot use.
func (c *Config) Validate() error {
	if !utils.ValidateTimezone(c.Timezone) {
		return fmt.Errorf("invalid timezone %q", c.Timezone)
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return errors.New("cache_path cannot be empty")
	}
	switch c.Remote.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown remote driver %q (expected %s or %s)", c.Remote.Driver, DriverPostgres, DriverMemory)
	}
	switch c.Reminders.Notifier {
	case NotifierTray, NotifierStdout:
	default:
		return fmt.Errorf("unknown notifier %q (expected %s or %s)", c.Reminders.Notifier, NotifierTray, NotifierStdout)
	}
	if c.Reminders.SnoozeMinutes < 1 {
		return fmt.Errorf("snooze_minutes must be at least 1, got %d", c.Reminders.SnoozeMinutes)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis db must be non-negative, got %d", c.Redis.DB)
	}
	return nil
}

// Save writes the config file, creating dir if needed.
func (c Config) Save() error {
	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(Path(c.Dir), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
