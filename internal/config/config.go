// Package config loads yeet settings from defaults, an optional TOML file,
// YEET_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/yeet/internal/logger"
	"github.com/loykin/yeet/internal/state"
	"github.com/loykin/yeet/internal/tunnel"
)

// EnvPrefix is prepended to every environment override, e.g. YEET_PORT.
const EnvPrefix = "YEET"

// ConfigFileName is looked up inside the state directory when no explicit
// config path is given.
const ConfigFileName = "config.toml"

type Config struct {
	Port      int             `mapstructure:"port"`
	StateDir  string          `mapstructure:"state_dir"`
	Tunnel    TunnelConfig    `mapstructure:"tunnel"`
	Launcher  LauncherConfig  `mapstructure:"launcher"`
	Presenter PresenterConfig `mapstructure:"presenter"`
	Log       LogConfig       `mapstructure:"log"`
	History   HistoryConfig   `mapstructure:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type TunnelConfig struct {
	Binary  string   `mapstructure:"binary"`
	Args    []string `mapstructure:"args"`
	Pattern string   `mapstructure:"pattern"`
}

type LauncherConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

type PresenterConfig struct {
	Refresh time.Duration `mapstructure:"refresh"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	DaemonLevel string `mapstructure:"daemon_level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// HistoryConfig selects the job history sink. A DSN of "none" disables it;
// an empty DSN means the sqlite file in the state directory.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// FlagKeys maps command-line flag names onto config keys.
var FlagKeys = map[string]string{
	"port":        "port",
	"state-dir":   "state_dir",
	"log-level":   "log.level",
	"tunnel-bin":  "tunnel.binary",
	"history-dsn": "history.dsn",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8000)
	v.SetDefault("state_dir", state.DefaultDir())
	v.SetDefault("tunnel.binary", "cloudflared")
	v.SetDefault("tunnel.args", []string{"tunnel", "--url"})
	v.SetDefault("tunnel.pattern", tunnel.DefaultPattern)
	v.SetDefault("launcher.handshake_timeout", 30*time.Second)
	v.SetDefault("launcher.poll_interval", 500*time.Millisecond)
	v.SetDefault("presenter.refresh", 3*time.Second)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.daemon_level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.enabled", true)
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Load resolves configuration. path names an explicit TOML file which must
// exist; when empty, <state_dir>/config.toml is read if present. fs may be
// nil; only flags the user actually set override lower layers.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range FlagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(v.GetString("state_dir"), ConfigFileName)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		missing := errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Tunnel.Binary == "" {
		return errors.New("tunnel.binary must not be empty")
	}
	if c.Launcher.HandshakeTimeout <= 0 {
		return errors.New("launcher.handshake_timeout must be positive")
	}
	if c.Launcher.PollInterval <= 0 {
		return errors.New("launcher.poll_interval must be positive")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := tunnel.NewExtractor(c.Tunnel.Pattern); err != nil {
		return fmt.Errorf("tunnel.pattern: %w", err)
	}
	return nil
}

// StatePath is the location of the tunnel record.
func (c Config) StatePath() string { return filepath.Join(c.StateDir, state.FileName) }

// LogPath is the daemon log file.
func (c Config) LogPath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.StateDir, "daemon.log")
}

// HistoryDSN returns the effective history DSN, or "" when disabled.
func (c Config) HistoryDSN() string {
	switch strings.TrimSpace(c.History.DSN) {
	case "":
		return "sqlite://" + filepath.Join(c.StateDir, "history.db")
	case "none", "off":
		return ""
	}
	return c.History.DSN
}

// DaemonLogConfig is the logger configuration for the detached daemon.
func (c Config) DaemonLogConfig() logger.Config {
	return logger.Config{
		Level:    c.Log.DaemonLevel,
		ShowTime: true,
		File: logger.FileConfig{
			Path:       c.LogPath(),
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}
