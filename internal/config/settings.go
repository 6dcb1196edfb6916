// Package config loads application settings and connection profiles.
//
// Settings come from remit.yaml (or the file given with --config), then
// REMIT_* environment variables, then built-in defaults. Nested keys map to
// environment variables with underscores: watch.poll_interval is
// REMIT_WATCH_POLL_INTERVAL.
//
// Profiles are stored one per file as <name>.toml in the profiles
// directory and describe how to reach a host.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/steveyegge/remit/internal/tracker"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "REMIT"

// Settings is the effective application configuration.
type Settings struct {
	Rclone   RcloneSettings  `mapstructure:"rclone" yaml:"rclone"`
	Profiles ProfileSettings `mapstructure:"profiles" yaml:"profiles"`
	Mirror   MirrorSettings  `mapstructure:"mirror" yaml:"mirror"`
	Watch    WatchSettings   `mapstructure:"watch" yaml:"watch"`
	Consume  ConsumeSettings `mapstructure:"consume" yaml:"consume"`
	SSH      SSHSettings     `mapstructure:"ssh" yaml:"ssh"`
	History  HistorySettings `mapstructure:"history" yaml:"history"`
	Log      LogSettings     `mapstructure:"log" yaml:"log"`
	Feed     FeedSettings    `mapstructure:"feed" yaml:"feed"`

	// File is the settings file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

// RcloneSettings locates the rclone executable and its configuration.
type RcloneSettings struct {
	Exe        string        `mapstructure:"exe" yaml:"exe"`
	Dir        string        `mapstructure:"dir" yaml:"dir"`
	ConfigFile string        `mapstructure:"config_file" yaml:"config_file"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ProfileSettings locates the profile store.
type ProfileSettings struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// MirrorSettings sets where remote directories are mirrored locally.
type MirrorSettings struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// WatchSettings configures the directory watcher.
type WatchSettings struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	BufferSize   int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	Backend      string        `mapstructure:"backend" yaml:"backend"`
	Ignore       []string      `mapstructure:"ignore" yaml:"ignore"`
}

// ConsumeSettings configures the event consumer.
type ConsumeSettings struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	Order        string        `mapstructure:"order" yaml:"order"`
}

// SSHSettings configures remote sessions.
type SSHSettings struct {
	KnownHosts string        `mapstructure:"known_hosts" yaml:"known_hosts"`
	Insecure   bool          `mapstructure:"insecure" yaml:"insecure"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// HistorySettings configures the upload journal.
type HistorySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogSettings configures the log file and its rotation.
type LogSettings struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	Quiet      bool   `mapstructure:"quiet" yaml:"quiet"`
}

// FeedSettings configures the WebSocket activity feed.
type FeedSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// Dir returns the per-user directory holding remit state.
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "remit")
	}
	return ".remit"
}

func setDefaults(v *viper.Viper) {
	base := Dir()

	exe := "rclone"
	if runtime.GOOS == "windows" {
		exe = "rclone.exe"
	}
	v.SetDefault("rclone.exe", exe)
	v.SetDefault("rclone.dir", "")
	v.SetDefault("rclone.config_file", "")
	v.SetDefault("rclone.timeout", 10*time.Minute)

	v.SetDefault("profiles.dir", filepath.Join(base, "profiles"))

	mirror := filepath.Join(base, "mirror")
	if home, err := os.UserHomeDir(); err == nil {
		mirror = filepath.Join(home, "remit")
	}
	v.SetDefault("mirror.root", mirror)

	v.SetDefault("watch.poll_interval", time.Second)
	v.SetDefault("watch.buffer_size", 2048)
	v.SetDefault("watch.backend", "auto")
	v.SetDefault("watch.ignore", []string{})

	v.SetDefault("consume.poll_interval", time.Second)
	v.SetDefault("consume.batch_size", 5)
	v.SetDefault("consume.order", "lifo")

	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.insecure", false)
	v.SetDefault("ssh.timeout", 15*time.Second)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", filepath.Join(base, "history.db"))

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.quiet", false)

	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.host", "127.0.0.1")
	v.SetDefault("feed.port", 8787)
}

// Load reads settings. With an explicit file, that file must exist;
// otherwise remit.yaml is searched in the working directory and Dir and
// its absence is not an error.
func Load(file string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("remit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.File = v.ConfigFileUsed()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks values that cannot be defaulted.
func (s *Settings) Validate() error {
	if _, err := tracker.ParseOrder(s.Consume.Order); err != nil {
		return fmt.Errorf("invalid consume.order: %w", err)
	}
	switch strings.ToLower(s.Watch.Backend) {
	case "", "auto", "native", "fsnotify":
	default:
		return fmt.Errorf("invalid watch.backend %q (want auto, native or fsnotify)", s.Watch.Backend)
	}
	if s.Watch.BufferSize < 0 || s.Consume.BatchSize < 0 {
		return errors.New("buffer and batch sizes must not be negative")
	}
	if s.Feed.Port < 0 || s.Feed.Port > 65535 {
		return fmt.Errorf("invalid feed.port %d", s.Feed.Port)
	}
	return nil
}

// Order returns the parsed drain order.
func (s *Settings) Order() tracker.Order {
	order, _ := tracker.ParseOrder(s.Consume.Order)
	return order
}
