// Package config layers defaults, an optional INI file, DLNACAST_*
// environment variables and command-line flags, in that order.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const (
	EnvPrefix     = "DLNACAST_"
	EnvConfigPath = EnvPrefix + "CONFIG"

	defaultConfigPath = "~/.config/dlnacast/config.ini"
)

type Config struct {
	Port      int
	Cast      bool
	List      bool
	Device    string
	Subtitles string
	LogLevel  string
	Metrics   bool
	// DowngradeHTTPS rewrites https:// sources to http:// before resolving.
	DowngradeHTTPS bool

	PollInterval time.Duration
	PollDelay    time.Duration
	SettleWindow time.Duration
	SeekStep     time.Duration

	// Path is the config file that was read, empty if none.
	Path string
}

func Defaults() Config {
	return Config{
		Port:           8888,
		Cast:           true,
		LogLevel:       "warn",
		DowngradeHTTPS: true,
		PollInterval:   1500 * time.Millisecond,
		PollDelay:      3 * time.Second,
		SettleWindow:   2 * time.Second,
		SeekStep:       10 * time.Second,
	}
}

// Load returns defaults overlaid with the config file and the environment.
// A missing default file is fine; a missing file named by DLNACAST_CONFIG is
// an error.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Defaults()

	path, explicit := strings.TrimSpace(getenv(EnvConfigPath)), true
	if path == "" {
		path, explicit = defaultConfigPath, false
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "expand config path %q", path)
	}

	if _, statErr := os.Stat(expanded); statErr == nil {
		if err := cfg.applyFile(expanded); err != nil {
			return cfg, err
		}
	} else if explicit {
		return cfg, errors.Wrapf(statErr, "config file %s", expanded)
	}

	cfg.applyEnv(getenv)
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	sec := file.Section(ini.DefaultSection)

	c.Port = sec.Key("port").MustInt(c.Port)
	c.Cast = sec.Key("cast").MustBool(c.Cast)
	c.List = sec.Key("list").MustBool(c.List)
	c.Device = sec.Key("device").MustString(c.Device)
	c.Subtitles = sec.Key("subtitles").MustString(c.Subtitles)
	c.LogLevel = sec.Key("log_level").MustString(c.LogLevel)
	c.Metrics = sec.Key("metrics").MustBool(c.Metrics)
	c.DowngradeHTTPS = sec.Key("downgrade_https").MustBool(c.DowngradeHTTPS)
	c.PollInterval = sec.Key("poll_interval").MustDuration(c.PollInterval)
	c.PollDelay = sec.Key("poll_delay").MustDuration(c.PollDelay)
	c.SettleWindow = sec.Key("settle_window").MustDuration(c.SettleWindow)
	c.SeekStep = sec.Key("seek_step").MustDuration(c.SeekStep)

	if c.Subtitles != "" {
		if p, err := homedir.Expand(c.Subtitles); err == nil {
			c.Subtitles = p
		}
	}
	c.Path = filepath.Clean(path)
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	c.Port = intEnv(getenv, EnvPrefix+"PORT", c.Port)
	c.Cast = boolEnv(getenv, EnvPrefix+"CAST", c.Cast)
	c.List = boolEnv(getenv, EnvPrefix+"LIST", c.List)
	c.Device = stringEnv(getenv, EnvPrefix+"DEVICE", c.Device)
	c.Subtitles = stringEnv(getenv, EnvPrefix+"SUBTITLES", c.Subtitles)
	c.LogLevel = stringEnv(getenv, EnvPrefix+"LOG_LEVEL", c.LogLevel)
	c.Metrics = boolEnv(getenv, EnvPrefix+"METRICS", c.Metrics)
	c.DowngradeHTTPS = boolEnv(getenv, EnvPrefix+"DOWNGRADE_HTTPS", c.DowngradeHTTPS)
	c.PollInterval = durationEnv(getenv, EnvPrefix+"POLL_INTERVAL", c.PollInterval)
	c.PollDelay = durationEnv(getenv, EnvPrefix+"POLL_DELAY", c.PollDelay)
	c.SettleWindow = durationEnv(getenv, EnvPrefix+"SETTLE_WINDOW", c.SettleWindow)
	c.SeekStep = durationEnv(getenv, EnvPrefix+"SEEK_STEP", c.SeekStep)
}

// RegisterFlags binds command-line flags onto c, so flags parsed later win
// over everything Load applied.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "port the media server listens on")
	fs.BoolFunc("no-dlna", "serve the media without casting to a device", func(string) error {
		c.Cast = false
		return nil
	})
	fs.BoolVar(&c.List, "list", c.List, "choose the device from a list instead of using the first one found")
	fs.StringVar(&c.Device, "device", c.Device, "name of the device to cast to")
	fs.StringVar(&c.Subtitles, "subtitles", c.Subtitles, "subtitle file or URL")
	fs.StringVar(&c.Subtitles, "s", c.Subtitles, "shorthand for -subtitles")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&c.Metrics, "metrics", c.Metrics, "expose Prometheus metrics at /metrics")
	fs.BoolVar(&c.DowngradeHTTPS, "downgrade-https", c.DowngradeHTTPS, "fetch https sources over plain http")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "transport state poll interval")
	fs.DurationVar(&c.PollDelay, "poll-delay", c.PollDelay, "delay before the first transport state poll")
	fs.DurationVar(&c.SettleWindow, "settle-window", c.SettleWindow, "how long -list waits for discovery")
	fs.DurationVar(&c.SeekStep, "seek-step", c.SeekStep, "how far the right arrow seeks forward")
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.PollDelay < 0 {
		return errors.New("poll delay must not be negative")
	}
	if c.SettleWindow <= 0 {
		return errors.New("settle window must be positive")
	}
	if c.SeekStep < time.Second {
		return errors.New("seek step must be at least one second")
	}
	return nil
}

func boolEnv(getenv func(string) string, key string, fallback bool) bool {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func intEnv(getenv func(string) string, key string, fallback int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func durationEnv(getenv func(string) string, key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func stringEnv(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}
