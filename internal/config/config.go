// Package config loads captchad settings from defaults, an optional TOML
// file, an optional .env file and CAPTCHAX_* environment variables, each
// overriding the previous one.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration is a time.Duration read from strings such as "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Addr     string   `toml:"addr"`     // CAPTCHAX_ADDR (default ":8080")
	Secret   string   `toml:"secret"`   // CAPTCHAX_SECRET (required)
	SiteKey  string   `toml:"site_key"` // CAPTCHAX_SITE_KEY (optional, renders the widget on challenge pages)
	Endpoint string   `toml:"endpoint"` // CAPTCHAX_ENDPOINT (default Google siteverify)
	Timeout  Duration `toml:"timeout"`  // CAPTCHAX_TIMEOUT (default 10s)

	Validity        Duration `toml:"validity"`         // CAPTCHAX_VALIDITY (default 10m; 0 = verify every request)
	LockName        string   `toml:"lock_name"`        // CAPTCHAX_LOCK_NAME (default "session")
	IndependentLock bool     `toml:"independent_lock"` // CAPTCHAX_INDEPENDENT_LOCK (default false)
	ResponseField   string   `toml:"response_field"`   // CAPTCHAX_RESPONSE_FIELD (default "response")

	LogLevel string `toml:"log_level"` // CAPTCHAX_LOG_LEVEL (default "info")
	LogColor bool   `toml:"log_color"` // CAPTCHAX_LOG_COLOR (default false)

	Session Session `toml:"session"`
}

type Session struct {
	Backend         string   `toml:"backend"`          // CAPTCHAX_SESSION_BACKEND memory|redis|sqlite|mysql (default "memory")
	DSN             string   `toml:"dsn"`              // CAPTCHAX_SESSION_DSN (redis URL, sqlite file or mysql DSN)
	CookieName      string   `toml:"cookie_name"`      // CAPTCHAX_SESSION_COOKIE_NAME (default "session_id")
	Secure          bool     `toml:"secure"`           // CAPTCHAX_SESSION_SECURE (default false)
	Lifetime        Duration `toml:"lifetime"`         // CAPTCHAX_SESSION_LIFETIME (default 24h)
	IdleTimeout     Duration `toml:"idle_timeout"`     // CAPTCHAX_SESSION_IDLE_TIMEOUT (default 0 = none)
	CleanupInterval Duration `toml:"cleanup_interval"` // CAPTCHAX_SESSION_CLEANUP_INTERVAL (default 5m)
}

var backends = []string{"memory", "redis", "sqlite", "mysql"}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Addr:          ":8080",
		Endpoint:      "https://www.google.com/recaptcha/api/siteverify",
		Timeout:       Duration{10 * time.Second},
		Validity:      Duration{10 * time.Minute},
		LockName:      "session",
		ResponseField: "response",
		LogLevel:      "info",
		Session: Session{
			Backend:         "memory",
			CookieName:      "session_id",
			Lifetime:        Duration{24 * time.Hour},
			CleanupInterval: Duration{5 * time.Minute},
		},
	}
}

// Load builds the configuration. path names a TOML file and envFile a
// .env file; either may be empty. A missing default ".env" is not an
// error, a missing file named explicitly is. Values already in the
// environment win over those in envFile.
func Load(path, envFile string) (*Config, error) {
	c := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("env file .env: %w", err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	c.Addr = envOrDefault("CAPTCHAX_ADDR", c.Addr)
	c.Secret = envOrDefault("CAPTCHAX_SECRET", c.Secret)
	c.SiteKey = envOrDefault("CAPTCHAX_SITE_KEY", c.SiteKey)
	c.Endpoint = envOrDefault("CAPTCHAX_ENDPOINT", c.Endpoint)
	c.LockName = envOrDefault("CAPTCHAX_LOCK_NAME", c.LockName)
	c.ResponseField = envOrDefault("CAPTCHAX_RESPONSE_FIELD", c.ResponseField)
	c.LogLevel = envOrDefault("CAPTCHAX_LOG_LEVEL", c.LogLevel)
	c.Session.Backend = envOrDefault("CAPTCHAX_SESSION_BACKEND", c.Session.Backend)
	c.Session.DSN = envOrDefault("CAPTCHAX_SESSION_DSN", c.Session.DSN)
	c.Session.CookieName = envOrDefault("CAPTCHAX_SESSION_COOKIE_NAME", c.Session.CookieName)

	durations := map[string]*Duration{
		"CAPTCHAX_TIMEOUT":                  &c.Timeout,
		"CAPTCHAX_VALIDITY":                 &c.Validity,
		"CAPTCHAX_SESSION_LIFETIME":         &c.Session.Lifetime,
		"CAPTCHAX_SESSION_IDLE_TIMEOUT":     &c.Session.IdleTimeout,
		"CAPTCHAX_SESSION_CLEANUP_INTERVAL": &c.Session.CleanupInterval,
	}
	for key, d := range durations {
		if v := os.Getenv(key); v != "" {
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	bools := map[string]*bool{
		"CAPTCHAX_INDEPENDENT_LOCK": &c.IndependentLock,
		"CAPTCHAX_LOG_COLOR":        &c.LogColor,
		"CAPTCHAX_SESSION_SECURE":   &c.Session.Secure,
	}
	for key, b := range bools {
		if v := os.Getenv(key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*b = parsed
		}
	}

	return nil
}

// Validate reports the first setting that can't be used to run a server.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("CAPTCHAX_SECRET is required")
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Timeout.Duration <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Session.Lifetime.Duration <= 0 {
		return fmt.Errorf("session.lifetime must be positive")
	}
	if c.Session.CleanupInterval.Duration <= 0 {
		return fmt.Errorf("session.cleanup_interval must be positive")
	}

	backend := strings.ToLower(c.Session.Backend)
	var known bool
	for _, b := range backends {
		known = known || b == backend
	}
	if !known {
		return fmt.Errorf("session.backend %q: must be one of %s", c.Session.Backend, strings.Join(backends, ", "))
	}
	if backend != "memory" && c.Session.DSN == "" {
		return fmt.Errorf("session.dsn is required for the %s backend", backend)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
