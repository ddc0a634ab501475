package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, 10*time.Minute, c.Validity.Duration)
	assert.Equal(t, 10*time.Second, c.Timeout.Duration)
	assert.Equal(t, "session", c.LockName)
	assert.Equal(t, "response", c.ResponseField)
	assert.Equal(t, "memory", c.Session.Backend)
	assert.Equal(t, 24*time.Hour, c.Session.Lifetime.Duration)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "captchad.toml", `
addr = ":9000"
secret = "from-file"
validity = "30s"
independent_lock = true

[session]
backend = "redis"
dsn = "redis://localhost:6379/0"
idle_timeout = "15m"
`)

	c, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.Addr)
	assert.Equal(t, "from-file", c.Secret)
	assert.Equal(t, 30*time.Second, c.Validity.Duration)
	assert.True(t, c.IndependentLock)
	assert.Equal(t, "redis", c.Session.Backend)
	assert.Equal(t, 15*time.Minute, c.Session.IdleTimeout.Duration)
	assert.Equal(t, "session_id", c.Session.CookieName)
	assert.NoError(t, c.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "captchad.toml", `
secret = "from-file"
validity = "30s"
`)
	t.Setenv("CAPTCHAX_SECRET", "from-env")
	t.Setenv("CAPTCHAX_VALIDITY", "0s")
	t.Setenv("CAPTCHAX_SESSION_SECURE", "true")

	c, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "from-env", c.Secret)
	assert.Zero(t, c.Validity.Duration)
	assert.True(t, c.Session.Secure)
}

func TestLoadEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "CAPTCHAX_SECRET=dotenv\nCAPTCHAX_LOCK_NAME=checkout\n")
	t.Cleanup(func() {
		os.Unsetenv("CAPTCHAX_SECRET")
		os.Unsetenv("CAPTCHAX_LOCK_NAME")
	})

	c, err := Load("", envFile)
	require.NoError(t, err)

	assert.Equal(t, "dotenv", c.Secret)
	assert.Equal(t, "checkout", c.LockName)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), "")
	assert.Error(t, err)

	_, err = Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", `validity = "soon"`), "")
	assert.Error(t, err)

	t.Setenv("CAPTCHAX_TIMEOUT", "often")
	_, err = Load("", "")
	assert.ErrorContains(t, err, "CAPTCHAX_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"missing secret", func(c *Config) { c.Secret = "" }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"unknown backend", func(c *Config) { c.Session.Backend = "etcd" }, false},
		{"backend without dsn", func(c *Config) { c.Session.Backend = "mysql" }, false},
		{"sqlite with dsn", func(c *Config) {
			c.Session.Backend = "sqlite"
			c.Session.DSN = "sessions.db"
		}, true},
		{"zero lifetime", func(c *Config) { c.Session.Lifetime.Duration = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Secret = "secret"
			tt.modify(c)
			if tt.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}

func TestLevel(t *testing.T) {
	c := Default()
	c.LogLevel = "debug"
	l, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
}
