package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeilh/rakhcache/catalog"
)

func TestLoadFile(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "rakhcache.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, []string{"https://app.rakh.test"}, cfg.CORSOrigins)
	assert.Equal(t, Log{Level: "debug", Format: "json"}, cfg.Log)
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout.Duration)
	assert.Equal(t, []string{"gateway"}, cfg.Auth.Audience)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL.Duration)
	assert.Equal(t, "rakh_token", cfg.Auth.Cookie)
	// Unset keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Auth.Leeway.Duration)
	assert.Equal(t, time.Minute, cfg.Cache.JanitorInterval.Duration)
	assert.Equal(t, BackingRedis, cfg.Cache.Backing.Driver)
	assert.Equal(t, 2, cfg.Cache.Backing.Redis.DB)

	assert.Equal(t, map[catalog.Resource]time.Duration{
		catalog.PurchaseOrders: 30 * time.Second,
		catalog.Suppliers:      time.Hour,
	}, cfg.TTLs())
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("listen: ':1'\nlistne: ':2'\n"))
	require.Error(t, err)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("backend:\n  timeout: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Backend.URL = "http://backend"
		cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "missing backend", mutate: func(c *Config) { c.Backend.URL = "" }, want: "backend.url"},
		{name: "short secret", mutate: func(c *Config) { c.Auth.Secret = "short" }, want: "auth.secret"},
		{name: "unknown ttl resource", mutate: func(c *Config) {
			c.Cache.TTL = map[string]Duration{"widgets": {time.Minute}}
		}, want: `unknown resource "widgets"`},
		{name: "redis without addr", mutate: func(c *Config) { c.Cache.Backing.Driver = BackingRedis }, want: "redis.addr"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Cache.Backing.Driver = BackingPostgres }, want: "postgres.dsn"},
		{name: "negative postgres pool", mutate: func(c *Config) {
			c.Cache.Backing.Driver = BackingPostgres
			c.Cache.Backing.Postgres = Postgres{DSN: "postgres://localhost/rakh", MaxConns: -1}
		}, want: "max_conns"},
		{name: "unknown driver", mutate: func(c *Config) { c.Cache.Backing.Driver = "etcd" }, want: `"etcd"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
