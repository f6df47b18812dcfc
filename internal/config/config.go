// Package config loads the rakhcache YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adeilh/rakhcache/catalog"
)

var ErrInvalid = errors.New("config: invalid")

// Backing drivers.
const (
	BackingNone     = "none"
	BackingMemory   = "memory"
	BackingRedis    = "redis"
	BackingPostgres = "postgres"
)

// Duration reads "15m" style strings.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`
	Log         Log      `yaml:"log"`
	Backend     Backend  `yaml:"backend"`
	Auth        Auth     `yaml:"auth"`
	Cache       Cache    `yaml:"cache"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Backend struct {
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

type Auth struct {
	Secret   string   `yaml:"secret"`
	Issuer   string   `yaml:"issuer"`
	Audience []string `yaml:"audience"`
	Leeway   Duration `yaml:"leeway"`
	TokenTTL Duration `yaml:"token_ttl"`
	// Cookie, when set, is read for the token after the Authorization header.
	Cookie string `yaml:"cookie"`
}

type Cache struct {
	RequestTimeout  Duration            `yaml:"request_timeout"`
	JanitorInterval Duration            `yaml:"janitor_interval"`
	TTL             map[string]Duration `yaml:"ttl"`
	Backing         Backing             `yaml:"backing"`
}

type Backing struct {
	Driver   string   `yaml:"driver"`
	Prefix   string   `yaml:"prefix"`
	Redis    Redis    `yaml:"redis"`
	Postgres Postgres `yaml:"postgres"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Postgres struct {
	DSN      string `yaml:"dsn"`
	Table    string `yaml:"table"`
	MaxConns int    `yaml:"max_conns"` // zero keeps the pool default
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen: ":8080",
		Log:    Log{Level: "info", Format: "text"},
		Backend: Backend{
			Timeout: Duration{10 * time.Second},
		},
		Auth: Auth{
			Leeway:   Duration{30 * time.Second},
			TokenTTL: Duration{time.Hour},
		},
		Cache: Cache{
			RequestTimeout:  Duration{10 * time.Second},
			JanitorInterval: Duration{time.Minute},
			Backing:         Backing{Driver: BackingNone, Prefix: "rakh"},
		},
	}
}

// Load reads path over Default. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields the gateway cannot run without.
func (c Config) Validate() error {
	var problems []string
	if c.Backend.URL == "" {
		problems = append(problems, "backend.url is required")
	}
	if len(c.Auth.Secret) < 32 {
		problems = append(problems, "auth.secret must be at least 32 bytes")
	}
	for name := range c.Cache.TTL {
		if _, err := catalog.ParseResource(name); err != nil {
			problems = append(problems, fmt.Sprintf("cache.ttl: unknown resource %q", name))
		}
	}
	switch c.Cache.Backing.Driver {
	case "", BackingNone, BackingMemory:
	case BackingRedis:
		if c.Cache.Backing.Redis.Addr == "" {
			problems = append(problems, "cache.backing.redis.addr is required")
		}
	case BackingPostgres:
		if c.Cache.Backing.Postgres.DSN == "" {
			problems = append(problems, "cache.backing.postgres.dsn is required")
		}
		if c.Cache.Backing.Postgres.MaxConns < 0 {
			problems = append(problems, "cache.backing.postgres.max_conns must not be negative")
		}
	default:
		problems = append(problems, fmt.Sprintf("cache.backing.driver %q is not one of none, memory, redis, postgres", c.Cache.Backing.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// TTLs returns the per-resource overrides keyed by canonical resource.
func (c Config) TTLs() map[catalog.Resource]time.Duration {
	out := make(map[catalog.Resource]time.Duration, len(c.Cache.TTL))
	for name, d := range c.Cache.TTL {
		if r, err := catalog.ParseResource(name); err == nil && d.Duration > 0 {
			out[r] = d.Duration
		}
	}
	return out
}
