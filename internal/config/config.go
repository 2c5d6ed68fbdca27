// Package config loads the gateway configuration.
//
// Configuration comes from one YAML file, named by the --config flag or the
// BARRIER_CONFIG environment variable, followed by BARRIER_* environment
// overrides. Secrets such as the signing key are normally supplied through the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"barrier.org/internal/directory"
	"barrier.org/internal/gates"
	"barrier.org/internal/obs"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the complete gateway configuration.
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	GRPCAddr   string        `yaml:"grpc_addr"`
	JWTKey     string        `yaml:"jwt_key"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	LogLevel   string        `yaml:"log_level"`

	// GateServer is the controller endpoint receiving ControlAccess calls.
	GateServer string `yaml:"gate_server"`
	DryRun     bool   `yaml:"dry_run"`

	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Directory DirectoryConfig `yaml:"directory"`

	// Groups maps a directory group to the gate names its members may open.
	Groups map[string][]string `yaml:"groups"`
	// Gates maps a gate name to its controller definition.
	Gates map[string]gates.Definition `yaml:"gates"`
}

type StoreConfig struct {
	Backend     string        `yaml:"backend"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	RedisAddr   string        `yaml:"redis_addr"`
	RefreshTTL  time.Duration `yaml:"refresh_ttl"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// TrustForwardedFor limits by the first X-Forwarded-For hop instead of
	// the peer address.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// DirectoryConfig selects exactly one directory backend.
type DirectoryConfig struct {
	LDAP   *directory.LDAPConfig `yaml:"ldap,omitempty"`
	Static []directory.User      `yaml:"static,omitempty"`
}

// Default returns the configuration used before the file and environment apply.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:7000",
		AccessTTL:  5 * time.Minute,
		LogLevel:   "warn",
		Store: StoreConfig{
			Backend:    StoreMemory,
			RefreshTTL: 14 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{RPS: 10, Burst: 20},
	}
}

// Load reads path (or BARRIER_CONFIG when path is empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("BARRIER_CONFIG")
	}
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.parse(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.parse(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from BARRIER_* variables looked up through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("BARRIER_LISTEN_ADDR", &c.ListenAddr)
	str("BARRIER_GRPC_ADDR", &c.GRPCAddr)
	str("BARRIER_JWT_KEY", &c.JWTKey)
	str("BARRIER_LOG_LEVEL", &c.LogLevel)
	str("BARRIER_GATE_SERVER", &c.GateServer)
	str("BARRIER_STORE", &c.Store.Backend)
	str("BARRIER_PG_DSN", &c.Store.PostgresDSN)
	str("BARRIER_REDIS_ADDR", &c.Store.RedisAddr)

	if v, ok := lookup("BARRIER_DRY_RUN"); ok && strings.TrimSpace(v) != "" {
		on, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BARRIER_DRY_RUN: %w", err)
		}
		c.DryRun = on
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("config: listen_addr is required")
	}
	if c.JWTKey == "" {
		return errors.New("config: jwt_key (or BARRIER_JWT_KEY) is required")
	}
	if _, ok := obs.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if !c.DryRun && strings.TrimSpace(c.GateServer) == "" {
		return errors.New("config: gate_server is required unless dry_run is set")
	}
	if c.AccessTTL <= 0 || c.Store.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("config: rate_limit rps and burst must be positive")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			return errors.New("config: postgres store requires postgres_dsn")
		}
	case StoreRedis:
		if strings.TrimSpace(c.Store.RedisAddr) == "" {
			return errors.New("config: redis store requires redis_addr")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	hasLDAP := c.Directory.LDAP != nil
	hasStatic := len(c.Directory.Static) > 0
	if hasLDAP == hasStatic {
		return errors.New("config: configure exactly one of directory.ldap or directory.static")
	}

	for name, def := range c.Gates {
		if strings.TrimSpace(name) == "" {
			return errors.New("config: gate name must not be empty")
		}
		if def.Retries < 0 {
			return fmt.Errorf("config: gate %q has negative retries", name)
		}
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() obs.Level {
	l, _ := obs.ParseLevel(c.LogLevel)
	return l
}

// Mapper builds the group to gate mapping.
func (c *Config) Mapper() *gates.Mapper {
	return gates.NewMapper(c.Groups, c.Gates)
}

// UnknownGateRefs lists "group/gate" pairs whose gate is not defined. Such
// references are dropped by the mapper.
func (c *Config) UnknownGateRefs() []string {
	var out []string
	for group, names := range c.Groups {
		for _, n := range names {
			if _, ok := c.Gates[n]; !ok {
				out = append(out, group+"/"+n)
			}
		}
	}
	sort.Strings(out)
	return out
}

// NewDirectory constructs the configured directory backend.
func (c *Config) NewDirectory() (directory.Directory, error) {
	if c.Directory.LDAP != nil {
		return directory.NewLDAP(*c.Directory.LDAP)
	}
	return directory.NewStatic(c.Directory.Static)
}
