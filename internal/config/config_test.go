package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"barrier.org/internal/obs"
)

const sample = `
gate_server: http://controller.local:8080/xmlrpc
log_level: info
jwt_key: from-file
groups:
  G1: [Gate]
  G2: [Barrier, Gate, Missing]
gates:
  Gate:
    id: 1
  Barrier:
    id: 7
    description: rear entrance
    retries: 3
directory:
  ldap:
    server: ldap://dir.example.org
    base: ou=groups,dc=example,dc=org
    bind: uid=%(username),ou=people,dc=example,dc=org
    filter: (memberUid=%(username))
    timeout: 5s
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" || cfg.Store.Backend != StoreMemory {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.Directory.LDAP == nil || cfg.Directory.LDAP.Timeout != 5*time.Second {
		t.Fatalf("ldap section not decoded: %+v", cfg.Directory.LDAP)
	}
	if cfg.Level() != obs.LevelInfo {
		t.Fatalf("unexpected level %v", cfg.Level())
	}
	if got := cfg.Mapper().Resolve([]string{"G2"}).Names(); !reflect.DeepEqual(got, []string{"Barrier", "Gate"}) {
		t.Fatalf("mapper resolved %v", got)
	}
	if got := cfg.UnknownGateRefs(); !reflect.DeepEqual(got, []string{"G2/Missing"}) {
		t.Fatalf("UnknownGateRefs = %v", got)
	}
	if _, err := cfg.NewDirectory(); err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("gate_sever: typo\n")); err == nil {
		t.Fatal("expected error for unknown field")
	}
	if _, err := Parse(nil); err != nil {
		t.Fatalf("empty document must keep defaults: %v", err)
	}
}

func TestLoadAppliesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "barrier.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BARRIER_CONFIG", path)
	t.Setenv("BARRIER_JWT_KEY", "from-env")
	t.Setenv("BARRIER_LISTEN_ADDR", "0.0.0.0:9000")
	t.Setenv("BARRIER_DRY_RUN", "true")
	t.Setenv("BARRIER_STORE", "redis")
	t.Setenv("BARRIER_REDIS_ADDR", "127.0.0.1:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTKey != "from-env" || cfg.ListenAddr != "0.0.0.0:9000" || !cfg.DryRun {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.Store.Backend != StoreRedis || cfg.Store.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("store override not applied: %+v", cfg.Store)
	}
}

func TestLoadRejectsBadDryRun(t *testing.T) {
	t.Setenv("BARRIER_CONFIG", "")
	t.Setenv("BARRIER_DRY_RUN", "maybe")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "BARRIER_DRY_RUN") {
		t.Fatalf("expected BARRIER_DRY_RUN error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Parse([]byte(sample))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		return cfg
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing key", func(c *Config) { c.JWTKey = "" }, "jwt_key"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"missing gate server", func(c *Config) { c.GateServer = "" }, "gate_server"},
		{"unknown store", func(c *Config) { c.Store.Backend = "mongo" }, "unknown store"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = StorePostgres }, "postgres_dsn"},
		{"redis without addr", func(c *Config) { c.Store.Backend = StoreRedis }, "redis_addr"},
		{"no directory", func(c *Config) { c.Directory.LDAP = nil }, "directory"},
		{"bad rate limit", func(c *Config) { c.RateLimit.Burst = 0 }, "rate_limit"},
		{"zero ttl", func(c *Config) { c.AccessTTL = 0 }, "lifetimes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	cfg := valid()
	cfg.GateServer = ""
	cfg.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dry run needs no gate server: %v", err)
	}
}
