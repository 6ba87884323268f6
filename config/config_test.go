package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.StorageBackend != "leveldb" || cfg.Escrow.DisputeStake != 5_000_000 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Node.ListenAddress != cfg.Node.ListenAddress || reloaded.Indexer.DSN != cfg.Indexer.DSN {
		t.Fatalf("reloaded config differs: %+v", reloaded)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `[node]
ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/escrow"
StorageBackend = "pebble"
Environment = "staging"
CORSOrigins = ["https://app.example"]

[rate_limit]
RatePerSecond = 10
Burst = 40

[rate_limit.MethodCost]
escrow_createOrder = 4

[escrow]
DisputeStake = 7
OpenPeerFeeBps = 25
MinWaitingTimeSeconds = 900
MaxWaitingTimeSeconds = 3600

[auth]
Enabled = true
HMACSecret = "s3cret"
Audience = ["escrow-api"]

[indexer]
Enabled = true
Driver = "postgres"
DSN = "postgres://escrow@db/escrow"

[kafka]
Enabled = true
Brokers = ["kafka-1:9092", "kafka-2:9092"]
Topic = "escrow.events"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvOverride, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.StorageBackend != "pebble" || cfg.Node.Environment != "staging" {
		t.Fatalf("node section not parsed: %+v", cfg.Node)
	}
	if cfg.Escrow.DisputeStake != 7 || cfg.Escrow.MaxWaitingTime != 3600 {
		t.Fatalf("escrow section not parsed: %+v", cfg.Escrow)
	}
	if cfg.Indexer.Driver != "postgres" || len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("sinks not parsed: %+v %+v", cfg.Indexer, cfg.Kafka)
	}
	if cfg.RateLimit.RatePerSecond != 10 || cfg.RateLimit.MethodCost["escrow_createOrder"] != 4 {
		t.Fatalf("rate limit not parsed: %+v", cfg.RateLimit)
	}
	if len(cfg.Node.CORSOrigins) != 1 || cfg.Node.CORSOrigins[0] != "https://app.example" {
		t.Fatalf("cors origins not parsed: %v", cfg.Node.CORSOrigins)
	}
	if cfg.Replay.MaxSkewSeconds != Default().Replay.MaxSkewSeconds {
		t.Fatalf("omitted sections should keep defaults, got %+v", cfg.Replay)
	}

	t.Setenv(EnvOverride, "prod")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if cfg.Node.Environment != "prod" {
		t.Fatalf("environment override ignored: %s", cfg.Node.Environment)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[node]\nBogus = 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "node.Bogus") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":        func(c *Config) { c.Node.StorageBackend = "rocksdb" },
		"faucet":         func(c *Config) { c.Node.DevFaucet = true },
		"window":         func(c *Config) { c.Escrow.MinWaitingTime = c.Escrow.MaxWaitingTime + 1 },
		"auth secret":    func(c *Config) { c.Auth.Enabled = true },
		"indexer driver": func(c *Config) { c.Indexer.Driver = "mysql" },
		"kafka brokers":  func(c *Config) { c.Kafka.Enabled = true },
		"sample ratio":   func(c *Config) { c.Telemetry.SampleRatio = 2 },
		"method cost":    func(c *Config) { c.RateLimit.MethodCost = map[string]int{"escrow_release": 99} },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	cfg := Default()
	cfg.Node.StorageBackend = "memory"
	cfg.Node.DevFaucet = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory faucet should validate: %v", err)
	}
}

func TestResolveHMACSecretPrefersEnv(t *testing.T) {
	t.Setenv("ESCROW_JWT", "from-env")
	auth := Auth{HMACSecret: "inline", HMACSecretEnv: "ESCROW_JWT"}
	if got := auth.ResolveHMACSecret(); got != "from-env" {
		t.Fatalf("secret %q, want from-env", got)
	}
}
