package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnvOverride names the environment variable that overrides Node.Environment.
const EnvOverride = "PEERESCROW_ENV"

type Config struct {
	Node      Node      `toml:"node"`
	Escrow    Escrow    `toml:"escrow"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"rate_limit"`
	Replay    Replay    `toml:"replay"`
	Indexer   Indexer   `toml:"indexer"`
	Kafka     Kafka     `toml:"kafka"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		Node: Node{
			ListenAddress:   ":8080",
			DataDir:         "./escrow-data",
			StorageBackend:  "leveldb",
			Environment:     "local",
			LogLevel:        "info",
			ShutdownSeconds: 10,
		},
		Escrow: Escrow{
			DisputeStake:   5_000_000,
			OpenPeerFeeBps: 30,
			MinWaitingTime: 15 * 60,
			MaxWaitingTime: 24 * 60 * 60,
		},
		Auth: Auth{
			Issuer:         "peerescrow",
			AllowAnonymous: []string{"/healthz", "/metrics"},
		},
		RateLimit: RateLimit{RatePerSecond: 20, Burst: 40},
		Replay:    Replay{MaxSkewSeconds: 120, CacheSize: 65_536},
		Indexer: Indexer{
			Enabled: true,
			Driver:  "sqlite",
			DSN:     "file:escrow-index.db?cache=shared",
			Buffer:  1024,
		},
		Kafka: Kafka{Topic: "peerescrow.events"},
		Telemetry: Telemetry{
			Endpoint:    "localhost:4318",
			SampleRatio: 1,
		},
	}
}

// Load loads the configuration from the given path, writing the defaults
// first when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if env := strings.TrimSpace(os.Getenv(EnvOverride)); env != "" {
		cfg.Node.Environment = env
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ResolveHMACSecret returns the configured JWT secret, preferring the
// environment variable when one is named.
func (a Auth) ResolveHMACSecret() string {
	if name := strings.TrimSpace(a.HMACSecretEnv); name != "" {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(a.HMACSecret)
}
