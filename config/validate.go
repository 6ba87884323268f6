package config

import (
	"fmt"
	"strings"
)

// Validate reports the first inconsistency in cfg.
func (cfg *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(cfg.Node.StorageBackend)) {
	case "memory", "leveldb", "pebble":
	default:
		return fmt.Errorf("node: unsupported storage backend %q", cfg.Node.StorageBackend)
	}
	if strings.TrimSpace(cfg.Node.ListenAddress) == "" {
		return fmt.Errorf("node: listen address required")
	}
	if cfg.Node.DevFaucet && !strings.EqualFold(cfg.Node.StorageBackend, "memory") {
		return fmt.Errorf("node: dev faucet requires the memory backend")
	}
	if cfg.Escrow.OpenPeerFeeBps > 10_000 {
		return fmt.Errorf("escrow: open peer fee bps exceeds 10000")
	}
	if cfg.Escrow.MinWaitingTime <= 0 || cfg.Escrow.MinWaitingTime > cfg.Escrow.MaxWaitingTime {
		return fmt.Errorf("escrow: waiting window min > max or zero")
	}
	if cfg.Auth.Enabled && cfg.Auth.ResolveHMACSecret() == "" {
		return fmt.Errorf("auth: HMAC secret required when auth is enabled")
	}
	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must be non-negative")
	}
	for method, cost := range cfg.RateLimit.MethodCost {
		if cost <= 0 || (cfg.RateLimit.Burst > 0 && cost > cfg.RateLimit.Burst) {
			return fmt.Errorf("rate_limit: cost %d for %s must be between 1 and burst", cost, method)
		}
	}
	if cfg.Replay.MaxSkewSeconds <= 0 {
		return fmt.Errorf("replay: max skew must be positive")
	}
	if cfg.Indexer.Enabled {
		switch strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver)) {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("indexer: unsupported driver %q", cfg.Indexer.Driver)
		}
		if strings.TrimSpace(cfg.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: dsn required")
		}
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka: at least one broker required")
		}
		if strings.TrimSpace(cfg.Kafka.Topic) == "" {
			return fmt.Errorf("kafka: topic required")
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be within [0, 1]")
	}
	return nil
}
