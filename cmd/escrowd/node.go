package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"peerescrow/config"
	"peerescrow/core/events"
	"peerescrow/core/state"
	"peerescrow/gateway/auth"
	"peerescrow/gateway/middleware"
	"peerescrow/native/escrow"
	"peerescrow/observability"
	"peerescrow/observability/logging"
	"peerescrow/rpc"
	"peerescrow/services/eventbus"
	"peerescrow/services/indexer"
	"peerescrow/storage"
)

// node owns every long-lived component of the daemon.
type node struct {
	logger    *slog.Logger
	ledger    *state.Ledger
	engine    *escrow.Engine
	server    *rpc.Server
	index     *indexer.Store
	publisher *eventbus.Publisher
	nonces    *auth.LevelDBNoncePersistence
}

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	db, err := storage.Open(cfg.Node.StorageBackend, cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	n := &node{logger: logger, ledger: state.NewLedger(db)}
	ok := false
	defer func() {
		if !ok {
			n.Close()
		}
	}()

	n.engine = escrow.NewEngine(n.ledger.EscrowHost())
	if err := n.engine.SetParams(escrow.Params{
		DisputeStake:   cfg.Escrow.DisputeStake,
		OpenPeerFeeBps: cfg.Escrow.OpenPeerFeeBps,
		MinWaitingTime: cfg.Escrow.MinWaitingTime,
		MaxWaitingTime: cfg.Escrow.MaxWaitingTime,
	}); err != nil {
		return nil, fmt.Errorf("escrow params: %w", err)
	}
	n.engine.SetLogger(logger.With("module", "escrow"))
	n.engine.SetMetrics(observability.EscrowMetrics())

	var persistence auth.NoncePersistence
	if !strings.EqualFold(cfg.Node.StorageBackend, storage.BackendMemory) {
		n.nonces, err = auth.NewLevelDBNoncePersistence(filepath.Join(cfg.Node.DataDir, "nonces"))
		if err != nil {
			return nil, err
		}
		persistence = n.nonces
	}
	verifier := auth.NewVerifier(
		time.Duration(cfg.Replay.MaxSkewSeconds)*time.Second,
		0,
		cfg.Replay.CacheSize,
		nil,
		persistence,
	)
	if err := verifier.HydrateNonces(ctx); err != nil {
		return nil, fmt.Errorf("hydrate nonces: %w", err)
	}

	rpcCfg := rpc.Config{
		Verifier:       verifier,
		Logger:         logger.With("module", "rpc"),
		Observability:  newObservability(logger),
		RateLimiter:    newRateLimiter(cfg.RateLimit, logger),
		Authenticator:  newAuthenticator(cfg.Auth, logger),
		AllowedOrigins: cfg.Node.CORSOrigins,
	}
	if cfg.Node.DevFaucet {
		rpcCfg.Faucet = n.ledger
		logger.Warn("development faucet enabled")
	}

	emitters := events.Multi{observability.Events()}
	if cfg.Indexer.Enabled {
		gdb, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return nil, fmt.Errorf("open indexer: %w", err)
		}
		n.index, err = indexer.NewStore(gdb,
			indexer.WithLogger(logger.With("module", "indexer")),
			indexer.WithBuffer(cfg.Indexer.Buffer))
		if err != nil {
			return nil, err
		}
		rpcCfg.Index = n.index
		emitters = append(emitters, n.index)
		logger.Info("event index enabled", "driver", cfg.Indexer.Driver, logging.MaskField("dsn", cfg.Indexer.DSN))
	}
	if cfg.Kafka.Enabled {
		n.publisher, err = eventbus.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.With("module", "eventbus"))
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, n.publisher)
		logger.Info("kafka publication enabled", "topic", cfg.Kafka.Topic, "brokers", len(cfg.Kafka.Brokers))
	}

	n.server = rpc.NewServer(n.engine, rpcCfg)
	emitters = append(emitters, n.server.Hub())
	n.engine.SetEmitter(emitters)
	ok = true
	return n, nil
}

func newObservability(logger *slog.Logger) *middleware.Observability {
	return middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "escrowd",
		LogRequests: true,
		Enabled:     true,
	}, logger)
}

func newRateLimiter(cfg config.RateLimit, logger *slog.Logger) *middleware.RateLimiter {
	if cfg.RatePerSecond <= 0 {
		return nil
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		MethodCost:    cfg.MethodCost,
	}, logger)
	limiter.OnReject(func(route string) {
		observability.RPC().RecordThrottle(route, "rate_limit")
	})
	return limiter
}

func newAuthenticator(cfg config.Auth, logger *slog.Logger) *middleware.Authenticator {
	if !cfg.Enabled {
		return nil
	}
	audience := ""
	if len(cfg.Audience) > 0 {
		audience = strings.TrimSpace(cfg.Audience[0])
	}
	return middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        true,
		HMACSecret:     cfg.ResolveHMACSecret(),
		Issuer:         cfg.Issuer,
		Audience:       audience,
		OptionalPaths:  cfg.AllowAnonymous,
		AllowAnonymous: len(cfg.AllowAnonymous) > 0,
	}, logger)
}

func (n *node) Handler() http.Handler {
	return n.server.Handler()
}

// Close drains the event sinks before releasing storage.
func (n *node) Close() {
	if n.index != nil {
		n.index.Close()
	}
	if n.publisher != nil {
		if err := n.publisher.Close(); err != nil {
			n.logger.Warn("close event publisher", "error", err)
		}
	}
	if n.nonces != nil {
		_ = n.nonces.Close()
	}
	if n.ledger != nil {
		n.ledger.Close()
	}
}
