package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/gateway/auth"
	"peerescrow/gateway/middleware"
	"peerescrow/native/escrow"
	"peerescrow/observability"
	"peerescrow/services/indexer"
)

const (
	moduleName      = "escrow"
	headerRequestID = "X-Request-ID"
)

// IndexReader serves historical queries from the event index.
type IndexReader interface {
	OrderHistory(ctx context.Context, seller, orderID string) ([]indexer.EventRecord, error)
	ListEvents(ctx context.Context, filter indexer.EventFilter) ([]indexer.EventRecord, error)
	OrdersByParty(ctx context.Context, party string, limit int) ([]indexer.OrderRecord, error)
}

// Faucet credits balances on development networks.
type Faucet interface {
	Mint(ctx context.Context, to crypto.Identity, asset types.AssetRef, amount uint64) error
}

// Config carries the optional collaborators of the API server.
type Config struct {
	Verifier       *auth.Verifier
	Index          IndexReader
	Faucet         Faucet
	Logger         *slog.Logger
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	AllowedOrigins []string
}

// Server exposes the escrow engine over JSON-RPC and streams committed
// events over websockets.
type Server struct {
	engine   *escrow.Engine
	verifier *auth.Verifier
	index    IndexReader
	faucet   Faucet
	logger   *slog.Logger
	hub      *Hub
	cfg      Config
	metrics  interface {
		Observe(module, method string, status int, duration time.Duration)
		RecordThrottle(module, reason string)
	}
}

func NewServer(engine *escrow.Engine, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = auth.NewVerifier(0, 0, 0, nil, nil)
	}
	return &Server{
		engine:   engine,
		verifier: verifier,
		index:    cfg.Index,
		faucet:   cfg.Faucet,
		logger:   logger,
		hub:      NewHub(logger),
		cfg:      cfg,
		metrics:  observability.RPC(),
	}
}

// Hub returns the live event hub. Register it with the engine's emitter so
// websocket subscribers receive committed events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}))
	}

	obs := s.cfg.Observability
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{}, s.logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{
		prometheus.DefaultGatherer,
		obs.Registry(),
	}, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(obs.Middleware("ws"))
		r.Get("/ws", s.handleEventsWS)
	})
	r.Group(func(r chi.Router) {
		r.Use(obs.Middleware("rpc"))
		if s.cfg.RateLimiter != nil {
			r.Use(s.cfg.RateLimiter.Middleware("rpc"))
		}
		if s.cfg.Authenticator != nil {
			r.Use(s.cfg.Authenticator.Middleware())
		}
		r.Post("/", s.handle)
	})
	return otelhttp.NewHandler(r, "escrow-api")
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(sw, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(sw, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(sw, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(sw, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(sw, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	defer func() {
		s.metrics.Observe(moduleName, req.Method, sw.status, time.Since(start))
	}()

	switch req.Method {
	case "escrow_initialize":
		s.handleInitialize(sw, r, req)
	case "escrow_createOrder":
		s.handleCreateOrder(sw, r, req)
	case "escrow_depositToPool":
		s.handleDepositToPool(sw, r, req)
	case "escrow_withdrawFromPool":
		s.handleWithdrawFromPool(sw, r, req)
	case "escrow_depositToOrder":
		s.handleDepositToOrder(sw, r, req)
	case "escrow_markAsPaid":
		s.handleMarkAsPaid(sw, r, req)
	case "escrow_release":
		s.handleRelease(sw, r, req)
	case "escrow_buyerCancel":
		s.handleBuyerCancel(sw, r, req)
	case "escrow_sellerCancel":
		s.handleSellerCancel(sw, r, req)
	case "escrow_openDispute":
		s.handleOpenDispute(sw, r, req)
	case "escrow_resolveDispute":
		s.handleResolveDispute(sw, r, req)
	case "escrow_getRegistry":
		s.handleGetRegistry(sw, r, req)
	case "escrow_getOrder":
		s.handleGetOrder(sw, r, req)
	case "escrow_getPoolBalance":
		s.handleGetPoolBalance(sw, r, req)
	case "escrow_getBalance":
		s.handleGetBalance(sw, r, req)
	case "escrow_orderHistory":
		s.handleOrderHistory(sw, r, req)
	case "escrow_listEvents":
		s.handleListEvents(sw, r, req)
	case "escrow_ordersByParty":
		s.handleOrdersByParty(sw, r, req)
	case "dev_mint":
		s.handleDevMint(sw, r, req)
	default:
		writeError(sw, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

// signed verifies the single envelope parameter of a mutating call and
// decodes its params into out.
func (s *Server) signed(w http.ResponseWriter, r *http.Request, req *RPCRequest, out interface{}) (crypto.Identity, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one signed envelope expected")
		return crypto.ZeroIdentity, false
	}
	var env auth.Envelope
	if err := json.Unmarshal(req.Params[0], &env); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return crypto.ZeroIdentity, false
	}
	signer, err := s.verifier.Verify(r.Context(), req.Method, &env)
	if err != nil {
		if errors.Is(err, auth.ErrNonceReused) {
			s.metrics.RecordThrottle(moduleName, "replay")
		}
		s.logger.Warn("rpc: envelope rejected", "method", req.Method, "operator", middleware.Subject(r.Context()), "error", err)
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", err.Error())
		return crypto.ZeroIdentity, false
	}
	if err := decodeParams(env.Params, out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return crypto.ZeroIdentity, false
	}
	w.Header().Set(auth.HeaderSigner, signer.String())
	return signer, true
}

// unsigned decodes the single parameter object of a query call.
func unsigned(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := decodeParams(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func invalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid_params", err.Error())
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case escrow.IsNotFound(err):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	default:
		switch escrow.Classify(err) {
		case escrow.ClassValidation:
			status = http.StatusBadRequest
			code = codeEscrowInvalidParams
			message = "invalid_params"
		case escrow.ClassAuthorization:
			status = http.StatusForbidden
			code = codeEscrowForbidden
			message = "forbidden"
		case escrow.ClassState:
			status = http.StatusConflict
			code = codeEscrowConflict
			message = "conflict"
		case escrow.ClassBalance:
			status = http.StatusUnprocessableEntity
			code = codeEscrowInsufficient
			message = "insufficient_funds"
		}
	}
	writeError(w, status, id, code, message, err.Error())
}
