package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// peekLimit bounds how much of a JSON-RPC body is buffered to find the method
// name. Larger bodies are charged the default cost.
const peekLimit = 4 << 10

// RateLimit is a per-client token bucket. MethodCost charges selected
// JSON-RPC methods more than one token per call.
type RateLimit struct {
	RatePerSecond float64
	Burst         int
	MethodCost    map[string]int
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter throttles clients of the escrow RPC endpoint.
type RateLimiter struct {
	policy   RateLimit
	logger   *slog.Logger
	now      func() time.Time
	idle     time.Duration
	onReject func(route string)

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

func NewRateLimiter(policy RateLimit, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.RatePerSecond <= 0 {
		policy.RatePerSecond = 1
	}
	if policy.Burst <= 0 {
		policy.Burst = 1
	}
	return &RateLimiter{
		policy:  policy,
		logger:  logger,
		now:     time.Now,
		idle:    5 * time.Minute,
		buckets: make(map[string]*bucket),
	}
}

// OnReject registers a callback run for every throttled request.
func (l *RateLimiter) OnReject(fn func(route string)) {
	l.onReject = fn
}

// Middleware enforces the policy. route only labels logs and the reject
// callback.
func (l *RateLimiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientID(r)
			cost := l.cost(r)
			if !l.take(client, cost) {
				l.logger.Debug("rpc throttled", "route", route, "client", client, "cost", cost)
				if l.onReject != nil {
					l.onReject(route)
				}
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *RateLimiter) take(client string, cost int) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.swept) > l.idle {
		for id, b := range l.buckets {
			if now.Sub(b.seen) > l.idle {
				delete(l.buckets, id)
			}
		}
		l.swept = now
	}
	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.policy.RatePerSecond), l.policy.Burst)}
		l.buckets[client] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, cost)
}

// cost reads the JSON-RPC method from the request body and puts the bytes
// back for the handler.
func (l *RateLimiter) cost(r *http.Request) int {
	if len(l.policy.MethodCost) == 0 || r.Method != http.MethodPost || r.Body == nil {
		return 1
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, peekLimit))
	r.Body = readCloser{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil {
		return 1
	}
	var call struct {
		Method string `json:"method"`
	}
	if json.Unmarshal(head, &call) != nil {
		return 1
	}
	if n := l.policy.MethodCost[call.Method]; n > 0 {
		return n
	}
	return 1
}

type readCloser struct {
	io.Reader
	io.Closer
}

func clientID(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return "key:" + key
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
