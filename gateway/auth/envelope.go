package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"peerescrow/crypto"
)

const (
	// HeaderSigner echoes the recovered signer on responses.
	HeaderSigner = "X-Escrow-Signer"
	// MaxEnvelopeBytes bounds the request body accepted for verification.
	MaxEnvelopeBytes int64 = 1 << 20

	maxAllowedTimestampSkew  = 5 * time.Minute
	defaultTimestampSkew     = 2 * time.Minute
	maxNonceWindow           = 15 * time.Minute
	defaultNonceWindow       = 10 * time.Minute
	defaultNonceCapacity     = 4096
	maxNonceCapacity         = 65536
	persistencePruneInterval = time.Minute
	maxNonceLength           = 128
)

var (
	ErrMalformedEnvelope = errors.New("auth: malformed envelope")
	ErrStaleTimestamp    = errors.New("auth: timestamp outside allowed skew")
	ErrNonceReused       = errors.New("auth: nonce already used")
	ErrBadSignature      = errors.New("auth: invalid signature")
	ErrMethodMismatch    = errors.New("auth: envelope method does not match route")
)

// Envelope is the signed request wrapper every state-changing call carries.
// The signature covers method, params, nonce and timestamp so a captured
// request cannot be replayed against a different route.
type Envelope struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Nonce     string          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
}

// Digest returns the keccak digest the signature is computed over.
func (e *Envelope) Digest() []byte {
	return crypto.Keccak256(
		[]byte(e.Method), []byte{0},
		e.Params, []byte{0},
		[]byte(e.Nonce), []byte{0},
		[]byte(strconv.FormatInt(e.Timestamp, 10)),
	)
}

// SignEnvelope marshals params and signs a fresh envelope for method.
func SignEnvelope(key *crypto.PrivateKey, method string, params interface{}, now time.Time) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	env := &Envelope{
		Method:    method,
		Params:    raw,
		Nonce:     uuid.NewString(),
		Timestamp: now.Unix(),
	}
	sig, err := key.Sign(env.Digest())
	if err != nil {
		return nil, err
	}
	env.Signature = "0x" + hex.EncodeToString(sig)
	return env, nil
}

// Verifier authenticates envelopes by recovering the signer and rejecting
// stale or replayed submissions.
type Verifier struct {
	allowedTimestampSkew time.Duration
	nonceTTL             time.Duration
	nowFn                func() time.Time

	nonces      *nonceStore
	persistence NoncePersistence
	lastPruned  time.Time
}

// NewVerifier clamps the supplied window parameters to safe bounds.
func NewVerifier(skew, nonceTTL time.Duration, nonceCapacity int, nowFn func() time.Time, persistence NoncePersistence) *Verifier {
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if skew > maxAllowedTimestampSkew {
		skew = maxAllowedTimestampSkew
	}
	if nonceTTL <= 0 {
		nonceTTL = defaultNonceWindow
	}
	if nonceTTL < 2*skew {
		nonceTTL = 2 * skew
	}
	if nonceTTL > maxNonceWindow {
		nonceTTL = maxNonceWindow
	}
	return &Verifier{
		allowedTimestampSkew: skew,
		nonceTTL:             nonceTTL,
		nowFn:                nowFn,
		nonces:               newNonceStore(nonceTTL, nonceCapacity),
		persistence:          persistence,
	}
}

// Verify checks env against the expected method and returns the signer.
func (v *Verifier) Verify(ctx context.Context, method string, env *Envelope) (crypto.Identity, error) {
	if env == nil {
		return crypto.ZeroIdentity, ErrMalformedEnvelope
	}
	if env.Method != method {
		return crypto.ZeroIdentity, ErrMethodMismatch
	}
	nonce := strings.TrimSpace(env.Nonce)
	if nonce == "" || len(nonce) > maxNonceLength || nonce != env.Nonce {
		return crypto.ZeroIdentity, fmt.Errorf("%w: invalid nonce", ErrMalformedEnvelope)
	}
	if len(env.Params) == 0 {
		return crypto.ZeroIdentity, fmt.Errorf("%w: params required", ErrMalformedEnvelope)
	}
	now := v.nowFn().UTC()
	skew := now.Sub(time.Unix(env.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.allowedTimestampSkew {
		return crypto.ZeroIdentity, ErrStaleTimestamp
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(env.Signature), "0x"))
	if err != nil {
		return crypto.ZeroIdentity, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	signer, err := crypto.RecoverIdentity(env.Digest(), sig)
	if err != nil {
		return crypto.ZeroIdentity, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	duplicate, err := v.registerNonce(ctx, signer.String(), nonce, now)
	if err != nil {
		return crypto.ZeroIdentity, err
	}
	if duplicate {
		return crypto.ZeroIdentity, ErrNonceReused
	}
	return signer, nil
}

// HydrateNonces warms the in-memory cache with persisted nonce usage records.
func (v *Verifier) HydrateNonces(ctx context.Context) error {
	if v == nil || v.persistence == nil {
		return nil
	}
	cutoff := v.nowFn().UTC().Add(-v.nonceTTL)
	records, err := v.persistence.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent nonces: %w", err)
	}
	for _, rec := range records {
		if rec.Signer == "" || rec.Nonce == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		v.nonces.Add(rec.Signer+"|"+rec.Nonce, observed)
	}
	return nil
}

func (v *Verifier) registerNonce(ctx context.Context, signer, nonce string, now time.Time) (bool, error) {
	composite := signer + "|" + nonce
	if v.persistence == nil {
		return v.nonces.Seen(composite, now), nil
	}
	if v.nonces.Contains(composite, now) {
		return true, nil
	}
	if err := v.prunePersistent(ctx, now); err != nil {
		return false, err
	}
	existed, err := v.persistence.EnsureNonce(ctx, NonceRecord{Signer: signer, Nonce: nonce, ObservedAt: now})
	if err != nil {
		return false, fmt.Errorf("persist nonce: %w", err)
	}
	if v.nonces.Seen(composite, now) {
		return true, nil
	}
	return existed, nil
}

func (v *Verifier) prunePersistent(ctx context.Context, now time.Time) error {
	v.nonces.mu.Lock()
	due := v.lastPruned.IsZero() || now.Sub(v.lastPruned) >= persistencePruneInterval
	if due {
		v.lastPruned = now
	}
	v.nonces.mu.Unlock()
	if !due {
		return nil
	}
	if err := v.persistence.PruneNonces(ctx, now.Add(-v.nonceTTL)); err != nil {
		return fmt.Errorf("prune persistent nonces: %w", err)
	}
	return nil
}
