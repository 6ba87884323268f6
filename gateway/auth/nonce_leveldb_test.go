package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLevelDBNoncePersistenceSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonces")
	backend, err := NewLevelDBNoncePersistence(path)
	if err != nil {
		t.Fatalf("open persistence: %v", err)
	}
	initial := backend
	t.Cleanup(func() {
		if initial != nil {
			_ = initial.Close()
		}
	})
	now := time.Unix(1_717_787_717, 0).UTC()
	clock := func() time.Time { return now }
	key := mustKey(t)

	env, err := SignEnvelope(key, "escrow_mark_paid", map[string]string{"orderId": "o-9"}, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	verifier := NewVerifier(time.Minute, 5*time.Minute, 32, clock, backend)
	if err := verifier.HydrateNonces(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), "escrow_mark_paid", env); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := backend.Close(); err != nil {
		t.Fatalf("close persistence: %v", err)
	}
	initial = nil

	reopened, err := NewLevelDBNoncePersistence(path)
	if err != nil {
		t.Fatalf("reopen persistence: %v", err)
	}
	defer reopened.Close()

	warm := NewVerifier(time.Minute, 5*time.Minute, 32, clock, reopened)
	if err := warm.HydrateNonces(context.Background()); err != nil {
		t.Fatalf("hydrate restart: %v", err)
	}
	if _, err := warm.Verify(context.Background(), "escrow_mark_paid", env); !errors.Is(err, ErrNonceReused) {
		t.Fatalf("expected replay after restart, got %v", err)
	}

	cold := NewVerifier(time.Minute, 5*time.Minute, 32, clock, reopened)
	if _, err := cold.Verify(context.Background(), "escrow_mark_paid", env); !errors.Is(err, ErrNonceReused) {
		t.Fatalf("expected persistence to reject nonce, got %v", err)
	}
}

func TestLevelDBNoncePersistencePrunes(t *testing.T) {
	backend, err := NewLevelDBNoncePersistence(filepath.Join(t.TempDir(), "nonces"))
	if err != nil {
		t.Fatalf("open persistence: %v", err)
	}
	defer backend.Close()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	for i, nonce := range []string{"a", "b", "c"} {
		existed, err := backend.EnsureNonce(ctx, NonceRecord{Signer: "peer1x", Nonce: nonce, ObservedAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil || existed {
			t.Fatalf("ensure %s: existed=%v err=%v", nonce, existed, err)
		}
	}
	if err := backend.PruneNonces(ctx, base.Add(90*time.Second)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	records, err := backend.RecentNonces(ctx, base)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 || records[0].Nonce != "c" || records[0].Signer != "peer1x" {
		t.Fatalf("unexpected records after prune: %+v", records)
	}
}
