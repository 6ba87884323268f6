package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"peerescrow/config"
	"peerescrow/crypto"
	"peerescrow/native/escrow"
	"peerescrow/rpc"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Node.StorageBackend = "memory"
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.DevFaucet = true
	cfg.Indexer.DSN = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	cfg.RateLimit.RatePerSecond = 0
	return cfg
}

func TestNodeServesLifecycleAndIndexesEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	n, err := newNode(ctx, testConfig(t), logger)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	ts := httptest.NewServer(n.Handler())
	defer ts.Close()
	defer n.Close()

	client := rpc.NewClient(ts.URL+"/", ts.Client())
	seller, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("seller key: %v", err)
	}
	buyer, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("buyer key: %v", err)
	}
	arbitrator := crypto.DeriveIdentity("escrowd-test", []byte("arbitrator"))
	fees := crypto.DeriveIdentity("escrowd-test", []byte("fees"))

	if err := client.Call(ctx, "dev_mint", map[string]string{
		"to":     seller.Identity().String(),
		"amount": "5000000",
	}, nil); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := client.CallSigned(ctx, seller, "escrow_initialize", map[string]interface{}{
		"feeBps":       50,
		"disputeFee":   "0",
		"arbitrator":   arbitrator.String(),
		"feeRecipient": fees.String(),
	}, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var order rpc.OrderJSON
	if err := client.CallSigned(ctx, seller, "escrow_createOrder", map[string]interface{}{
		"orderId":           "node-1",
		"seller":            seller.Identity().String(),
		"buyer":             buyer.Identity().String(),
		"amount":            "1000000",
		"sellerWaitingTime": escrow.MinSellerWaitingTime,
		"automaticEscrow":   true,
		"initiator":         "seller",
		"funding":           "wallet",
	}, &order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !order.Funded {
		t.Fatalf("expected automatic escrow to fund the order: %+v", order)
	}

	ref := map[string]string{"seller": seller.Identity().String(), "orderId": "node-1"}
	deadline := time.Now().Add(5 * time.Second)
	for {
		var history []json.RawMessage
		if err := client.Call(ctx, "escrow_orderHistory", ref, &history); err != nil {
			t.Fatalf("order history: %v", err)
		}
		if len(history) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected created and funded events in the index, got %d", len(history))
		}
		time.Sleep(20 * time.Millisecond)
	}

	var bal rpc.BalanceJSON
	if err := client.Call(ctx, "escrow_getBalance", map[string]string{"owner": seller.Identity().String()}, &bal); err != nil {
		t.Fatalf("balance: %v", err)
	}
	got, err := strconv.ParseUint(bal.Balance, 10, 64)
	if err != nil {
		t.Fatalf("parse balance: %v", err)
	}
	if got != 5_000_000-1_005_000 {
		t.Fatalf("unexpected seller balance %d", got)
	}
}

func TestNodeRejectsFaucetWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Node.DevFaucet = false
	cfg.Indexer.Enabled = false
	n, err := newNode(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer n.Close()
	ts := httptest.NewServer(n.Handler())
	defer ts.Close()

	client := rpc.NewClient(ts.URL+"/", ts.Client())
	err = client.Call(context.Background(), "dev_mint", map[string]string{
		"to":     crypto.DeriveIdentity("escrowd-test", []byte("x")).String(),
		"amount": "1",
	}, nil)
	if err == nil {
		t.Fatalf("expected faucet to be unavailable")
	}
}
