package bank

import (
	"errors"
	"math"
	"testing"

	"peerescrow/core/types"
	"peerescrow/crypto"
)

type holdingKey struct {
	owner crypto.Identity
	asset types.AssetRef
}

type memAccounts struct {
	accounts map[crypto.Identity]types.Account
	holdings map[holdingKey]types.Holding
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		accounts: make(map[crypto.Identity]types.Account),
		holdings: make(map[holdingKey]types.Holding),
	}
}

func (m *memAccounts) GetAccount(id crypto.Identity) (*types.Account, error) {
	acc := m.accounts[id]
	return &acc, nil
}

func (m *memAccounts) PutAccount(id crypto.Identity, account *types.Account) error {
	m.accounts[id] = *account
	return nil
}

func (m *memAccounts) GetHolding(owner crypto.Identity, asset types.AssetRef) (*types.Holding, bool, error) {
	h, ok := m.holdings[holdingKey{owner, asset}]
	if !ok {
		return nil, false, nil
	}
	return &h, true, nil
}

func (m *memAccounts) PutHolding(holding *types.Holding) error {
	m.holdings[holdingKey{holding.Owner, holding.Asset}] = *holding
	return nil
}

func ident(b byte) crypto.Identity {
	var id crypto.Identity
	id[19] = b
	return id
}

func TestTransferMovesNativeBalance(t *testing.T) {
	accts := newMemAccounts()
	alice, bob := ident(1), ident(2)
	if err := Mint(accts, alice, types.NativeAsset, 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := Transfer(accts, Personal(alice), alice, bob, 60); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := Balance(accts, alice); bal != 40 {
		t.Fatalf("alice balance %d, want 40", bal)
	}
	if bal, _ := Balance(accts, bob); bal != 60 {
		t.Fatalf("bob balance %d, want 60", bal)
	}
}

func TestTransferRejectsWrongAuthorityAndShortfall(t *testing.T) {
	accts := newMemAccounts()
	alice, bob := ident(1), ident(2)
	_ = Mint(accts, alice, types.NativeAsset, 10)
	if err := Transfer(accts, Personal(bob), alice, bob, 5); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := Transfer(accts, Personal(alice), alice, bob, 11); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if bal, _ := Balance(accts, alice); bal != 10 {
		t.Fatalf("failed transfer must not debit, balance %d", bal)
	}
}

func TestTransferDetectsOverflow(t *testing.T) {
	accts := newMemAccounts()
	alice, bob := ident(1), ident(2)
	accts.accounts[alice] = types.Account{Balance: 10}
	accts.accounts[bob] = types.Account{Balance: math.MaxUint64}
	if err := Transfer(accts, Personal(alice), alice, bob, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestTokenTransferRequiresHoldings(t *testing.T) {
	accts := newMemAccounts()
	usdc := types.AssetFromLabel("USDC")
	alice, bob := ident(1), ident(2)
	if err := Mint(accts, alice, usdc, 500); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := TransferToken(accts, Personal(alice), usdc, alice, bob, 100); !errors.Is(err, ErrHoldingNotFound) {
		t.Fatalf("expected ErrHoldingNotFound, got %v", err)
	}
	if err := EnsureHolding(accts, bob, usdc); err != nil {
		t.Fatalf("ensure holding: %v", err)
	}
	if err := EnsureHolding(accts, bob, usdc); err != nil {
		t.Fatalf("ensure holding must be idempotent: %v", err)
	}
	if err := TransferToken(accts, Personal(alice), usdc, alice, bob, 100); err != nil {
		t.Fatalf("transfer token: %v", err)
	}
	if bal, _ := TokenBalance(accts, bob, usdc); bal != 100 {
		t.Fatalf("bob token balance %d, want 100", bal)
	}
	if bal, _ := TokenBalance(accts, ident(9), usdc); bal != 0 {
		t.Fatalf("missing holding should report zero, got %d", bal)
	}
}

func TestMoveCreatesDestinationHolding(t *testing.T) {
	accts := newMemAccounts()
	usdc := types.AssetFromLabel("USDC")
	alice, carol := ident(1), ident(3)
	_ = Mint(accts, alice, usdc, 50)
	if err := Move(accts, Personal(alice), usdc, alice, carol, 20); err != nil {
		t.Fatalf("move: %v", err)
	}
	if bal, _ := TokenBalance(accts, carol, usdc); bal != 20 {
		t.Fatalf("carol token balance %d, want 20", bal)
	}
	if err := Move(accts, Personal(alice), types.NativeAsset, alice, carol, 0); err != nil {
		t.Fatalf("zero move should succeed: %v", err)
	}
}
