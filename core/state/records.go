package state

import (
	"context"
	"fmt"

	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/escrow"
)

// GetAccount returns the account stored for id, or an empty account.
func (tx *Tx) GetAccount(id crypto.Identity) (*types.Account, error) {
	account := new(types.Account)
	if _, err := tx.KVGet(AccountKey(id), account); err != nil {
		return nil, fmt.Errorf("state: load account %s: %w", id, err)
	}
	return account, nil
}

// PutAccount stores the account for id.
func (tx *Tx) PutAccount(id crypto.Identity, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return tx.KVPut(AccountKey(id), account)
}

// GetHolding returns the (owner, asset) token holding if it exists.
func (tx *Tx) GetHolding(owner crypto.Identity, asset types.AssetRef) (*types.Holding, bool, error) {
	holding := new(types.Holding)
	ok, err := tx.KVGet(HoldingKey(owner, asset), holding)
	if err != nil {
		return nil, false, fmt.Errorf("state: load holding %s/%s: %w", owner, asset, err)
	}
	if !ok {
		return nil, false, nil
	}
	if !holding.Matches(owner, asset) {
		return nil, false, fmt.Errorf("state: holding record at %s/%s belongs to %s/%s", owner, asset, holding.Owner, holding.Asset)
	}
	return holding, true, nil
}

// PutHolding stores a token holding.
func (tx *Tx) PutHolding(holding *types.Holding) error {
	if holding == nil {
		return fmt.Errorf("state: nil holding")
	}
	if holding.Asset.IsNative() {
		return fmt.Errorf("state: native currency is held in accounts")
	}
	return tx.KVPut(HoldingKey(holding.Owner, holding.Asset), holding)
}

// GetRegistry returns the seller's registry record if present.
func (tx *Tx) GetRegistry(seller crypto.Identity) (*escrow.Registry, bool, error) {
	reg := new(escrow.Registry)
	ok, err := tx.KVGet(RegistryKey(seller), reg)
	if err != nil {
		return nil, false, fmt.Errorf("state: load registry %s: %w", seller, err)
	}
	if !ok {
		return nil, false, nil
	}
	return reg, true, nil
}

// PutRegistry stores a registry record.
func (tx *Tx) PutRegistry(reg *escrow.Registry) error {
	if reg == nil {
		return fmt.Errorf("state: nil registry")
	}
	return tx.KVPut(RegistryKey(reg.Seller), reg)
}

// GetOrder returns the order record if present, open or closed.
func (tx *Tx) GetOrder(key escrow.OrderKey) (*escrow.Order, bool, error) {
	order := new(escrow.Order)
	ok, err := tx.KVGet(OrderKey(key), order)
	if err != nil {
		return nil, false, fmt.Errorf("state: load order %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return order, true, nil
}

// PutOrder stores an order record.
func (tx *Tx) PutOrder(order *escrow.Order) error {
	if order == nil {
		return fmt.Errorf("state: nil order")
	}
	return tx.KVPut(OrderKey(order.Key()), order)
}

type escrowHost struct {
	ledger *Ledger
}

// EscrowHost adapts the ledger to the escrow engine's host interface.
func (l *Ledger) EscrowHost() escrow.Host {
	return escrowHost{ledger: l}
}

func (h escrowHost) Update(ctx context.Context, locks []crypto.Identity, fn func(escrow.State) error) error {
	return h.ledger.Update(ctx, locks, func(tx *Tx) error { return fn(tx) })
}

func (h escrowHost) View(ctx context.Context, fn func(escrow.State) error) error {
	return h.ledger.View(ctx, func(tx *Tx) error { return fn(tx) })
}
