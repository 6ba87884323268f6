package escrow

import (
	"context"
	"errors"
	"fmt"

	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/bank"
)

// OpenDispute stakes DisputeStake from the caller into the registry custody and
// flags the order as disputed. Payment must have been marked first. Each party
// may stake once: a second open by the same party fails with
// ErrDisputeAlreadyPaid instead of re-setting the flag and taking another
// stake, since only one stake per party is ever paid back on resolution.
func (e *Engine) OpenDispute(ctx context.Context, signer crypto.Identity, key OrderKey) (*Order, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	reg, snap, err := e.snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	stake := e.params.DisputeStake
	var disputed *Order
	err = e.execute(ctx, "open_dispute", orderLocks(reg, snap, signer), func(st State, out *outcome) error {
		order, ok, err := st.GetOrder(key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrEscrowNotFound
		}
		if !order.IsParty(signer) {
			return ErrInvalidDisputeInitiator
		}
		balance, err := bank.Balance(st, signer)
		if err != nil {
			return err
		}
		if balance < reg.DisputeFee {
			return fmt.Errorf("%w: caller holds %d, dispute fee is %d", ErrInsufficientFundsForDispute, balance, reg.DisputeFee)
		}
		if !order.Exists {
			return ErrEscrowNotFound
		}
		if !order.CancelWindow.IsPaidConfirmed() {
			return ErrCannotOpenDisputeYet
		}
		if signer == order.Buyer {
			if order.BuyerPaidDispute {
				return ErrDisputeAlreadyPaid
			}
			order.BuyerPaidDispute = true
		} else {
			if order.SellerPaidDispute {
				return ErrDisputeAlreadyPaid
			}
			order.SellerPaidDispute = true
		}
		if err := bank.Transfer(st, bank.Personal(signer), signer, RegistryAddress(key.Seller), stake); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return fmt.Errorf("%w: %v", ErrInsufficientFundsForDispute, err)
			}
			return err
		}
		order.Dispute = true
		if err := st.PutOrder(order); err != nil {
			return err
		}
		out.emit(NewDisputeOpenedEvent(order, signer, stake))
		disputed = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return disputed.Clone(), nil
}

// ResolveDispute lets the registry arbitrator award the order to the buyer or
// the seller. The registry pays DisputeStake to the winner and to the
// arbitrator, then the principal moves from order custody to the winner. The
// bps fee is not collected on this path and stays in order custody.
func (e *Engine) ResolveDispute(ctx context.Context, signer crypto.Identity, key OrderKey, winner crypto.Identity) (*Order, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	reg, snap, err := e.snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if signer != reg.Arbitrator {
		return nil, fmt.Errorf("%w: only the registry arbitrator may resolve disputes", ErrUnauthorized)
	}
	stake := e.params.DisputeStake
	var resolved *Order
	err = e.execute(ctx, "resolve_dispute", orderLocks(reg, snap), func(st State, out *outcome) error {
		order, err := loadOpenOrder(st, key)
		if err != nil {
			return err
		}
		if !order.Dispute {
			return ErrDisputeNotOpen
		}
		if !order.IsParty(winner) {
			return ErrInvalidWinner
		}
		pool := RegistryAddress(key.Seller)
		poolAuth := registryAuthority(key.Seller)
		if err := bank.Transfer(st, poolAuth, pool, winner, stake); err != nil {
			return fmt.Errorf("escrow: pay winner stake: %w", err)
		}
		if err := bank.Transfer(st, poolAuth, pool, reg.Arbitrator, stake); err != nil {
			return fmt.Errorf("escrow: pay arbitrator stake: %w", err)
		}
		if order.Funded {
			if err := moveFunds(st, orderAuthority(key), order.Asset, OrderAddress(key), winner, order.Amount); err != nil {
				return err
			}
			out.settle(order.Asset, "dispute", order.Amount)
		}
		out.settle(types.NativeAsset, "stake", stake)
		out.settle(types.NativeAsset, "stake", stake)
		order.Winner = winner
		e.close(order, OrderResolved)
		if err := st.PutOrder(order); err != nil {
			return err
		}
		out.emit(NewDisputeResolvedEvent(order, winner, reg.Arbitrator))
		resolved = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved.Clone(), nil
}
