package escrow

import (
	"context"
	"fmt"

	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/bank"
)

// InitializeParams configures a seller registry.
type InitializeParams struct {
	Seller         crypto.Identity
	FeeBps         uint64
	DisputeFee     uint64
	FeeDiscountNFT crypto.Identity
	Arbitrator     crypto.Identity
	FeeRecipient   crypto.Identity
}

// Initialize creates the seller's registry. It can run once per seller and
// must be signed by the seller.
func (e *Engine) Initialize(ctx context.Context, signer crypto.Identity, p InitializeParams) (*Registry, error) {
	if signer != p.Seller || p.Seller.IsZero() {
		return nil, fmt.Errorf("%w: registry must be initialized by its seller", ErrUnauthorized)
	}
	if p.FeeBps > BpsDenominator {
		return nil, ErrInvalidFeeBps
	}
	var created *Registry
	err := e.execute(ctx, "initialize", []crypto.Identity{RegistryAddress(p.Seller)}, func(st State, _ *outcome) error {
		existing, ok, err := st.GetRegistry(p.Seller)
		if err != nil {
			return err
		}
		if ok && existing.Initialized {
			return ErrAlreadyInitialized
		}
		reg := &Registry{
			Initialized:    true,
			Seller:         p.Seller,
			FeeBps:         p.FeeBps,
			DisputeFee:     p.DisputeFee,
			FeeDiscountNFT: p.FeeDiscountNFT,
			Arbitrator:     p.Arbitrator,
			FeeRecipient:   p.FeeRecipient,
			CreatedAt:      e.now(),
		}
		if err := st.PutRegistry(reg); err != nil {
			return err
		}
		created = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("escrow registry initialized", "seller", p.Seller.String(), "feeBps", p.FeeBps)
	return created.Clone(), nil
}

// PoolDepositParams describes a deposit into a seller's pooled balance.
type PoolDepositParams struct {
	Seller crypto.Identity
	Amount uint64
	Asset  types.AssetRef
}

// DepositToPool moves amount plus the registry's flat fee_bps surcharge from
// the signer into the seller's pool. It returns the total debited.
func (e *Engine) DepositToPool(ctx context.Context, signer crypto.Identity, p PoolDepositParams) (uint64, error) {
	if p.Amount == 0 {
		return 0, ErrInvalidAmount
	}
	pool := RegistryAddress(p.Seller)
	var total uint64
	err := e.execute(ctx, "deposit_to_pool", []crypto.Identity{pool, signer}, func(st State, _ *outcome) error {
		reg, err := loadRegistry(st, p.Seller)
		if err != nil {
			return err
		}
		total, err = addAmounts(p.Amount, reg.FeeBps)
		if err != nil {
			return err
		}
		if p.Asset.IsNative() {
			balance, err := bank.Balance(st, signer)
			if err != nil {
				return err
			}
			if balance < total {
				return fmt.Errorf("%w: depositor holds %d, needs %d", ErrInsufficientFunds, balance, total)
			}
		}
		return moveFunds(st, bank.Personal(signer), p.Asset, signer, pool, total)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// PoolWithdrawParams describes a withdrawal from the seller's pool.
type PoolWithdrawParams struct {
	Seller crypto.Identity
	Amount uint64
	Asset  types.AssetRef
}

// WithdrawFromPool returns pooled funds to the seller.
func (e *Engine) WithdrawFromPool(ctx context.Context, signer crypto.Identity, p PoolWithdrawParams) error {
	if p.Amount == 0 {
		return ErrInvalidAmount
	}
	if signer != p.Seller {
		return fmt.Errorf("%w: only the seller may withdraw pooled funds", ErrUnauthorized)
	}
	pool := RegistryAddress(p.Seller)
	return e.execute(ctx, "withdraw_from_pool", []crypto.Identity{pool, p.Seller}, func(st State, _ *outcome) error {
		if _, err := loadRegistry(st, p.Seller); err != nil {
			return err
		}
		return moveFunds(st, registryAuthority(p.Seller), p.Asset, pool, p.Seller, p.Amount)
	})
}

// Registry returns the seller's registry.
func (e *Engine) Registry(ctx context.Context, seller crypto.Identity) (*Registry, error) {
	var reg *Registry
	err := e.view(ctx, func(st State) error {
		var err error
		reg, err = loadRegistry(st, seller)
		return err
	})
	return reg, err
}

// PoolBalance returns the seller's pooled balance of asset.
func (e *Engine) PoolBalance(ctx context.Context, seller crypto.Identity, asset types.AssetRef) (uint64, error) {
	var balance uint64
	err := e.view(ctx, func(st State) error {
		if _, err := loadRegistry(st, seller); err != nil {
			return err
		}
		var err error
		balance, err = bank.TokenBalance(st, RegistryAddress(seller), asset)
		return err
	})
	return balance, err
}

// Balance returns the native or token balance owned by id.
func (e *Engine) Balance(ctx context.Context, id crypto.Identity, asset types.AssetRef) (uint64, error) {
	var balance uint64
	err := e.view(ctx, func(st State) error {
		var err error
		balance, err = bank.TokenBalance(st, id, asset)
		return err
	})
	return balance, err
}
