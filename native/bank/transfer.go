package bank

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"peerescrow/core/types"
	"peerescrow/crypto"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrUnauthorized      = errors.New("bank: transfer not authorized by owner")
	ErrHoldingNotFound   = errors.New("bank: holding account not found")
	ErrOverflow          = errors.New("bank: balance overflow")
	ErrSelfTransfer      = errors.New("bank: source and destination must differ")
)

// Accounts is the ledger surface the transfer primitives operate on.
type Accounts interface {
	GetAccount(id crypto.Identity) (*types.Account, error)
	PutAccount(id crypto.Identity, account *types.Account) error
	GetHolding(owner crypto.Identity, asset types.AssetRef) (*types.Holding, bool, error)
	PutHolding(holding *types.Holding) error
}

// Authority decides whether a debit of owner's funds is permitted.
type Authority interface {
	Authorizes(owner crypto.Identity) bool
}

// Personal is the authority conveyed by a verified signature of the identity.
type Personal crypto.Identity

// Authorizes implements Authority.
func (p Personal) Authorizes(owner crypto.Identity) bool {
	return crypto.Identity(p) == owner
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, ErrOverflow
	}
	return sum.Uint64(), nil
}

func authorize(auth Authority, owner crypto.Identity) error {
	if auth == nil || !auth.Authorizes(owner) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, owner)
	}
	return nil
}

// Transfer moves amount of native currency from one identity to another. A
// zero amount succeeds without touching state once authorization passes.
func Transfer(accts Accounts, auth Authority, from, to crypto.Identity, amount uint64) error {
	if err := authorize(auth, from); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	if from == to {
		return ErrSelfTransfer
	}
	src, err := accts.GetAccount(from)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, src.Balance, amount)
	}
	dst, err := accts.GetAccount(to)
	if err != nil {
		return err
	}
	credited, err := checkedAdd(dst.Balance, amount)
	if err != nil {
		return err
	}
	src.Balance -= amount
	dst.Balance = credited
	if err := accts.PutAccount(from, src); err != nil {
		return err
	}
	return accts.PutAccount(to, dst)
}

// EnsureHolding creates the (owner, asset) holding when missing. Repeated calls
// are no-ops.
func EnsureHolding(accts Accounts, owner crypto.Identity, asset types.AssetRef) error {
	if asset.IsNative() {
		return fmt.Errorf("bank: native currency has no holding account")
	}
	_, ok, err := accts.GetHolding(owner, asset)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return accts.PutHolding(&types.Holding{Owner: owner, Asset: asset})
}

// TransferToken moves amount of a token between two existing holdings.
func TransferToken(accts Accounts, auth Authority, asset types.AssetRef, from, to crypto.Identity, amount uint64) error {
	if asset.IsNative() {
		return fmt.Errorf("bank: token transfer requires a token asset")
	}
	if err := authorize(auth, from); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	if from == to {
		return ErrSelfTransfer
	}
	src, ok, err := accts.GetHolding(from, asset)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrHoldingNotFound, from, asset)
	}
	dst, ok, err := accts.GetHolding(to, asset)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrHoldingNotFound, to, asset)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientFunds, from, src.Amount, asset, amount)
	}
	credited, err := checkedAdd(dst.Amount, amount)
	if err != nil {
		return err
	}
	src.Amount -= amount
	dst.Amount = credited
	if err := accts.PutHolding(src); err != nil {
		return err
	}
	return accts.PutHolding(dst)
}

// Move dispatches on the asset kind, lazily creating the destination holding
// for tokens.
func Move(accts Accounts, auth Authority, asset types.AssetRef, from, to crypto.Identity, amount uint64) error {
	if asset.IsNative() {
		return Transfer(accts, auth, from, to, amount)
	}
	if err := EnsureHolding(accts, to, asset); err != nil {
		return err
	}
	return TransferToken(accts, auth, asset, from, to, amount)
}

// Balance returns the native balance of id.
func Balance(accts Accounts, id crypto.Identity) (uint64, error) {
	acc, err := accts.GetAccount(id)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// TokenBalance returns the token amount owned by owner. A missing holding
// reports zero.
func TokenBalance(accts Accounts, owner crypto.Identity, asset types.AssetRef) (uint64, error) {
	if asset.IsNative() {
		return Balance(accts, owner)
	}
	holding, ok, err := accts.GetHolding(owner, asset)
	if err != nil || !ok {
		return 0, err
	}
	return holding.Amount, nil
}

// Mint credits amount out of thin air. Only development faucets and tests call
// it.
func Mint(accts Accounts, to crypto.Identity, asset types.AssetRef, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("bank: mint amount must be positive")
	}
	if asset.IsNative() {
		acc, err := accts.GetAccount(to)
		if err != nil {
			return err
		}
		credited, err := checkedAdd(acc.Balance, amount)
		if err != nil {
			return err
		}
		acc.Balance = credited
		return accts.PutAccount(to, acc)
	}
	if err := EnsureHolding(accts, to, asset); err != nil {
		return err
	}
	holding, _, err := accts.GetHolding(to, asset)
	if err != nil {
		return err
	}
	credited, err := checkedAdd(holding.Amount, amount)
	if err != nil {
		return err
	}
	holding.Amount = credited
	return accts.PutHolding(holding)
}
