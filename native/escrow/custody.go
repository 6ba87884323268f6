package escrow

import (
	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/bank"
)

const (
	registryDeriveTag = "escrow_state"
	orderDeriveTag    = "escrow"
)

// RegistryAddress is the custody identity of a seller's registry. It holds the
// pooled balance and the dispute stakes.
func RegistryAddress(seller crypto.Identity) crypto.Identity {
	return crypto.DeriveIdentity(registryDeriveTag, seller[:])
}

// OrderAddress is the custody identity holding an order's locked funds.
func OrderAddress(key OrderKey) crypto.Identity {
	return crypto.DeriveIdentity(orderDeriveTag, key.Seller[:], []byte(key.ID))
}

// derivedAuthority lets engine code debit a record-derived custody address.
// It is unexported so no caller outside the engine can construct one.
type derivedAuthority struct {
	custody crypto.Identity
}

func (d derivedAuthority) Authorizes(owner crypto.Identity) bool {
	return owner == d.custody
}

func registryAuthority(seller crypto.Identity) bank.Authority {
	return derivedAuthority{custody: RegistryAddress(seller)}
}

func orderAuthority(key OrderKey) bank.Authority {
	return derivedAuthority{custody: OrderAddress(key)}
}

// moveFunds transfers amount of asset, creating the destination holding for
// tokens when needed.
func moveFunds(st State, auth bank.Authority, asset types.AssetRef, from, to crypto.Identity, amount uint64) error {
	return bank.Move(st, auth, asset, from, to, amount)
}
