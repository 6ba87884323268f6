package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/escrow"
)

var (
	accountPrefix  = []byte("account:")
	holdingPrefix  = []byte("holding:")
	registryPrefix = []byte("escrow-registry:")
	orderPrefix    = []byte("escrow-order:")
)

func hashedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

// AccountKey returns the storage key of an identity's native account.
func AccountKey(id crypto.Identity) []byte {
	return hashedKey(accountPrefix, id[:])
}

// HoldingKey returns the storage key of a token holding.
func HoldingKey(owner crypto.Identity, asset types.AssetRef) []byte {
	return hashedKey(holdingPrefix, asset[:], owner[:])
}

// RegistryKey returns the storage key of a seller registry.
func RegistryKey(seller crypto.Identity) []byte {
	return hashedKey(registryPrefix, seller[:])
}

// OrderKey returns the storage key of an order record.
func OrderKey(key escrow.OrderKey) []byte {
	return hashedKey(orderPrefix, key.Seller[:], []byte(key.ID))
}
