package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

const deriveDomain = "peerescrow/derive/v1"

// DeriveIdentity deterministically maps a tag and seed list onto an identity.
// Seeds are length-prefixed so ("ab","c") and ("a","bc") never collide. The
// result lies off the secp256k1 key space in practice, so only code holding
// the derivation inputs can act for it.
func DeriveIdentity(tag string, seeds ...[]byte) Identity {
	buf := make([]byte, 0, len(deriveDomain)+len(tag)+8)
	buf = append(buf, deriveDomain...)
	buf = append(buf, 0)
	buf = append(buf, tag...)
	var length [4]byte
	for _, seed := range seeds {
		binary.BigEndian.PutUint32(length[:], uint32(len(seed)))
		buf = append(buf, length[:]...)
		buf = append(buf, seed...)
	}
	hash := crypto.Keccak256(buf)
	var id Identity
	copy(id[:], hash[len(hash)-IdentityLength:])
	return id
}
