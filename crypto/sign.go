package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of a recoverable secp256k1 signature.
const SignatureLength = 65

var ErrInvalidSignature = errors.New("crypto: invalid signature")

// Keccak256 hashes the concatenation of the supplied byte slices.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// Sign produces a recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, k.PrivateKey)
}

// RecoverIdentity returns the identity whose key produced sig over digest.
func RecoverIdentity(digest, sig []byte) (Identity, error) {
	if len(digest) != 32 {
		return ZeroIdentity, fmt.Errorf("%w: digest must be 32 bytes", ErrInvalidSignature)
	}
	if len(sig) != SignatureLength {
		return ZeroIdentity, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	// Accept wallet-style recovery ids.
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return ZeroIdentity, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return Identity(crypto.PubkeyToAddress(*pub)), nil
}
