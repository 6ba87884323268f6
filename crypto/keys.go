package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// IdentityPrefix is the human-readable bech32 prefix used for ledger identities.
const IdentityPrefix = "peer"

// IdentityLength is the byte length of a ledger identity.
const IdentityLength = 20

// Identity is a 20-byte ledger address. It names either a key holder (derived
// from a secp256k1 public key) or a record-derived custody address that no key
// can sign for.
type Identity [IdentityLength]byte

// ZeroIdentity is the unset identity.
var ZeroIdentity Identity

func (id Identity) String() string {
	encoded, err := EncodeBech32(IdentityPrefix, id[:])
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the identity bytes.
func (id Identity) Bytes() []byte {
	out := make([]byte, IdentityLength)
	copy(out, id[:])
	return out
}

// Hex returns the 0x-prefixed hexadecimal form of the identity.
func (id Identity) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == ZeroIdentity
}

// MarshalText encodes the identity using its bech32 form.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText accepts the bech32 or 0x-hex encodings.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// BytesToIdentity converts a 20-byte slice into an Identity.
func BytesToIdentity(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentityLength {
		return id, fmt.Errorf("crypto: identity must be %d bytes, got %d", IdentityLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseIdentity decodes an identity from its bech32 ("peer1...") or 0x-prefixed
// hexadecimal representation.
func ParseIdentity(value string) (Identity, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ZeroIdentity, fmt.Errorf("crypto: identity required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return ZeroIdentity, fmt.Errorf("crypto: decode hex identity: %w", err)
		}
		return BytesToIdentity(raw)
	}
	prefix, raw, err := DecodeBech32(trimmed)
	if err != nil {
		return ZeroIdentity, err
	}
	if prefix != IdentityPrefix {
		return ZeroIdentity, fmt.Errorf("crypto: unexpected identity prefix %q", prefix)
	}
	return BytesToIdentity(raw)
}

// EncodeBech32 renders raw bytes under the supplied human-readable prefix.
func EncodeBech32(prefix string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("crypto: convert bits: %w", err)
	}
	return bech32.Encode(prefix, conv)
}

// DecodeBech32 parses a bech32 string returning its prefix and raw bytes.
func DecodeBech32(value string) (string, []byte, error) {
	prefix, decoded, err := bech32.Decode(value)
	if err != nil {
		return "", nil, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("error converting bits: %w", err)
	}
	return prefix, conv, nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Identity returns the ledger identity controlled by the key.
func (k *PrivateKey) Identity() Identity {
	return k.PubKey().Identity()
}

func (k *PublicKey) Identity() Identity {
	return Identity(crypto.PubkeyToAddress(*k.PublicKey))
}

// PrivateKeyFromHex parses a hex encoded secp256k1 private key.
func PrivateKeyFromHex(value string) (*PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &PrivateKey{key}, nil
}
