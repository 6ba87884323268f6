package types

import (
	"bytes"
	"fmt"
	"strings"

	"peerescrow/crypto"
)

// Account holds the native balance of a ledger identity.
type Account struct {
	Balance uint64 `json:"balance"`
}

// Clone returns a copy of the account, treating nil as an empty account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{}
	}
	clone := *a
	return &clone
}

// AssetPrefix is the bech32 prefix used for fungible token references.
const AssetPrefix = "asset"

// NativeAssetName is the textual form of the native currency reference.
const NativeAssetName = "native"

// AssetRef identifies the asset an amount is denominated in. The zero value is
// the native currency; any other value names a fungible token.
type AssetRef [20]byte

// NativeAsset is the native currency reference.
var NativeAsset AssetRef

// IsNative reports whether the reference denotes the native currency.
func (a AssetRef) IsNative() bool {
	return a == NativeAsset
}

func (a AssetRef) String() string {
	if a.IsNative() {
		return NativeAssetName
	}
	encoded, err := crypto.EncodeBech32(AssetPrefix, a[:])
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText encodes the reference as "native" or its bech32 form.
func (a AssetRef) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses "native", an empty string or a bech32 asset reference.
func (a *AssetRef) UnmarshalText(text []byte) error {
	parsed, err := ParseAssetRef(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAssetRef decodes the textual representation of an asset reference.
func ParseAssetRef(value string) (AssetRef, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, NativeAssetName) {
		return NativeAsset, nil
	}
	prefix, raw, err := crypto.DecodeBech32(trimmed)
	if err != nil {
		return NativeAsset, err
	}
	if prefix != AssetPrefix {
		return NativeAsset, fmt.Errorf("types: unexpected asset prefix %q", prefix)
	}
	if len(raw) != len(AssetRef{}) {
		return NativeAsset, fmt.Errorf("types: asset reference must be 20 bytes, got %d", len(raw))
	}
	var ref AssetRef
	copy(ref[:], raw)
	if ref.IsNative() {
		return NativeAsset, fmt.Errorf("types: token reference must not be zero")
	}
	return ref, nil
}

// AssetFromLabel derives a token reference from a human label. It is used by
// tooling that names tokens by symbol.
func AssetFromLabel(label string) AssetRef {
	trimmed := strings.ToUpper(strings.TrimSpace(label))
	if trimmed == "" || trimmed == strings.ToUpper(NativeAssetName) {
		return NativeAsset
	}
	hash := crypto.Keccak256([]byte("asset:"), []byte(trimmed))
	var ref AssetRef
	copy(ref[:], hash[len(hash)-len(ref):])
	return ref
}

// Holding is the per-(owner, asset) token account. A holding must exist before
// it can receive tokens.
type Holding struct {
	Owner  crypto.Identity `json:"owner"`
	Asset  AssetRef        `json:"asset"`
	Amount uint64          `json:"amount"`
}

// Clone returns a copy of the holding.
func (h *Holding) Clone() *Holding {
	if h == nil {
		return nil
	}
	clone := *h
	return &clone
}

// Matches reports whether the holding belongs to owner for asset.
func (h *Holding) Matches(owner crypto.Identity, asset AssetRef) bool {
	if h == nil {
		return false
	}
	return bytes.Equal(h.Owner[:], owner[:]) && h.Asset == asset
}
