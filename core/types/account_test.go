package types

import "testing"

func TestAssetRefTextForms(t *testing.T) {
	if NativeAsset.String() != NativeAssetName {
		t.Fatalf("native asset renders as %q", NativeAsset.String())
	}
	parsed, err := ParseAssetRef("")
	if err != nil || !parsed.IsNative() {
		t.Fatalf("empty asset should parse as native: %v", err)
	}
	token := AssetFromLabel("usdc")
	if token.IsNative() {
		t.Fatalf("label derived token must not be native")
	}
	if token != AssetFromLabel(" USDC ") {
		t.Fatalf("label derivation should normalise case and whitespace")
	}
	round, err := ParseAssetRef(token.String())
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if round != token {
		t.Fatalf("token round trip mismatch")
	}
	if _, err := ParseAssetRef("peer1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"); err == nil {
		t.Fatalf("expected invalid asset to fail")
	}
}

func TestAccountCloneNil(t *testing.T) {
	var acc *Account
	clone := acc.Clone()
	if clone == nil || clone.Balance != 0 {
		t.Fatalf("nil clone should be an empty account")
	}
	src := &Account{Balance: 5}
	cp := src.Clone()
	cp.Balance = 9
	if src.Balance != 5 {
		t.Fatalf("clone aliases source")
	}
}
