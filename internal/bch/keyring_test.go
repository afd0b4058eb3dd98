package bch

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

func testSeed() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestAddressAt_Deterministic(t *testing.T) {
	k1, err := NewKeyRing(testSeed(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}
	k2, err := NewKeyRing(testSeed(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}

	a1, err := k1.AddressAt(7)
	if err != nil {
		t.Fatalf("address at 7: %v", err)
	}
	a2, err := k2.AddressAt(7)
	if err != nil {
		t.Fatalf("address at 7: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("same seed and index gave different addresses: %q vs %q", a1, a2)
	}
}

func TestAddressAt_DistinctIndexes(t *testing.T) {
	k, err := NewKeyRing(testSeed(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}

	seen := make(map[string]int64)
	for i := int64(0); i < 20; i++ {
		addr, err := k.AddressAt(i)
		if err != nil {
			t.Fatalf("address at %d: %v", i, err)
		}
		if prev, ok := seen[addr]; ok {
			t.Fatalf("indexes %d and %d share address %q", prev, i, addr)
		}
		seen[addr] = i

		if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
			t.Fatalf("address %q does not decode: %v", addr, err)
		}
	}
}

func TestAddressAt_IndexOutOfRange(t *testing.T) {
	k, err := NewKeyRing(testSeed(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}

	if _, err := k.AddressAt(-1); err == nil {
		t.Fatalf("expected error for negative index")
	}
	if _, err := k.AddressAt(int64(hdkeychain.HardenedKeyStart)); err == nil {
		t.Fatalf("expected error for hardened range index")
	}
}

func TestPrivKeyAt_MatchesAddress(t *testing.T) {
	k, err := NewKeyRing(testSeed(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}

	addr, err := k.AddressAt(3)
	if err != nil {
		t.Fatalf("address at 3: %v", err)
	}

	priv, err := k.PrivKeyAt(3)
	if err != nil {
		t.Fatalf("priv key at 3: %v", err)
	}

	pubHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	derived, err := btcutil.NewAddressPubKeyHash(pubHash, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("address from pub key: %v", err)
	}
	if derived.EncodeAddress() != addr {
		t.Fatalf("priv key address %q does not match derived %q", derived.EncodeAddress(), addr)
	}
}
