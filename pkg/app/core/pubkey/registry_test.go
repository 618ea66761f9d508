package pubkey

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

func TestRegisterGetClear(t *testing.T) {
	r := NewRegistry()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	acc := signer.Address()

	if _, err := r.Get(acc); !errors.Is(err, ErrNoKey) {
		t.Fatalf("Get before register = %v, want ErrNoKey", err)
	}
	if err := r.Register(acc, signer.CompressedPubKey()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Get(acc)
	if err != nil || string(got) != string(signer.CompressedPubKey()) {
		t.Fatalf("Get = %x, %v", got, err)
	}

	// returned slice is a copy
	got[0] ^= 0xff
	again, _ := r.Get(acc)
	if again[0] == got[0] {
		t.Fatal("registry exposed its internal key")
	}

	r.Clear(acc)
	if _, err := r.Get(acc); !errors.Is(err, ErrNoKey) {
		t.Fatalf("Get after clear = %v", err)
	}
	r.Clear(acc)
}

func TestRegisterRejectsMalformedKeys(t *testing.T) {
	r := NewRegistry()
	signer, _ := crypto.GenerateKey()
	good := signer.CompressedPubKey()

	offCurve := append([]byte{0x02}, make([]byte, 32)...)
	badPrefix := append([]byte{0x04}, good[1:]...)

	tests := map[string][]byte{
		"empty":      nil,
		"short":      good[:32],
		"bad prefix": badPrefix,
		"off curve":  offCurve,
	}
	for name, key := range tests {
		if err := r.Register(common.HexToAddress("0x01"), key); err == nil {
			t.Errorf("%s: Register accepted %x", name, key)
		}
	}
}

func TestBindingsRoundTrip(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		s, _ := crypto.GenerateKey()
		if err := r.Register(s.Address(), s.CompressedPubKey()); err != nil {
			t.Fatal(err)
		}
	}
	saved := r.Bindings()
	other := NewRegistry()
	if err := other.Reset(saved); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(other.Bindings()) != 3 {
		t.Fatalf("restored %d bindings", len(other.Bindings()))
	}
	for i := 1; i < len(saved); i++ {
		if string(saved[i-1].Account[:]) >= string(saved[i].Account[:]) {
			t.Fatal("bindings not sorted")
		}
	}
}
