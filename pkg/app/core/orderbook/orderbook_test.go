package orderbook

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rapid"
)

var (
	asset  = common.HexToAddress("0xa11ce")
	native = common.Address{}
	alice  = common.HexToAddress("0x01")
	bob    = common.HexToAddress("0x02")
)

func key(tokenID, price uint64) Key {
	return NewKey(asset, uint256.NewInt(tokenID), native, uint256.NewInt(price))
}

func TestInsertLookupRemove(t *testing.T) {
	b := New()
	k := key(1, 10000)

	if _, err := b.Lookup(Sell, k); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup on empty book = %v, want ErrNotFound", err)
	}

	if _, replaced := b.Insert(Sell, k, alice, 15); replaced {
		t.Fatal("first insert reported a replacement")
	}
	rec, err := b.Lookup(Sell, k)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Maker != alice || rec.Expiration != 15 {
		t.Fatalf("Lookup = %+v", rec)
	}

	// the other side of the same key is independent
	if _, err := b.Lookup(Buy, k); !errors.Is(err, ErrNotFound) {
		t.Fatalf("buy side should be empty, got %v", err)
	}

	removed, err := b.Remove(Sell, k)
	if err != nil || removed.Maker != alice {
		t.Fatalf("Remove = %+v, %v", removed, err)
	}
	if _, err := b.Remove(Sell, k); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove = %v, want ErrNotFound", err)
	}
	if len(b.OrdersFor(asset, uint256.NewInt(1))) != 0 {
		t.Fatal("slot index not cleaned up")
	}
}

func TestInsertOverwrites(t *testing.T) {
	b := New()
	k := key(1, 10000)

	b.Insert(Buy, k, alice, 10)
	prev, replaced := b.Insert(Buy, k, bob, 20)
	if !replaced || prev.Maker != alice || prev.Expiration != 10 {
		t.Fatalf("displaced = %+v replaced=%v", prev, replaced)
	}
	rec, _ := b.Lookup(Buy, k)
	if rec.Maker != bob || rec.Expiration != 20 {
		t.Fatalf("Lookup after overwrite = %+v", rec)
	}
	if b.Len(Buy) != 1 {
		t.Fatalf("Len = %d, want 1", b.Len(Buy))
	}
}

func TestPriceIsExactMatch(t *testing.T) {
	b := New()
	b.Insert(Sell, key(1, 10000), alice, 10)
	if _, err := b.Lookup(Sell, key(1, 9999)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lookup at a different price = %v", err)
	}
}

func TestOrdersForAndAll(t *testing.T) {
	b := New()
	b.Insert(Buy, key(1, 300), bob, 9)
	b.Insert(Sell, key(1, 200), alice, 9)
	b.Insert(Sell, key(1, 100), alice, 9)
	b.Insert(Sell, key(2, 100), alice, 9)

	got := b.OrdersFor(asset, uint256.NewInt(1))
	if len(got) != 3 {
		t.Fatalf("OrdersFor = %d orders, want 3", len(got))
	}
	if got[0].Side != Sell || got[0].Key.Price.Uint64() != 100 ||
		got[1].Key.Price.Uint64() != 200 || got[2].Side != Buy {
		t.Fatalf("unexpected order: %+v", got)
	}
	if n := len(b.All()); n != 4 {
		t.Fatalf("All = %d, want 4", n)
	}
}

func TestReset(t *testing.T) {
	b := New()
	b.Insert(Sell, key(5, 1), alice, 1)
	snapshot := b.All()

	b.Remove(Sell, key(5, 1))
	b.Insert(Buy, key(6, 1), bob, 1)
	b.Reset(snapshot)

	if _, err := b.Lookup(Sell, key(5, 1)); err != nil {
		t.Fatalf("restored order missing: %v", err)
	}
	if b.Len(Buy) != 0 {
		t.Fatal("reset kept stale buy order")
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in   string
		want Side
		ok   bool
	}{
		{"sell", Sell, true},
		{"0", Sell, true},
		{"buy", Buy, true},
		{"1", Buy, true},
		{"2", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseSide(%q) = %v, %v", tt.in, got, err)
		}
	}
	if Side(2).Valid() {
		t.Error("Side(2) should be invalid")
	}
}

// Lookup after Insert returns exactly what was inserted, for any sequence.
func TestLookupReturnsLastInsert(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := New()
		model := map[sideKey]Record{}
		n := rapid.IntRange(1, 40).Draw(t, "n")
		for i := 0; i < n; i++ {
			side := Side(rapid.IntRange(0, 1).Draw(t, "side"))
			k := key(rapid.Uint64Range(0, 3).Draw(t, "token"), rapid.Uint64Range(1, 3).Draw(t, "price"))
			if rapid.Bool().Draw(t, "remove") {
				_, err := b.Remove(side, k)
				_, had := model[sideKey{side, k}]
				if had != (err == nil) {
					t.Fatalf("Remove err=%v, model had=%v", err, had)
				}
				delete(model, sideKey{side, k})
				continue
			}
			maker := common.BigToAddress(uint256.NewInt(rapid.Uint64Range(1, 4).Draw(t, "maker")).ToBig())
			exp := rapid.Uint64().Draw(t, "exp")
			b.Insert(side, k, maker, exp)
			model[sideKey{side, k}] = Record{Maker: maker, Expiration: exp}

			rec, err := b.Lookup(side, k)
			if err != nil || rec.Maker != maker || rec.Expiration != exp {
				t.Fatalf("Lookup = %+v, %v", rec, err)
			}
		}
		if got := b.Len(Sell) + b.Len(Buy); got != len(model) {
			t.Fatalf("book has %d orders, model %d", got, len(model))
		}
	})
}
