package escrow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	alice = common.HexToAddress("0x01")
	bob   = common.HexToAddress("0x02")
)

func TestHoldRelease(t *testing.T) {
	l := New()
	id := common.HexToHash("0xaa")

	require.NoError(t, l.Hold(id, alice, uint256.NewInt(10000)))
	require.Equal(t, uint64(10000), l.Liability(alice).Uint64())
	require.Equal(t, uint64(10000), l.Total().Uint64())

	tr, err := l.Release(id, alice, uint256.NewInt(10000))
	require.NoError(t, err)
	require.Equal(t, alice, tr.To)
	require.Equal(t, uint64(10000), tr.Amount.Uint64())
	require.True(t, l.Liability(alice).IsZero())
	require.True(t, l.Total().IsZero())
	require.Empty(t, l.Entries())
}

func TestReleaseIsPerOrder(t *testing.T) {
	l := New()
	a, b := common.HexToHash("0x0a"), common.HexToHash("0x0b")
	require.NoError(t, l.Hold(a, alice, uint256.NewInt(100)))
	require.NoError(t, l.Hold(b, alice, uint256.NewInt(50)))

	// pooled liability is 150 but order b only holds 50
	_, err := l.Release(b, alice, uint256.NewInt(100))
	require.True(t, errors.Is(err, ErrInsufficientEscrow), "got %v", err)
	require.Equal(t, uint64(150), l.Liability(alice).Uint64())

	_, err = l.Release(a, bob, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientEscrow)

	_, err = l.Release(common.HexToHash("0x0c"), alice, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientEscrow)
}

func TestHoldTwiceRejected(t *testing.T) {
	l := New()
	id := common.HexToHash("0x01")
	require.NoError(t, l.Hold(id, alice, uint256.NewInt(1)))
	require.ErrorIs(t, l.Hold(id, bob, uint256.NewInt(1)), ErrAlreadyHeld)
}

func TestReset(t *testing.T) {
	l := New()
	require.NoError(t, l.Hold(common.HexToHash("0x01"), alice, uint256.NewInt(7)))
	require.NoError(t, l.Hold(common.HexToHash("0x02"), bob, uint256.NewInt(3)))
	saved := l.Entries()

	other := New()
	require.NoError(t, other.Reset(saved))
	require.Equal(t, saved, other.Entries())
	require.Equal(t, uint64(10), other.Total().Uint64())
}

// Total always equals the sum of per-account liabilities and of open entries.
func TestEscrowConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New()
		accounts := []common.Address{alice, bob}
		var ids []common.Hash

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(ids) == 0 || rapid.Bool().Draw(t, "hold") {
				id := common.BigToHash(uint256.NewInt(uint64(i + 1)).ToBig())
				acc := accounts[rapid.IntRange(0, 1).Draw(t, "acc")]
				amt := uint256.NewInt(rapid.Uint64Range(1, 1<<40).Draw(t, "amt"))
				if err := l.Hold(id, acc, amt); err != nil {
					t.Fatalf("Hold: %v", err)
				}
				ids = append(ids, id)
				continue
			}
			j := rapid.IntRange(0, len(ids)-1).Draw(t, "release")
			e, ok := l.Held(ids[j])
			if !ok {
				t.Fatalf("entry %d missing", j)
			}
			before := l.Liability(e.Account)
			tr, err := l.Release(e.ID, e.Account, e.Amount)
			if err != nil {
				t.Fatalf("Release: %v", err)
			}
			after := l.Liability(e.Account)
			if new(uint256.Int).Sub(before, after).Cmp(tr.Amount) != 0 {
				t.Fatalf("liability moved by %s, released %s", new(uint256.Int).Sub(before, after), tr.Amount)
			}
			ids = append(ids[:j], ids[j+1:]...)
		}

		sum := new(uint256.Int)
		for _, e := range l.Entries() {
			sum.Add(sum, e.Amount)
		}
		perAccount := new(uint256.Int).Add(l.Liability(alice), l.Liability(bob))
		if !sum.Eq(l.Total()) || !perAccount.Eq(l.Total()) {
			t.Fatalf("total %s, entries %s, accounts %s", l.Total(), sum, perAccount)
		}
	})
}
