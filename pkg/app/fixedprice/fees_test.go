package fixedprice

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestComputeFeesDefaults(t *testing.T) {
	fees, err := ComputeFees(uint256.NewInt(10000), 1000, 250)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), fees.Royalty.Uint64())
	require.Equal(t, uint64(250), fees.ServiceFee.Uint64())
	require.Equal(t, uint64(8750), fees.SellerProceeds.Uint64())

	// flooring leaves the dust with the seller
	fees, err = ComputeFees(uint256.NewInt(39), 1000, 250)
	require.NoError(t, err)
	require.Equal(t, uint64(3), fees.Royalty.Uint64())
	require.Equal(t, uint64(0), fees.ServiceFee.Uint64())
	require.Equal(t, uint64(36), fees.SellerProceeds.Uint64())

	_, err = ComputeFees(uint256.NewInt(1), 10000, 1)
	require.ErrorIs(t, err, ErrInvalidFeeBps)
}

func TestComputeFeesConservesPrice(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hi := rapid.Uint64().Draw(t, "hi")
		lo := rapid.Uint64().Draw(t, "lo")
		price := new(uint256.Int).Lsh(uint256.NewInt(hi), 64)
		price.Or(price, uint256.NewInt(lo))
		royaltyBps := rapid.Uint64Range(0, 10000).Draw(t, "royalty")
		feeBps := rapid.Uint64Range(0, 10000-royaltyBps).Draw(t, "fee")

		fees, err := ComputeFees(price, royaltyBps, feeBps)
		if err != nil {
			t.Fatalf("ComputeFees: %v", err)
		}
		sum := new(uint256.Int).Add(fees.Royalty, fees.ServiceFee)
		sum.Add(sum, fees.SellerProceeds)
		if !sum.Eq(price) {
			t.Fatalf("legs sum to %s, price %s", sum.Dec(), price.Dec())
		}
		// floor(price*bps/10000) * 10000 <= price*bps
		lhs := new(uint256.Int).Mul(fees.Royalty, uint256.NewInt(10000))
		rhs := new(uint256.Int).Mul(price, uint256.NewInt(royaltyBps))
		if lhs.Gt(rhs) {
			t.Fatalf("royalty %s rounds up", fees.Royalty.Dec())
		}
	})
}
