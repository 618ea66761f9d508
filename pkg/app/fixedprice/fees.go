package fixedprice

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/nftmarket/params"
)

// Fees is the split of one settlement price.
type Fees struct {
	Royalty        *uint256.Int
	ServiceFee     *uint256.Int
	SellerProceeds *uint256.Int
}

var maxBps = uint256.NewInt(params.MaxBps)

// ComputeFees floors each rate against price; the seller receives the
// remainder, so Royalty + ServiceFee + SellerProceeds == price always.
func ComputeFees(price *uint256.Int, royaltyBps, serviceFeeBps uint64) (Fees, error) {
	if royaltyBps+serviceFeeBps > params.MaxBps || royaltyBps > params.MaxBps || serviceFeeBps > params.MaxBps {
		return Fees{}, fmt.Errorf("%w: royalty %d + service fee %d", ErrInvalidFeeBps, royaltyBps, serviceFeeBps)
	}
	royalty, _ := new(uint256.Int).MulDivOverflow(price, uint256.NewInt(royaltyBps), maxBps)
	fee, _ := new(uint256.Int).MulDivOverflow(price, uint256.NewInt(serviceFeeBps), maxBps)
	proceeds := new(uint256.Int).Sub(price, royalty)
	proceeds.Sub(proceeds, fee)
	return Fees{Royalty: royalty, ServiceFee: fee, SellerProceeds: proceeds}, nil
}
