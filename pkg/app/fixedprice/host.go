package fixedprice

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetRegistry is the external NFT registry. The marketplace moves tokens
// as their approved spender.
type AssetRegistry interface {
	OwnerOf(asset common.Address, tokenID *uint256.Int) (common.Address, error)
	SpenderOf(asset common.Address, tokenID *uint256.Int) (common.Address, error)
	TransferAsset(operator, asset, from, to common.Address, tokenID *uint256.Int) error
}

// PaymentTokenRegistry is the external fungible token registry.
type PaymentTokenRegistry interface {
	Allowance(token, owner, spender common.Address) *uint256.Int
	TransferFrom(token, spender, owner, recipient common.Address, amount *uint256.Int) error
}

// NativeLedger moves native coin between accounts.
type NativeLedger interface {
	BalanceOf(account common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// RoyaltyRegistry optionally overrides the royalty recipient and rate for an
// asset contract. Hosts that implement it are consulted on every fill.
type RoyaltyRegistry interface {
	RoyaltyInfo(asset common.Address) (recipient common.Address, bps uint64, ok bool)
}

// Host is everything a transition touches outside the marketplace's own
// book and escrow. Changes made after Snapshot are undone by
// RevertToSnapshot, which is how a failed transition leaves no trace.
type Host interface {
	AssetRegistry
	PaymentTokenRegistry
	NativeLedger
	Snapshot() int
	RevertToSnapshot(id int)
}
