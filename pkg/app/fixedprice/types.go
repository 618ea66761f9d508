package fixedprice

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
)

// Call is the transaction context of a transition.
type Call struct {
	Sender common.Address
	// Amount is native coin attached to the call. It has not moved yet; the
	// engine transfers it to the marketplace only when the transition
	// succeeds.
	Amount      *uint256.Int
	BlockNumber uint64
}

func (c Call) attached() *uint256.Int {
	if c.Amount == nil {
		return new(uint256.Int)
	}
	return c.Amount
}

type CreateOrderRequest struct {
	Side         orderbook.Side
	Asset        common.Address
	TokenID      *uint256.Int
	PaymentToken common.Address
	Price        *uint256.Int
	Expiration   uint64
}

type CancelOrderRequest struct {
	Side         orderbook.Side
	Asset        common.Address
	TokenID      *uint256.Int
	PaymentToken common.Address
	Price        *uint256.Int
}

// SignedFulfillment carries a maker's off-chain authorization. Format tags
// the message layout.
type SignedFulfillment struct {
	Format    uint8
	Message   []byte
	Signature []byte
}

type FulfillOrderRequest struct {
	Side         orderbook.Side
	Asset        common.Address
	TokenID      *uint256.Int
	PaymentToken common.Address
	Price        *uint256.Int
	Destination  common.Address
	Signed       *SignedFulfillment
}

type TransferKind string

const (
	TransferNative TransferKind = "native"
	TransferToken  TransferKind = "token"
	TransferAsset  TransferKind = "asset"
)

// Transfer is one instruction issued to a registry during a transition.
type Transfer struct {
	Kind TransferKind `json:"kind"`
	// Contract is the payment token or asset contract; zero for native coin.
	Contract common.Address `json:"contract"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Amount   *uint256.Int   `json:"amount,omitempty"`
	TokenID  *uint256.Int   `json:"tokenId,omitempty"`
}

// Receipt is returned by every successful transition.
type Receipt struct {
	Events    []Event
	Transfers []Transfer
}

func (r *Receipt) emit(ev Event) { r.Events = append(r.Events, ev) }

func (r *Receipt) transfer(t Transfer) { r.Transfers = append(r.Transfers, t) }

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
