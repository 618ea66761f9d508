package fixedprice

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
)

// Event is a domain event emitted by a transition.
type Event interface {
	Name() string
	ABCI() abci.Event
}

type CreateOrderEvent struct {
	Maker        common.Address
	Side         orderbook.Side
	Asset        common.Address
	TokenID      *uint256.Int
	PaymentToken common.Address
	Price        *uint256.Int
	Expiration   uint64
}

func (CreateOrderEvent) Name() string { return "CreateOrder" }

func (e CreateOrderEvent) ABCI() abci.Event {
	return abci.NewEvent(e.Name(),
		"maker", e.Maker.Hex(),
		"side", sideAttr(e.Side),
		"asset_contract", e.Asset.Hex(),
		"token_id", e.TokenID.Dec(),
		"payment_token", e.PaymentToken.Hex(),
		"sale_price", e.Price.Dec(),
		"expiration_bnum", strconv.FormatUint(e.Expiration, 10),
	)
}

type CancelOrderEvent struct {
	Maker        common.Address
	Side         orderbook.Side
	Asset        common.Address
	TokenID      *uint256.Int
	PaymentToken common.Address
	Price        *uint256.Int
}

func (CancelOrderEvent) Name() string { return "CancelOrder" }

func (e CancelOrderEvent) ABCI() abci.Event {
	return abci.NewEvent(e.Name(),
		"maker", e.Maker.Hex(),
		"side", sideAttr(e.Side),
		"asset_contract", e.Asset.Hex(),
		"token_id", e.TokenID.Dec(),
		"payment_token", e.PaymentToken.Hex(),
		"sale_price", e.Price.Dec(),
	)
}

type FulfillOrderEvent struct {
	Taker            common.Address
	Side             orderbook.Side
	Asset            common.Address
	TokenID          *uint256.Int
	PaymentToken     common.Address
	Price            *uint256.Int
	Seller           common.Address
	Buyer            common.Address
	AssetRecipient   common.Address
	PaymentRecipient common.Address
	RoyaltyRecipient common.Address
	RoyaltyAmount    *uint256.Int
	ServiceFee       *uint256.Int
}

func (FulfillOrderEvent) Name() string { return "FulfillOrder" }

func (e FulfillOrderEvent) ABCI() abci.Event {
	return abci.NewEvent(e.Name(),
		"taker", e.Taker.Hex(),
		"side", sideAttr(e.Side),
		"asset_contract", e.Asset.Hex(),
		"token_id", e.TokenID.Dec(),
		"payment_token", e.PaymentToken.Hex(),
		"sale_price", e.Price.Dec(),
		"seller", e.Seller.Hex(),
		"buyer", e.Buyer.Hex(),
		"asset_recipient", e.AssetRecipient.Hex(),
		"payment_tokens_recipient", e.PaymentRecipient.Hex(),
		"royalty_recipient", e.RoyaltyRecipient.Hex(),
		"royalty_amount", e.RoyaltyAmount.Dec(),
		"service_fee", e.ServiceFee.Dec(),
	)
}

// PubKeyEvent records a verifier key being bound or cleared.
type PubKeyEvent struct {
	Account common.Address
	PubKey  []byte // nil when cleared
}

func (e PubKeyEvent) Name() string {
	if e.PubKey == nil {
		return "ClearPubKey"
	}
	return "RegisterPubKey"
}

func (e PubKeyEvent) ABCI() abci.Event {
	if e.PubKey == nil {
		return abci.NewEvent(e.Name(), "account", e.Account.Hex())
	}
	return abci.NewEvent(e.Name(), "account", e.Account.Hex(), "pubkey", common.Bytes2Hex(e.PubKey))
}

// AdminEvent records an owner-only configuration change.
type AdminEvent struct {
	Action string
	Value  string
}

func (e AdminEvent) Name() string { return e.Action }

func (e AdminEvent) ABCI() abci.Event {
	if e.Value == "" {
		return abci.NewEvent(e.Action)
	}
	return abci.NewEvent(e.Action, "value", e.Value)
}

func sideAttr(s orderbook.Side) string { return strconv.FormatUint(uint64(s), 10) }

// TransferEvent renders a transfer instruction as an event.
func TransferEvent(t Transfer) abci.Event {
	kv := []string{"kind", string(t.Kind), "contract", t.Contract.Hex(), "from", t.From.Hex(), "to", t.To.Hex()}
	if t.Amount != nil {
		kv = append(kv, "amount", t.Amount.Dec())
	}
	if t.TokenID != nil {
		kv = append(kv, "token_id", t.TokenID.Dec())
	}
	return abci.NewEvent("transfer", kv...)
}
