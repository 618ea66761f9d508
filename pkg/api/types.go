package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// OrderInfo is one open order.
type OrderInfo struct {
	Side         string         `json:"side"` // "sell" or "buy"
	Asset        common.Address `json:"asset"`
	TokenID      *uint256.Int   `json:"tokenId"`
	PaymentToken common.Address `json:"paymentToken"`
	Price        *uint256.Int   `json:"price"`
	Maker        common.Address `json:"maker"`
	Expiration   uint64         `json:"expiration"`
	Expired      bool           `json:"expired"`
}

func orderInfo(o orderbook.Order, height uint64) OrderInfo {
	return OrderInfo{
		Side:         o.Side.String(),
		Asset:        o.Key.Asset,
		TokenID:      new(uint256.Int).Set(&o.Key.TokenID),
		PaymentToken: o.Key.PaymentToken,
		Price:        new(uint256.Int).Set(&o.Key.Price),
		Maker:        o.Record.Maker,
		Expiration:   o.Record.Expiration,
		Expired:      o.Record.Expired(height),
	}
}

// ChainStatus is the producer's view of the chain.
type ChainStatus struct {
	Height      uint64      `json:"height"`
	AppHash     common.Hash `json:"appHash"`
	BlockHash   string      `json:"blockHash"`
	BlockTime   int64       `json:"blockTime"` // unix milliseconds of the head block
	MempoolSize int         `json:"mempoolSize"`
}

type EscrowInfo struct {
	Address common.Address `json:"address"`
	Amount  *uint256.Int   `json:"amount"`
}

type PubKeyInfo struct {
	Address common.Address `json:"address"`
	PubKey  hexutil.Bytes  `json:"pubKey"`
	// KeyAddress is the account the key itself derives. Registration does
	// not require it to equal Address.
	KeyAddress common.Address `json:"keyAddress"`
}

// SubmitTxResponse is returned once an envelope is queued.
type SubmitTxResponse struct {
	Status string      `json:"status"` // "submitted"
	Hash   common.Hash `json:"hash"`
}

// ==============================
// REST Request Types
// ==============================

// SerializeRequest carries the fields of a fulfillment message.
type SerializeRequest struct {
	Asset        common.Address `json:"asset"`
	TokenID      *uint256.Int   `json:"tokenId"`
	Destination  common.Address `json:"destination"`
	Side         uint32         `json:"side"`
	Price        *uint256.Int   `json:"price"`
	PaymentToken common.Address `json:"paymentToken"`
	RefBlock     uint64         `json:"refBlock"`
}

type SerializeResponse struct {
	Format  uint8         `json:"format"`
	Message hexutil.Bytes `json:"message"`
	Digest  common.Hash   `json:"digest"`
}

// ErrorResponse is returned for all errors. Code carries the transition
// error name when there is one.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"` // "tx" or "order"
	Channel string      `json:"channel"`
	Height  uint64      `json:"height"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["events", "orders:0x..."]
}

// OrderUpdate is pushed on orders:<asset> for every order event on that
// asset contract.
type OrderUpdate struct {
	Event      string            `json:"event"` // CreateOrder, CancelOrder, FulfillOrder
	TxHash     common.Hash       `json:"txHash"`
	Attributes map[string]string `json:"attributes"`
}

func orderUpdate(txHash common.Hash, ev abci.Event) OrderUpdate {
	attrs := make(map[string]string, len(ev.Attributes))
	for _, a := range ev.Attributes {
		attrs[a.Key] = a.Value
	}
	return OrderUpdate{Event: ev.Type, TxHash: txHash, Attributes: attrs}
}
