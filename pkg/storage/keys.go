package storage

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/orderedcode"

	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/chain"
)

// Key schema. Every key starts with an orderedcode-encoded prefix string so
// prefixes never collide and prefix scans stay inside one family:
//
//	"b"  <hash>                                   → Block (gob)
//	"h"  <height>                                 → block hash
//	"cm"                                          → committed block hash
//	"r"  <tx hash>                                → TxResult (JSON)
//	"ms"                                          → MarketState without orders (JSON)
//	"o"  <asset> <tokenId> <side> <token> <price> → OrderState (JSON)
const (
	prefixBlock     = "b"
	prefixHeight    = "h"
	prefixCommitted = "cm"
	prefixResult    = "r"
	prefixMarket    = "ms"
	prefixOrder     = "o"
)

func mustKey(items ...interface{}) []byte {
	k, err := orderedcode.Append(nil, items...)
	if err != nil {
		// only strings and uint64s are encoded here
		panic(err)
	}
	return k
}

func kBlock(h chain.Hash) []byte          { return mustKey(prefixBlock, string(h[:])) }
func kHeight(h chain.Height) []byte       { return mustKey(prefixHeight, uint64(h)) }
func kCommitted() []byte                  { return mustKey(prefixCommitted) }
func kResult(h common.Hash) []byte        { return mustKey(prefixResult, string(h[:])) }
func kMarket() []byte                     { return mustKey(prefixMarket) }
func orderFamily() []byte                 { return mustKey(prefixOrder) }
func assetPrefix(a common.Address) []byte { return mustKey(prefixOrder, string(a[:])) }

func orderKey(side orderbook.Side, k orderbook.Key) []byte {
	id := k.TokenID.Bytes32()
	price := k.Price.Bytes32()
	return mustKey(prefixOrder, string(k.Asset[:]), string(id[:]), uint64(side), string(k.PaymentToken[:]), string(price[:]))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := append([]byte(nil), prefix...)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff: scan to the end
}
