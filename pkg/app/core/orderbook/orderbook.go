package orderbook

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrNotFound is returned when no order is stored at a key.
var ErrNotFound = errors.New("NotFoundError")

// Side is encoded as a 4-byte big-endian integer in signed messages.
type Side uint32

const (
	Sell Side = 0 // maker offers the asset
	Buy  Side = 1 // maker offers payment
)

func (s Side) Valid() bool { return s == Sell || s == Buy }

func (s Side) String() string {
	switch s {
	case Sell:
		return "sell"
	case Buy:
		return "buy"
	default:
		return fmt.Sprintf("side(%d)", uint32(s))
	}
}

// ParseSide accepts "sell"/"buy" or "0"/"1".
func ParseSide(s string) (Side, error) {
	switch s {
	case "sell", "0":
		return Sell, nil
	case "buy", "1":
		return Buy, nil
	}
	return 0, fmt.Errorf("invalid side %q", s)
}

// Key identifies an order slot on one side of the book. Price is an exact
// match key, never a range. uint256.Int is an array type, so Key is
// comparable and used directly as a map key.
type Key struct {
	Asset        common.Address
	TokenID      uint256.Int
	PaymentToken common.Address
	Price        uint256.Int
}

func NewKey(asset common.Address, tokenID *uint256.Int, paymentToken common.Address, price *uint256.Int) Key {
	return Key{Asset: asset, TokenID: *tokenID, PaymentToken: paymentToken, Price: *price}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Asset.Hex(), k.TokenID.Dec(), k.PaymentToken.Hex(), k.Price.Dec())
}

// Record is what the book stores per key.
type Record struct {
	Maker      common.Address
	Expiration uint64
}

// Expired reports whether the order is void at block height current.
func (r Record) Expired(current uint64) bool { return current > r.Expiration }

// Order is a flattened (side, key, record) triple used for listing and
// persistence.
type Order struct {
	Side Side
	Key  Key
	Record
}

type slot struct {
	Asset   common.Address
	TokenID uint256.Int
}

type sideKey struct {
	Side Side
	Key  Key
}

// Book holds one record per (side, key). Inserting at an occupied key
// replaces the previous record.
type Book struct {
	mu    sync.RWMutex
	sides [2]map[Key]Record

	// (asset, tokenId) -> every key on either side, for listing a token
	slots map[slot]map[sideKey]struct{}
}

func New() *Book {
	return &Book{
		sides: [2]map[Key]Record{make(map[Key]Record), make(map[Key]Record)},
		slots: make(map[slot]map[sideKey]struct{}),
	}
}

// Insert stores rec at (side, key) and returns the record it displaced, if any.
// side must be valid.
func (b *Book) Insert(side Side, key Key, maker common.Address, expiration uint64) (prev Record, replaced bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.sides[side]
	prev, replaced = m[key]
	m[key] = Record{Maker: maker, Expiration: expiration}

	s := slot{Asset: key.Asset, TokenID: key.TokenID}
	if b.slots[s] == nil {
		b.slots[s] = make(map[sideKey]struct{})
	}
	b.slots[s][sideKey{Side: side, Key: key}] = struct{}{}
	return prev, replaced
}

// Remove deletes the order at (side, key) and returns it.
func (b *Book) Remove(side Side, key Key) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !side.Valid() {
		return Record{}, fmt.Errorf("%w: %s order %s", ErrNotFound, side, key)
	}
	m := b.sides[side]
	rec, ok := m[key]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s order %s", ErrNotFound, side, key)
	}
	delete(m, key)

	s := slot{Asset: key.Asset, TokenID: key.TokenID}
	delete(b.slots[s], sideKey{Side: side, Key: key})
	if len(b.slots[s]) == 0 {
		delete(b.slots, s)
	}
	return rec, nil
}

func (b *Book) Lookup(side Side, key Key) (Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !side.Valid() {
		return Record{}, fmt.Errorf("%w: %s order %s", ErrNotFound, side, key)
	}
	rec, ok := b.sides[side][key]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s order %s", ErrNotFound, side, key)
	}
	return rec, nil
}

// OrdersFor lists both sides of one token in key order.
func (b *Book) OrdersFor(asset common.Address, tokenID *uint256.Int) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := b.slots[slot{Asset: asset, TokenID: *tokenID}]
	out := make([]Order, 0, len(keys))
	for sk := range keys {
		out = append(out, Order{Side: sk.Side, Key: sk.Key, Record: b.sides[sk.Side][sk.Key]})
	}
	SortOrders(out)
	return out
}

// All returns every open order in key order.
func (b *Book) All() []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Order, 0, len(b.sides[Sell])+len(b.sides[Buy]))
	for side, m := range b.sides {
		for k, rec := range m {
			out = append(out, Order{Side: Side(side), Key: k, Record: rec})
		}
	}
	SortOrders(out)
	return out
}

func (b *Book) Len(side Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !side.Valid() {
		return 0
	}
	return len(b.sides[side])
}

// Reset replaces the contents of the book with orders.
func (b *Book) Reset(orders []Order) {
	fresh := New()
	for _, o := range orders {
		fresh.Insert(o.Side, o.Key, o.Maker, o.Expiration)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sides = fresh.sides
	b.slots = fresh.slots
}

// SortOrders orders by side, asset, token id, payment token, then price.
func SortOrders(orders []Order) {
	sort.Slice(orders, func(i, j int) bool { return Less(orders[i], orders[j]) })
}

func Less(a, b Order) bool {
	if a.Side != b.Side {
		return a.Side < b.Side
	}
	if c := bytes.Compare(a.Key.Asset[:], b.Key.Asset[:]); c != 0 {
		return c < 0
	}
	if c := a.Key.TokenID.Cmp(&b.Key.TokenID); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(a.Key.PaymentToken[:], b.Key.PaymentToken[:]); c != 0 {
		return c < 0
	}
	return a.Key.Price.Lt(&b.Key.Price)
}
