package fixedprice

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/nftmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

// TxGenConfig sizes the simulated market.
type TxGenConfig struct {
	NumAccounts      int
	TokensPerAccount int
	Asset            common.Address // collection minted at genesis
	Funding          *uint256.Int   // native coin per account
	Seed             int64
}

func DefaultTxGenConfig() TxGenConfig {
	return TxGenConfig{
		NumAccounts:      50,
		TokensPerAccount: 20,
		Asset:            common.HexToAddress("0x00000000000000000000000000000000000a55e7"),
		Funding:          uint256.NewInt(1_000_000_000_000),
		Seed:             1,
	}
}

// farExpiration keeps generated orders open for the life of a devnet.
const farExpiration = 1 << 40

type bidKey struct {
	token uint64
	price uint64
}

// TxGenerator produces signed envelopes that keep a devnet busy with
// listings, delistings, bids and sales. It tracks the state its own
// transactions produce and assumes every one of them succeeds.
type TxGenerator struct {
	cfg     TxGenConfig
	domain  *crypto.EIP712Signer
	signers []*crypto.Signer
	nonces  []uint64
	rng     *rand.Rand

	owner    map[uint64]int    // token id -> signer index
	approved map[uint64]bool   // marketplace is the spender
	listed   map[uint64]uint64 // token id -> ask
	bids     map[bidKey]int    // -> bidder index

	// touched by the batch being generated
	fresh     map[uint64]bool
	freshBids map[bidKey]bool

	counts map[transaction.TxType]int
}

func NewTxGenerator(cfg TxGenConfig, domain *crypto.EIP712Signer) (*TxGenerator, error) {
	if cfg.NumAccounts < 2 {
		return nil, fmt.Errorf("txgen needs at least 2 accounts, got %d", cfg.NumAccounts)
	}
	g := &TxGenerator{
		cfg:      cfg,
		domain:   domain,
		signers:  make([]*crypto.Signer, cfg.NumAccounts),
		nonces:   make([]uint64, cfg.NumAccounts),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		owner:    make(map[uint64]int),
		approved: make(map[uint64]bool),
		listed:   make(map[uint64]uint64),
		bids:     make(map[bidKey]int),
		counts:   make(map[transaction.TxType]int),
	}
	for i := range g.signers {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		g.signers[i] = s
	}
	for i := 0; i < cfg.NumAccounts; i++ {
		for j := 0; j < cfg.TokensPerAccount; j++ {
			g.owner[uint64(i*cfg.TokensPerAccount+j+1)] = i
		}
	}
	return g, nil
}

// Seed mints the collection, approves the marketplace on every token and
// funds every account.
func (g *TxGenerator) Seed(l *ledger.Ledger, marketplace common.Address) error {
	for _, id := range g.tokens() {
		s := g.signers[g.owner[id]]
		tid := uint256.NewInt(id)
		if err := l.Mint(g.cfg.Asset, tid, s.Address()); err != nil {
			return err
		}
		if err := l.SetSpender(s.Address(), g.cfg.Asset, tid, marketplace); err != nil {
			return err
		}
		g.approved[id] = true
	}
	for _, s := range g.signers {
		l.Fund(s.Address(), g.cfg.Funding)
	}
	l.Finalise()
	l.TakeEvents()
	return nil
}

func (g *TxGenerator) Signers() []*crypto.Signer { return g.signers }

// Stats counts generated envelopes by type.
func (g *TxGenerator) Stats() map[transaction.TxType]int {
	out := make(map[transaction.TxType]int, len(g.counts))
	for k, v := range g.counts {
		out[k] = v
	}
	return out
}

// op is one generated transition before it gets a nonce.
type op struct {
	signer int
	tx     *transaction.Tx
}

// GenerateBatch returns n signed envelopes. Cancels come first and only
// target orders that existed before the batch, matching the order in which
// the mempool drains a block, so every envelope in a batch that lands in one
// block succeeds.
func (g *TxGenerator) GenerateBatch(n int) ([][]byte, error) {
	g.fresh = make(map[uint64]bool)
	g.freshBids = make(map[bidKey]bool)

	var cancels, rest []op
	for i := 0; i < n; i++ {
		o := g.next()
		if o.tx.Type == transaction.TxCancelOrder {
			cancels = append(cancels, o)
		} else {
			rest = append(rest, o)
		}
	}

	out := make([][]byte, 0, n)
	for _, o := range append(cancels, rest...) {
		raw, err := g.sign(o.signer, o.tx)
		if err != nil {
			return out, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (g *TxGenerator) next() op {
	r := g.rng.Intn(100)
	switch {
	case r < 25:
		if o, ok := g.fill(); ok {
			return o
		}
	case r < 40:
		if o, ok := g.delist(); ok {
			return o
		}
	case r < 55:
		return g.bid()
	case r < 65:
		if o, ok := g.cancelBid(); ok {
			return o
		}
	}
	if o, ok := g.list(); ok {
		return o
	}
	return g.bid()
}

func (g *TxGenerator) list() (op, bool) {
	var free []uint64
	for _, id := range g.tokens() {
		if g.approved[id] && g.listed[id] == 0 {
			free = append(free, id)
		}
	}
	if len(free) == 0 {
		return op{}, false
	}
	id := free[g.rng.Intn(len(free))]
	price := g.price()
	g.listed[id] = price
	g.fresh[id] = true
	return op{g.owner[id], &transaction.Tx{
		Type:  transaction.TxCreateOrder,
		Order: g.order(orderbook.Sell, id, price),
	}}, true
}

func (g *TxGenerator) delist() (op, bool) {
	id, ok := g.pickListed(false)
	if !ok {
		return op{}, false
	}
	price := g.listed[id]
	delete(g.listed, id)
	return op{g.owner[id], &transaction.Tx{
		Type:  transaction.TxCancelOrder,
		Order: g.order(orderbook.Sell, id, price),
	}}, true
}

func (g *TxGenerator) fill() (op, bool) {
	id, ok := g.pickListed(true)
	if !ok {
		return op{}, false
	}
	seller := g.owner[id]
	buyer := g.other(seller)
	price := g.listed[id]

	delete(g.listed, id)
	g.owner[id] = buyer
	g.approved[id] = false
	g.fresh[id] = true
	return op{buyer, &transaction.Tx{
		Type:   transaction.TxFulfillOrder,
		Amount: uint256.NewInt(price),
		Fulfill: &transaction.FulfillPayload{
			OrderPayload: *g.order(orderbook.Sell, id, price),
			Destination:  g.signers[buyer].Address(),
		},
	}}, true
}

func (g *TxGenerator) bid() op {
	tokens := g.tokens()
	id := tokens[g.rng.Intn(len(tokens))]
	bidder := g.other(g.owner[id])
	price := g.price()

	// an existing bid at the same key is displaced and refunded
	k := bidKey{id, price}
	g.bids[k] = bidder
	g.freshBids[k] = true
	return op{bidder, &transaction.Tx{
		Type:   transaction.TxCreateOrder,
		Amount: uint256.NewInt(price),
		Order:  g.order(orderbook.Buy, id, price),
	}}
}

func (g *TxGenerator) cancelBid() (op, bool) {
	keys := make([]bidKey, 0, len(g.bids))
	for k := range g.bids {
		if !g.freshBids[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return op{}, false
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].token != keys[j].token {
			return keys[i].token < keys[j].token
		}
		return keys[i].price < keys[j].price
	})
	k := keys[g.rng.Intn(len(keys))]
	bidder := g.bids[k]
	delete(g.bids, k)
	return op{bidder, &transaction.Tx{
		Type:  transaction.TxCancelOrder,
		Order: g.order(orderbook.Buy, k.token, k.price),
	}}, true
}

func (g *TxGenerator) sign(idx int, tx *transaction.Tx) ([]byte, error) {
	g.nonces[idx]++
	tx.Nonce = g.nonces[idx]
	if err := tx.Sign(g.signers[idx], g.domain); err != nil {
		return nil, err
	}
	raw, err := tx.Serialize()
	if err != nil {
		return nil, err
	}
	g.counts[tx.Type]++
	return raw, nil
}

func (g *TxGenerator) order(side orderbook.Side, id, price uint64) *transaction.OrderPayload {
	return &transaction.OrderPayload{
		Side:       uint32(side),
		Asset:      g.cfg.Asset,
		TokenID:    uint256.NewInt(id),
		Price:      uint256.NewInt(price),
		Expiration: farExpiration,
	}
}

func (g *TxGenerator) price() uint64 { return uint64(100 + g.rng.Intn(9901)) }

func (g *TxGenerator) other(i int) int {
	j := g.rng.Intn(len(g.signers) - 1)
	if j >= i {
		j++
	}
	return j
}

// pickListed picks a listed token; withFresh includes tokens listed in the
// current batch.
func (g *TxGenerator) pickListed(withFresh bool) (uint64, bool) {
	var ids []uint64
	for _, id := range g.tokens() {
		if g.listed[id] != 0 && (withFresh || !g.fresh[id]) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, false
	}
	return ids[g.rng.Intn(len(ids))], true
}

func (g *TxGenerator) tokens() []uint64 {
	ids := make([]uint64, 0, len(g.owner))
	for id := range g.owner {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
