package mempool

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
)

// TxClass selects the queue a transaction waits in.
type TxClass int

const (
	// admin and pubkey transitions
	TxNonOrder TxClass = iota
	TxCancel
	// create_order and fulfill_order
	TxOrder
)

// ClassifyRaw classifies a raw transaction by peeking at its JSON type.
// Anything unparseable lands in the order queue; the application rejects it
// when the block is finalized.
func ClassifyRaw(b []byte) TxClass {
	class, _ := peek(b)
	return class
}

// entry is a queued tx with the sender and nonce read at push time.
type entry struct {
	raw    []byte
	sender common.Address
	nonce  uint64
	known  bool // sender and nonce were readable
}

func peek(b []byte) (TxClass, entry) {
	e := entry{raw: b}
	if len(b) == 0 || b[0] != '{' {
		return TxOrder, e
	}

	var txEnvelope struct {
		Type   transaction.TxType `json:"type"`
		Sender *common.Address    `json:"sender"`
		Nonce  uint64             `json:"nonce"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return TxOrder, e
	}
	if txEnvelope.Sender != nil {
		e.sender, e.nonce, e.known = *txEnvelope.Sender, txEnvelope.Nonce, true
	}

	switch txEnvelope.Type {
	case transaction.TxCancelOrder:
		return TxCancel, e
	case transaction.TxCreateOrder, transaction.TxFulfillOrder:
		return TxOrder, e
	case transaction.TxRegisterPubKey, transaction.TxClearPubKey:
		return TxNonOrder, e
	default:
		if txEnvelope.Type.IsAdmin() {
			return TxNonOrder, e
		}
		return TxOrder, e
	}
}

// Mempool keeps three FIFO queues drained in a fixed order:
// (1) admin and key registration, (2) cancels, (3) creates and fulfills.
// Cancels run before fills so a maker can always pull an order that a
// fulfillment in the same block would otherwise settle.
//
// The queue order only ranks senders against each other. One sender's txs
// always come out in nonce order, because the application burns nonces
// strictly increasing.
type Mempool struct {
	mu       sync.Mutex
	nonOrder []entry
	cancel   []entry
	orders   []entry
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) {
	class, e := peek(append([]byte(nil), b...))
	m.mu.Lock()
	defer m.mu.Unlock()
	switch class {
	case TxNonOrder:
		m.nonOrder = append(m.nonOrder, e)
	case TxCancel:
		m.cancel = append(m.cancel, e)
	default:
		m.orders = append(m.orders, e)
	}
}

// SelectForProposal returns up to maxBytes worth of txs in queue order,
// removing them from the mempool. maxBytes <= 0 means no limit.
//
// Within the selection each sender's txs are reassigned to that sender's
// slots in nonce order. A selected tx whose sender still has a lower nonce
// waiting in the mempool stays queued for a later block.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var picked []entry
	var used int64
	full := false

	pull := func(q *[]entry) {
		for len(*q) > 0 && !full {
			e := (*q)[0]
			n := int64(len(e.raw))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			picked = append(picked, e)
			used += n
			*q = (*q)[1:]
		}
	}

	nonOrder, cancel := len(m.nonOrder), len(m.cancel)
	pull(&m.nonOrder)
	nonOrder -= len(m.nonOrder)
	pull(&m.cancel)
	cancel -= len(m.cancel)
	pull(&m.orders)

	// lowest nonce each sender still has queued
	waiting := make(map[common.Address]uint64)
	for _, q := range [][]entry{m.nonOrder, m.cancel, m.orders} {
		for _, e := range q {
			if lo, ok := waiting[e.sender]; e.known && (!ok || e.nonce < lo) {
				waiting[e.sender] = e.nonce
			}
		}
	}

	var deferred [3][]entry
	kept := picked[:0]
	for i, e := range picked {
		if lo, ok := waiting[e.sender]; e.known && ok && e.nonce > lo {
			class := TxOrder
			if i < nonOrder {
				class = TxNonOrder
			} else if i < nonOrder+cancel {
				class = TxCancel
			}
			deferred[class] = append(deferred[class], e)
			continue
		}
		kept = append(kept, e)
	}
	m.nonOrder = append(deferred[TxNonOrder], m.nonOrder...)
	m.cancel = append(deferred[TxCancel], m.cancel...)
	m.orders = append(deferred[TxOrder], m.orders...)

	return orderBySender(kept)
}

// orderBySender keeps the slot layout of txs but fills each sender's slots
// with that sender's txs sorted by nonce.
func orderBySender(txs []entry) [][]byte {
	slots := make(map[common.Address][]int)
	for i, e := range txs {
		if e.known {
			slots[e.sender] = append(slots[e.sender], i)
		}
	}

	out := make([][]byte, len(txs))
	for i, e := range txs {
		out[i] = e.raw
	}
	for _, idx := range slots {
		if len(idx) < 2 {
			continue
		}
		own := make([]entry, len(idx))
		for j, i := range idx {
			own[j] = txs[i]
		}
		sort.SliceStable(own, func(a, b int) bool { return own[a].nonce < own[b].nonce })
		for j, i := range idx {
			out[i] = own[j].raw
		}
	}
	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nonOrder) + len(m.cancel) + len(m.orders)
}
