// Package escrow records native coin the marketplace holds on behalf of open
// buy orders. It is bookkeeping only: the coin itself has already moved to
// the marketplace account when Hold is called, and Release hands back an
// instruction the caller executes.
package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientEscrow = errors.New("InsufficientEscrowError")
	ErrAlreadyHeld        = errors.New("escrow already held for order")
)

// Entry is the liability attached to one order.
type Entry struct {
	ID      common.Hash
	Account common.Address
	Amount  *uint256.Int
}

// Transfer is a payout instruction produced by Release.
type Transfer struct {
	To     common.Address
	Amount *uint256.Int
}

type Ledger struct {
	mu        sync.RWMutex
	entries   map[common.Hash]Entry
	liability map[common.Address]*uint256.Int
	total     *uint256.Int
}

func New() *Ledger {
	return &Ledger{
		entries:   make(map[common.Hash]Entry),
		liability: make(map[common.Address]*uint256.Int),
		total:     new(uint256.Int),
	}
}

// Hold records amount owed to account for order id.
func (l *Ledger) Hold(id common.Hash, account common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyHeld, id.Hex())
	}
	total, overflow := new(uint256.Int).AddOverflow(l.total, amount)
	if overflow {
		return fmt.Errorf("escrow total overflows 256 bits")
	}

	l.entries[id] = Entry{ID: id, Account: account, Amount: amount.Clone()}
	l.total = total
	acc := l.liability[account]
	if acc == nil {
		acc = new(uint256.Int)
		l.liability[account] = acc
	}
	acc.Add(acc, amount)
	return nil
}

// Release decreases the liability of order id by amount and returns the
// payout owed to its account. Asking for more than is held, or for an
// order held for another account, fails with ErrInsufficientEscrow.
func (l *Ledger) Release(id common.Hash, account common.Address, amount *uint256.Int) (Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok || e.Account != account || e.Amount.Lt(amount) {
		held := new(uint256.Int)
		if ok && e.Account == account {
			held = e.Amount
		}
		return Transfer{}, fmt.Errorf("%w: release %s for %s, held %s",
			ErrInsufficientEscrow, amount.Dec(), account.Hex(), held.Dec())
	}

	rest := new(uint256.Int).Sub(e.Amount, amount)
	if rest.IsZero() {
		delete(l.entries, id)
	} else {
		e.Amount = rest
		l.entries[id] = e
	}
	l.total = new(uint256.Int).Sub(l.total, amount)
	acc := l.liability[account]
	acc.Sub(acc, amount)
	if acc.IsZero() {
		delete(l.liability, account)
	}
	return Transfer{To: account, Amount: amount.Clone()}, nil
}

// Held returns the entry for order id.
func (l *Ledger) Held(id common.Hash) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if ok {
		e.Amount = e.Amount.Clone()
	}
	return e, ok
}

// Liability is the sum of all open holds for account.
func (l *Ledger) Liability(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v := l.liability[account]; v != nil {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (l *Ledger) Total() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total.Clone()
}

// Entries returns all holds sorted by id.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		e.Amount = e.Amount.Clone()
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out
}

// Reset rebuilds the ledger from entries.
func (l *Ledger) Reset(entries []Entry) error {
	fresh := New()
	for _, e := range entries {
		if err := fresh.Hold(e.ID, e.Account, e.Amount); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries, l.liability, l.total = fresh.entries, fresh.liability, fresh.total
	return nil
}
