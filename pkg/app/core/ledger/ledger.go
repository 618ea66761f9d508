// Package ledger is an in-memory host for the marketplace: native coin
// balances, an NFT registry with owner/spender, a fungible token registry
// with allowances, and per-asset royalty settings. Every mutation is
// journaled so a failed transition can be rolled back with RevertToSnapshot.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/nftmarket/pkg/abci"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTokenNotFound         = errors.New("token does not exist")
	ErrTokenExists           = errors.New("token already minted")
	ErrNotOwnerOrOperator    = errors.New("caller is neither owner nor spender")
	ErrNotOwner              = errors.New("from is not the token owner")
)

type nftKey struct {
	Asset   common.Address
	TokenID uint256.Int
}

type nft struct {
	Owner   common.Address
	Spender common.Address
}

type holding struct {
	Token common.Address
	Owner common.Address
}

type approval struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
}

type royalty struct {
	Recipient common.Address
	Bps       uint64
}

type Ledger struct {
	mu sync.RWMutex

	native     map[common.Address]*uint256.Int
	nfts       map[nftKey]nft
	balances   map[holding]*uint256.Int
	allowances map[approval]*uint256.Int
	royalties  map[common.Address]royalty
	nonces     map[common.Address]uint64

	events []abci.Event

	journal   []func()
	revisions []int
}

func New() *Ledger {
	l := &Ledger{}
	l.reset()
	return l
}

func (l *Ledger) reset() {
	l.native = make(map[common.Address]*uint256.Int)
	l.nfts = make(map[nftKey]nft)
	l.balances = make(map[holding]*uint256.Int)
	l.allowances = make(map[approval]*uint256.Int)
	l.royalties = make(map[common.Address]royalty)
	l.nonces = make(map[common.Address]uint64)
	l.events = nil
	l.journal = nil
	l.revisions = nil
}

// ============================================================================
// Journal
// ============================================================================

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revisions = append(l.revisions, len(l.journal))
	return len(l.revisions) - 1
}

// RevertToSnapshot undoes every change made since Snapshot returned id.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.revisions) {
		panic(fmt.Errorf("revision id %d cannot be reverted", id))
	}
	mark := l.revisions[id]
	for i := len(l.journal) - 1; i >= mark; i-- {
		l.journal[i]()
	}
	l.journal = l.journal[:mark]
	l.revisions = l.revisions[:id]
}

// Finalise drops the journal. Called once a transaction has been applied.
func (l *Ledger) Finalise() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = nil
	l.revisions = nil
}

func setJournaled[K comparable, V any](l *Ledger, m map[K]V, k K, v V, remove bool) {
	prev, had := m[k]
	l.journal = append(l.journal, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	if remove {
		delete(m, k)
	} else {
		m[k] = v
	}
}

// putAmount stores v, dropping the entry when it reaches zero.
func putAmount[K comparable](l *Ledger, m map[K]*uint256.Int, k K, v *uint256.Int) {
	setJournaled(l, m, k, v, v.IsZero())
}

func (l *Ledger) emit(ev abci.Event) {
	n := len(l.events)
	l.journal = append(l.journal, func() {
		if n <= len(l.events) {
			l.events = l.events[:n]
		}
	})
	l.events = append(l.events, ev)
}

// TakeEvents returns and clears the events emitted since the last call.
func (l *Ledger) TakeEvents() []abci.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.events
	l.events = nil
	return out
}

// ============================================================================
// Native coin
// ============================================================================

func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return amountOf(l.native[account])
}

func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := amountOf(l.native[from])
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bal.Dec(), amount.Dec())
	}
	putAmount(l, l.native, from, new(uint256.Int).Sub(bal, amount))
	putAmount(l, l.native, to, new(uint256.Int).Add(amountOf(l.native[to]), amount))
	l.emit(abci.NewEvent("AddFunds",
		"sender", from.Hex(), "recipient", to.Hex(), "amount", amount.Dec()))
	return nil
}

// Fund credits native coin out of thin air. Genesis and tests only.
func (l *Ledger) Fund(account common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	putAmount(l, l.native, account, new(uint256.Int).Add(amountOf(l.native[account]), amount))
}

// ============================================================================
// Asset registry
// ============================================================================

func (l *Ledger) Mint(asset common.Address, tokenID *uint256.Int, owner common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := nftKey{Asset: asset, TokenID: *tokenID}
	if _, ok := l.nfts[k]; ok {
		return fmt.Errorf("%w: %s #%s", ErrTokenExists, asset.Hex(), tokenID.Dec())
	}
	setJournaled(l, l.nfts, k, nft{Owner: owner}, false)
	l.emit(abci.NewEvent("Mint", "asset", asset.Hex(), "to", owner.Hex(), "token_id", tokenID.Dec()))
	return nil
}

func (l *Ledger) OwnerOf(asset common.Address, tokenID *uint256.Int) (common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.nfts[nftKey{Asset: asset, TokenID: *tokenID}]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s #%s", ErrTokenNotFound, asset.Hex(), tokenID.Dec())
	}
	return t.Owner, nil
}

// SpenderOf returns the approved spender, or the zero address.
func (l *Ledger) SpenderOf(asset common.Address, tokenID *uint256.Int) (common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.nfts[nftKey{Asset: asset, TokenID: *tokenID}]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s #%s", ErrTokenNotFound, asset.Hex(), tokenID.Dec())
	}
	return t.Spender, nil
}

// SetSpender approves spender to move the token. Only the owner may call it.
func (l *Ledger) SetSpender(caller, asset common.Address, tokenID *uint256.Int, spender common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := nftKey{Asset: asset, TokenID: *tokenID}
	t, ok := l.nfts[k]
	if !ok {
		return fmt.Errorf("%w: %s #%s", ErrTokenNotFound, asset.Hex(), tokenID.Dec())
	}
	if t.Owner != caller {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	t.Spender = spender
	setJournaled(l, l.nfts, k, t, false)
	l.emit(abci.NewEvent("SetSpender", "asset", asset.Hex(), "token_id", tokenID.Dec(), "spender", spender.Hex()))
	return nil
}

// TransferAsset moves the token from -> to on behalf of operator, which must
// be the owner or the approved spender. The approval is cleared.
func (l *Ledger) TransferAsset(operator, asset, from, to common.Address, tokenID *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := nftKey{Asset: asset, TokenID: *tokenID}
	t, ok := l.nfts[k]
	if !ok {
		return fmt.Errorf("%w: %s #%s", ErrTokenNotFound, asset.Hex(), tokenID.Dec())
	}
	if t.Owner != from {
		return fmt.Errorf("%w: %s owns #%s, not %s", ErrNotOwner, t.Owner.Hex(), tokenID.Dec(), from.Hex())
	}
	if operator != t.Owner && operator != t.Spender {
		return fmt.Errorf("%w: %s", ErrNotOwnerOrOperator, operator.Hex())
	}
	setJournaled(l, l.nfts, k, nft{Owner: to}, false)
	l.emit(abci.NewEvent("TransferFrom",
		"asset", asset.Hex(), "from", from.Hex(), "to", to.Hex(), "token_id", tokenID.Dec()))
	return nil
}

// SetRoyalty overrides the marketplace royalty for one asset contract.
func (l *Ledger) SetRoyalty(asset, recipient common.Address, bps uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	setJournaled(l, l.royalties, asset, royalty{Recipient: recipient, Bps: bps}, false)
}

func (l *Ledger) RoyaltyInfo(asset common.Address) (common.Address, uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.royalties[asset]
	return r.Recipient, r.Bps, ok
}

// ============================================================================
// Payment token registry
// ============================================================================

func (l *Ledger) TokenBalance(token, owner common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return amountOf(l.balances[holding{Token: token, Owner: owner}])
}

func (l *Ledger) Allowance(token, owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return amountOf(l.allowances[approval{Token: token, Owner: owner, Spender: spender}])
}

func (l *Ledger) MintToken(token, to common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := holding{Token: token, Owner: to}
	putAmount(l, l.balances, h, new(uint256.Int).Add(amountOf(l.balances[h]), amount))
}

func (l *Ledger) IncreaseAllowance(token, owner, spender common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := approval{Token: token, Owner: owner, Spender: spender}
	putAmount(l, l.allowances, a, new(uint256.Int).Add(amountOf(l.allowances[a]), amount))
	l.emit(abci.NewEvent("IncreasedAllowance",
		"token", token.Hex(), "owner", owner.Hex(), "spender", spender.Hex(), "amount", amount.Dec()))
}

// TransferFrom moves amount of token from owner to recipient using the
// allowance owner granted spender.
func (l *Ledger) TransferFrom(token, spender, owner, recipient common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := approval{Token: token, Owner: owner, Spender: spender}
	allowed := amountOf(l.allowances[a])
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: %s allows %s, needs %s", ErrInsufficientAllowance, owner.Hex(), allowed.Dec(), amount.Dec())
	}
	from := holding{Token: token, Owner: owner}
	bal := amountOf(l.balances[from])
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, owner.Hex(), bal.Dec(), amount.Dec())
	}

	to := holding{Token: token, Owner: recipient}
	putAmount(l, l.allowances, a, new(uint256.Int).Sub(allowed, amount))
	putAmount(l, l.balances, from, new(uint256.Int).Sub(bal, amount))
	putAmount(l, l.balances, to, new(uint256.Int).Add(amountOf(l.balances[to]), amount))
	l.emit(abci.NewEvent("TransferFromSuccess",
		"token", token.Hex(), "initiator", spender.Hex(), "sender", owner.Hex(),
		"recipient", recipient.Hex(), "amount", amount.Dec()))
	return nil
}

// ============================================================================
// Nonces
// ============================================================================

func (l *Ledger) Nonce(account common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonces[account]
}

func (l *Ledger) SetNonce(account common.Address, nonce uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	setJournaled(l, l.nonces, account, nonce, false)
}

func amountOf(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
