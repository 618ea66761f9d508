package ledger

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Balance struct {
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

type AssetEntry struct {
	Asset   common.Address `json:"asset"`
	TokenID *uint256.Int   `json:"tokenId"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
}

type TokenBalance struct {
	Token  common.Address `json:"token"`
	Owner  common.Address `json:"owner"`
	Amount *uint256.Int   `json:"amount"`
}

type Allowance struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

type Royalty struct {
	Asset     common.Address `json:"asset"`
	Recipient common.Address `json:"recipient"`
	Bps       uint64         `json:"bps"`
}

type Nonce struct {
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
}

// State is a sorted, self-contained copy of the ledger.
type State struct {
	Balances      []Balance      `json:"balances"`
	Assets        []AssetEntry   `json:"assets"`
	TokenBalances []TokenBalance `json:"tokenBalances"`
	Allowances    []Allowance    `json:"allowances"`
	Royalties     []Royalty      `json:"royalties"`
	Nonces        []Nonce        `json:"nonces"`
}

func less(a, b common.Address) bool { return bytes.Compare(a[:], b[:]) < 0 }

// Export copies the ledger into a State with deterministic ordering.
func (l *Ledger) Export() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var st State
	for a, v := range l.native {
		st.Balances = append(st.Balances, Balance{Account: a, Amount: v.Clone()})
	}
	sort.Slice(st.Balances, func(i, j int) bool { return less(st.Balances[i].Account, st.Balances[j].Account) })

	for k, t := range l.nfts {
		id := k.TokenID
		st.Assets = append(st.Assets, AssetEntry{Asset: k.Asset, TokenID: &id, Owner: t.Owner, Spender: t.Spender})
	}
	sort.Slice(st.Assets, func(i, j int) bool {
		a, b := st.Assets[i], st.Assets[j]
		if a.Asset != b.Asset {
			return less(a.Asset, b.Asset)
		}
		return a.TokenID.Lt(b.TokenID)
	})

	for h, v := range l.balances {
		st.TokenBalances = append(st.TokenBalances, TokenBalance{Token: h.Token, Owner: h.Owner, Amount: v.Clone()})
	}
	sort.Slice(st.TokenBalances, func(i, j int) bool {
		a, b := st.TokenBalances[i], st.TokenBalances[j]
		if a.Token != b.Token {
			return less(a.Token, b.Token)
		}
		return less(a.Owner, b.Owner)
	})

	for k, v := range l.allowances {
		st.Allowances = append(st.Allowances, Allowance{Token: k.Token, Owner: k.Owner, Spender: k.Spender, Amount: v.Clone()})
	}
	sort.Slice(st.Allowances, func(i, j int) bool {
		a, b := st.Allowances[i], st.Allowances[j]
		if a.Token != b.Token {
			return less(a.Token, b.Token)
		}
		if a.Owner != b.Owner {
			return less(a.Owner, b.Owner)
		}
		return less(a.Spender, b.Spender)
	})

	for a, r := range l.royalties {
		st.Royalties = append(st.Royalties, Royalty{Asset: a, Recipient: r.Recipient, Bps: r.Bps})
	}
	sort.Slice(st.Royalties, func(i, j int) bool { return less(st.Royalties[i].Asset, st.Royalties[j].Asset) })

	for a, n := range l.nonces {
		st.Nonces = append(st.Nonces, Nonce{Account: a, Nonce: n})
	}
	sort.Slice(st.Nonces, func(i, j int) bool { return less(st.Nonces[i].Account, st.Nonces[j].Account) })

	return st
}

// Import replaces the ledger contents with st and clears the journal.
func (l *Ledger) Import(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset()
	for _, b := range st.Balances {
		l.native[b.Account] = b.Amount.Clone()
	}
	for _, a := range st.Assets {
		l.nfts[nftKey{Asset: a.Asset, TokenID: *a.TokenID}] = nft{Owner: a.Owner, Spender: a.Spender}
	}
	for _, b := range st.TokenBalances {
		l.balances[holding{Token: b.Token, Owner: b.Owner}] = b.Amount.Clone()
	}
	for _, a := range st.Allowances {
		l.allowances[approval{Token: a.Token, Owner: a.Owner, Spender: a.Spender}] = a.Amount.Clone()
	}
	for _, r := range st.Royalties {
		l.royalties[r.Asset] = royalty{Recipient: r.Recipient, Bps: r.Bps}
	}
	for _, n := range st.Nonces {
		l.nonces[n.Account] = n.Nonce
	}
}
