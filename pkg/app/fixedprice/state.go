package fixedprice

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/nftmarket/params"
	"github.com/uhyunpark/nftmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/pubkey"
)

// OrderState is the persisted form of one book entry.
type OrderState struct {
	Side         orderbook.Side `json:"side"`
	Asset        common.Address `json:"asset"`
	TokenID      *uint256.Int   `json:"tokenId"`
	PaymentToken common.Address `json:"paymentToken"`
	Price        *uint256.Int   `json:"price"`
	Maker        common.Address `json:"maker"`
	Expiration   uint64         `json:"expiration"`
}

type EscrowState struct {
	ID      common.Hash    `json:"id"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

type PubKeyState struct {
	Account common.Address `json:"account"`
	PubKey  hexutil.Bytes  `json:"pubkey"`
}

type AdminState struct {
	Owner               common.Address   `json:"owner"`
	PendingOwner        common.Address   `json:"pendingOwner"`
	ServiceFeeRecipient common.Address   `json:"serviceFeeRecipient"`
	ServiceFeeBps       uint64           `json:"serviceFeeBps"`
	AllowedTokens       []common.Address `json:"allowedTokens"`
	Paused              bool             `json:"paused"`
}

// State is a deterministic snapshot of everything the engine owns. Slices
// are sorted so equal engines export equal bytes.
type State struct {
	Orders  []OrderState  `json:"orders"`
	Escrow  []EscrowState `json:"escrow"`
	PubKeys []PubKeyState `json:"pubkeys"`
	Admin   AdminState    `json:"admin"`
}

func (e *Engine) Export() State {
	st := State{
		Orders:  []OrderState{},
		Escrow:  []EscrowState{},
		PubKeys: []PubKeyState{},
		Admin: AdminState{
			Owner:               e.admin.Owner,
			PendingOwner:        e.admin.PendingOwner,
			ServiceFeeRecipient: e.admin.ServiceFeeRecipient,
			ServiceFeeBps:       e.admin.ServiceFeeBps,
			AllowedTokens:       e.admin.allowed(),
			Paused:              e.admin.Paused,
		},
	}
	for _, o := range e.book.All() {
		tokenID, price := o.Key.TokenID, o.Key.Price
		st.Orders = append(st.Orders, OrderState{
			Side:         o.Side,
			Asset:        o.Key.Asset,
			TokenID:      &tokenID,
			PaymentToken: o.Key.PaymentToken,
			Price:        &price,
			Maker:        o.Record.Maker,
			Expiration:   o.Record.Expiration,
		})
	}
	for _, en := range e.escrow.Entries() {
		st.Escrow = append(st.Escrow, EscrowState{ID: en.ID, Account: en.Account, Amount: en.Amount})
	}
	for _, b := range e.verifier.Bindings() {
		st.PubKeys = append(st.PubKeys, PubKeyState{Account: b.Account, PubKey: b.PubKey})
	}
	return st
}

// Import replaces the engine's state with st. The engine is left unchanged
// when st is inconsistent.
func (e *Engine) Import(st State) error {
	if st.Admin.ServiceFeeBps > params.MaxBps || e.royaltyBps+st.Admin.ServiceFeeBps > params.MaxBps {
		return fmt.Errorf("%w: service fee %d", ErrInvalidFeeBps, st.Admin.ServiceFeeBps)
	}

	orders := make([]orderbook.Order, 0, len(st.Orders))
	for _, o := range st.Orders {
		if !o.Side.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidSide, o.Side)
		}
		orders = append(orders, orderbook.Order{
			Side:   o.Side,
			Key:    orderbook.NewKey(o.Asset, orZero(o.TokenID), o.PaymentToken, orZero(o.Price)),
			Record: orderbook.Record{Maker: o.Maker, Expiration: o.Expiration},
		})
	}
	entries := make([]escrow.Entry, 0, len(st.Escrow))
	for _, en := range st.Escrow {
		entries = append(entries, escrow.Entry{ID: en.ID, Account: en.Account, Amount: orZero(en.Amount)})
	}
	bindings := make([]pubkey.Binding, 0, len(st.PubKeys))
	for _, b := range st.PubKeys {
		bindings = append(bindings, pubkey.Binding{Account: b.Account, PubKey: b.PubKey})
	}

	ledger := escrow.New()
	if err := ledger.Reset(entries); err != nil {
		return fmt.Errorf("failed to import escrow: %w", err)
	}
	keys := pubkey.NewRegistry()
	if err := keys.Reset(bindings); err != nil {
		return fmt.Errorf("failed to import pubkeys: %w", err)
	}
	for _, o := range orders {
		if o.Side != orderbook.Buy || o.Key.PaymentToken != nativeCoin {
			continue
		}
		held, ok := ledger.Held(escrowID(o.Side, o.Key))
		if !ok || held.Account != o.Record.Maker || held.Amount.Lt(&o.Key.Price) {
			return fmt.Errorf("%w: order %s", ErrInsufficientEscrow, o.Key)
		}
	}

	e.book.Reset(orders)
	e.escrow = ledger
	e.verifier = keys
	e.admin = adminState{
		Owner:               st.Admin.Owner,
		PendingOwner:        st.Admin.PendingOwner,
		ServiceFeeRecipient: st.Admin.ServiceFeeRecipient,
		ServiceFeeBps:       st.Admin.ServiceFeeBps,
		AllowedTokens:       make(map[common.Address]struct{}, len(st.Admin.AllowedTokens)),
		Paused:              st.Admin.Paused,
	}
	for _, t := range st.Admin.AllowedTokens {
		e.admin.AllowedTokens[t] = struct{}{}
	}
	e.metrics.book(e)
	return nil
}

// StateHash commits to the exported state.
func (e *Engine) StateHash() (common.Hash, error) {
	b, err := json.Marshal(e.Export())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode state: %w", err)
	}
	return common.Hash(sha256.Sum256(b)), nil
}
