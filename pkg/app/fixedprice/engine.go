// Package fixedprice settles fixed-price NFT orders. The Engine owns the
// order book, the escrow ledger and the verifier key registry, and drives the
// external registries through a Host. Every transition validates completely
// before it touches anything, then runs its transfers inside a host snapshot
// so that either all legs happen or none do.
package fixedprice

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftmarket/params"
	"github.com/uhyunpark/nftmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/pubkey"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

const maxPriceBits = 128

var nativeCoin = common.Address{}

// Engine is not safe for concurrent use; App serializes access.
type Engine struct {
	marketplace     common.Address
	royaltyBps      uint64
	signatureWindow uint64
	admin           adminState

	host     Host
	royalty  RoyaltyRegistry
	book     *orderbook.Book
	escrow   *escrow.Ledger
	verifier *pubkey.Registry

	metrics *Metrics
	logger  *zap.SugaredLogger
}

// NewEngine builds an engine from cfg. A fee split that can exceed the price
// is rejected here and never reaches a transition.
func NewEngine(cfg params.Marketplace, host Host, logger *zap.SugaredLogger, metrics *Metrics) (*Engine, error) {
	if cfg.RoyaltyBps+cfg.ServiceFeeBps > params.MaxBps {
		return nil, fmt.Errorf("%w: royalty %d + service fee %d exceeds %d",
			ErrInvalidFeeBps, cfg.RoyaltyBps, cfg.ServiceFeeBps, params.MaxBps)
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("marketplace address must not be zero")
	}
	if host == nil {
		return nil, fmt.Errorf("host is required")
	}

	e := &Engine{
		marketplace:     cfg.Address,
		royaltyBps:      cfg.RoyaltyBps,
		signatureWindow: cfg.SignatureWindow,
		admin:           newAdminState(cfg),
		host:            host,
		book:            orderbook.New(),
		escrow:          escrow.New(),
		verifier:        pubkey.NewRegistry(),
		metrics:         metrics,
		logger:          util.OrNop(logger),
	}
	if r, ok := host.(RoyaltyRegistry); ok {
		e.royalty = r
	}
	return e, nil
}

// Marketplace is the account that holds escrow and acts as spender.
func (e *Engine) Marketplace() common.Address { return e.marketplace }

// atomically runs fn inside a host snapshot and reverts the host if fn fails.
func (e *Engine) atomically(fn func() error) error {
	snap := e.host.Snapshot()
	if err := fn(); err != nil {
		e.host.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// escrowID names the escrow record of a native buy order.
func escrowID(side orderbook.Side, key orderbook.Key) common.Hash {
	buf := make([]byte, 0, 4+20+32+20+32)
	buf = append(buf, byte(side>>24), byte(side>>16), byte(side>>8), byte(side))
	buf = append(buf, key.Asset[:]...)
	id := key.TokenID.Bytes32()
	buf = append(buf, id[:]...)
	buf = append(buf, key.PaymentToken[:]...)
	price := key.Price.Bytes32()
	buf = append(buf, price[:]...)
	return common.BytesToHash(crypto.Keccak256(buf))
}

func validPrice(price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return ErrZeroPrice
	}
	if price.BitLen() > maxPriceBits {
		return fmt.Errorf("%w: %d bits", ErrPriceOverflow, price.BitLen())
	}
	return nil
}

func (e *Engine) reject(kind string, call Call, err error) error {
	e.metrics.transition(kind, err)
	e.logger.Debugw("transition_rejected",
		"type", kind,
		"sender", call.Sender.Hex(),
		"height", call.BlockNumber,
		"code", ErrorCode(err),
		"err", err,
	)
	return err
}

// nativeTransfer moves native coin and records the instruction.
func (e *Engine) nativeTransfer(r *Receipt, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := e.host.Transfer(from, to, amount); err != nil {
		return fmt.Errorf("%w: native %s -> %s: %v", ErrTransferFailed, from.Hex(), to.Hex(), err)
	}
	r.transfer(Transfer{Kind: TransferNative, From: from, To: to, Amount: amount.Clone()})
	return nil
}

// tokenTransfer pulls amount of token from owner's allowance to recipient.
func (e *Engine) tokenTransfer(r *Receipt, token, owner, recipient common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := e.host.TransferFrom(token, e.marketplace, owner, recipient, amount); err != nil {
		return fmt.Errorf("%w: token %s %s -> %s: %v", ErrTransferFailed, token.Hex(), owner.Hex(), recipient.Hex(), err)
	}
	r.transfer(Transfer{Kind: TransferToken, Contract: token, From: owner, To: recipient, Amount: amount.Clone()})
	return nil
}

// ============================================================================
// CreateOrder
// ============================================================================

// CreateOrder places a standing order. A native buy order must attach
// exactly its price, which the marketplace escrows; every other order must
// attach nothing. Creating at an occupied key replaces the stored order and
// refunds a displaced native buy order's escrow to its maker.
func (e *Engine) CreateOrder(call Call, req CreateOrderRequest) (*Receipt, error) {
	const kind = "create_order"
	attached := call.attached()
	tokenID := orZero(req.TokenID)

	if e.admin.Paused {
		return nil, e.reject(kind, call, ErrPaused)
	}
	if !req.Side.Valid() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: %d", ErrInvalidSide, req.Side))
	}
	if err := validPrice(req.Price); err != nil {
		return nil, e.reject(kind, call, err)
	}
	if req.Expiration <= call.BlockNumber {
		return nil, e.reject(kind, call, fmt.Errorf("%w: expiration %d is not after block %d",
			ErrInvalidExpiration, req.Expiration, call.BlockNumber))
	}
	if !e.admin.paymentAllowed(req.PaymentToken) {
		return nil, e.reject(kind, call, fmt.Errorf("%w: %s", ErrNotAllowedPaymentToken, req.PaymentToken.Hex()))
	}

	escrowed := req.Side == orderbook.Buy && req.PaymentToken == nativeCoin
	if escrowed {
		if !attached.Eq(req.Price) {
			return nil, e.reject(kind, call, fmt.Errorf("%w: attached %s, price %s",
				ErrNotEqualAmount, attached.Dec(), req.Price.Dec()))
		}
	} else if !attached.IsZero() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: attached %s to an order that escrows nothing",
			ErrNotEqualAmount, attached.Dec()))
	}

	if req.Side == orderbook.Sell {
		owner, err := e.host.OwnerOf(req.Asset, tokenID)
		if err != nil || owner != call.Sender {
			return nil, e.reject(kind, call, fmt.Errorf("%w: %s does not own %s #%s",
				ErrNotTokenOwner, call.Sender.Hex(), req.Asset.Hex(), tokenID.Dec()))
		}
	}

	key := orderbook.NewKey(req.Asset, tokenID, req.PaymentToken, req.Price)
	id := escrowID(req.Side, key)
	displaced, derr := e.book.Lookup(req.Side, key)
	refund := escrowed && derr == nil
	if refund {
		held, ok := e.escrow.Held(id)
		if !ok || held.Account != displaced.Maker || !held.Amount.Eq(req.Price) {
			return nil, e.reject(kind, call, fmt.Errorf("%w: displaced order %s has no matching escrow",
				ErrInsufficientEscrow, key))
		}
	}

	receipt := &Receipt{}
	err := e.atomically(func() error {
		if !escrowed {
			return nil
		}
		if err := e.nativeTransfer(receipt, call.Sender, e.marketplace, attached); err != nil {
			return err
		}
		if refund {
			if err := e.nativeTransfer(receipt, e.marketplace, displaced.Maker, req.Price); err != nil {
				return err
			}
			if _, err := e.escrow.Release(id, displaced.Maker, req.Price); err != nil {
				return err
			}
		}
		return e.escrow.Hold(id, call.Sender, req.Price)
	})
	if err != nil {
		return nil, e.reject(kind, call, err)
	}

	e.book.Insert(req.Side, key, call.Sender, req.Expiration)

	receipt.emit(CreateOrderEvent{
		Maker:        call.Sender,
		Side:         req.Side,
		Asset:        req.Asset,
		TokenID:      tokenID.Clone(),
		PaymentToken: req.PaymentToken,
		Price:        req.Price.Clone(),
		Expiration:   req.Expiration,
	})
	e.metrics.transition(kind, nil)
	e.metrics.book(e)
	e.logger.Infow("order_created",
		"maker", call.Sender.Hex(),
		"side", req.Side.String(),
		"order", key.String(),
		"expiration", req.Expiration,
		"replaced", derr == nil,
	)
	return receipt, nil
}

// ============================================================================
// CancelOrder
// ============================================================================

// CancelOrder removes the caller's order and refunds any escrow. It is
// allowed while paused and after expiry, and never charges a fee.
func (e *Engine) CancelOrder(call Call, req CancelOrderRequest) (*Receipt, error) {
	const kind = "cancel_order"
	tokenID := orZero(req.TokenID)
	price := orZero(req.Price)

	if !req.Side.Valid() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: %d", ErrInvalidSide, req.Side))
	}
	key := orderbook.NewKey(req.Asset, tokenID, req.PaymentToken, price)
	rec, err := e.book.Lookup(req.Side, key)
	if err != nil {
		return nil, e.reject(kind, call, err)
	}
	if rec.Maker != call.Sender {
		return nil, e.reject(kind, call, fmt.Errorf("%w: order %s belongs to %s",
			ErrNotAllowedToCancelOrder, key, rec.Maker.Hex()))
	}
	if a := call.attached(); !a.IsZero() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: attached %s to a cancel", ErrNotEqualAmount, a.Dec()))
	}

	escrowed := req.Side == orderbook.Buy && req.PaymentToken == nativeCoin
	id := escrowID(req.Side, key)
	if escrowed {
		held, ok := e.escrow.Held(id)
		if !ok || held.Account != rec.Maker || held.Amount.Lt(price) {
			return nil, e.reject(kind, call, fmt.Errorf("%w: order %s", ErrInsufficientEscrow, key))
		}
	}

	receipt := &Receipt{}
	err = e.atomically(func() error {
		if !escrowed {
			return nil
		}
		if err := e.nativeTransfer(receipt, e.marketplace, rec.Maker, price); err != nil {
			return err
		}
		_, err := e.escrow.Release(id, rec.Maker, price)
		return err
	})
	if err != nil {
		return nil, e.reject(kind, call, err)
	}

	if _, err := e.book.Remove(req.Side, key); err != nil {
		return nil, e.reject(kind, call, err)
	}

	receipt.emit(CancelOrderEvent{
		Maker:        rec.Maker,
		Side:         req.Side,
		Asset:        req.Asset,
		TokenID:      tokenID.Clone(),
		PaymentToken: req.PaymentToken,
		Price:        price.Clone(),
	})
	e.metrics.transition(kind, nil)
	e.metrics.book(e)
	e.logger.Infow("order_cancelled", "maker", rec.Maker.Hex(), "side", req.Side.String(), "order", key.String())
	return receipt, nil
}

// ============================================================================
// FulfillOrder
// ============================================================================

// FulfillOrder settles the order stored at the exact key named by req.
//
// For a sell order the caller is the buyer and, for native coin, attaches the
// price. For a buy order the caller is the seller and the price comes from
// escrow (native) or from the maker's allowance (token). Proceeds are split
// into royalty, service fee and seller legs, the asset moves from seller to
// req.Destination, and the order is removed.
func (e *Engine) FulfillOrder(call Call, req FulfillOrderRequest) (*Receipt, error) {
	const kind = "fulfill_order"
	attached := call.attached()
	tokenID := orZero(req.TokenID)
	price := orZero(req.Price)

	if e.admin.Paused {
		return nil, e.reject(kind, call, ErrPaused)
	}
	if !req.Side.Valid() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: %d", ErrInvalidSide, req.Side))
	}

	key := orderbook.NewKey(req.Asset, tokenID, req.PaymentToken, price)
	rec, err := e.book.Lookup(req.Side, key)
	if err != nil {
		return nil, e.reject(kind, call, err)
	}
	if rec.Expired(call.BlockNumber) {
		return nil, e.reject(kind, call, fmt.Errorf("%w: order %s expired at block %d, now %d",
			ErrExpired, key, rec.Expiration, call.BlockNumber))
	}
	if req.Signed != nil {
		if err := e.verifySigned(rec.Maker, req, call.BlockNumber); err != nil {
			return nil, e.reject(kind, call, err)
		}
	}

	native := req.PaymentToken == nativeCoin
	if req.Side == orderbook.Sell && native {
		if !attached.Eq(price) {
			return nil, e.reject(kind, call, fmt.Errorf("%w: attached %s, price %s",
				ErrNotEqualAmount, attached.Dec(), price.Dec()))
		}
	} else if !attached.IsZero() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: attached %s, expected none",
			ErrNotEqualAmount, attached.Dec()))
	}

	seller, buyer := rec.Maker, call.Sender
	if req.Side == orderbook.Buy {
		seller, buyer = call.Sender, rec.Maker
	}
	if req.Destination == (common.Address{}) {
		return nil, e.reject(kind, call, ErrZeroAddressDestination)
	}

	owner, err := e.host.OwnerOf(req.Asset, tokenID)
	if err != nil || owner != seller {
		return nil, e.reject(kind, call, fmt.Errorf("%w: seller %s does not own %s #%s",
			ErrNotTokenOwner, seller.Hex(), req.Asset.Hex(), tokenID.Dec()))
	}
	spender, err := e.host.SpenderOf(req.Asset, tokenID)
	if err != nil || spender != e.marketplace {
		return nil, e.reject(kind, call, fmt.Errorf("%w: marketplace is not spender of %s #%s",
			ErrNotSpender, req.Asset.Hex(), tokenID.Dec()))
	}

	id := escrowID(req.Side, key)
	escrowed := req.Side == orderbook.Buy && native
	if escrowed {
		held, ok := e.escrow.Held(id)
		if !ok || held.Account != buyer || held.Amount.Lt(price) {
			return nil, e.reject(kind, call, fmt.Errorf("%w: order %s", ErrInsufficientEscrow, key))
		}
	}
	if !native {
		if allowed := e.host.Allowance(req.PaymentToken, buyer, e.marketplace); allowed.Lt(price) {
			return nil, e.reject(kind, call, fmt.Errorf("%w: %s allows %s, price %s",
				ErrInsufficientAllowance, buyer.Hex(), allowed.Dec(), price.Dec()))
		}
	}

	royaltyRecipient, royaltyBps := seller, e.royaltyBps
	if e.royalty != nil {
		if r, bps, ok := e.royalty.RoyaltyInfo(req.Asset); ok {
			royaltyRecipient, royaltyBps = r, bps
		}
	}
	fees, err := ComputeFees(price, royaltyBps, e.admin.ServiceFeeBps)
	if err != nil {
		return nil, e.reject(kind, call, err)
	}
	feeRecipient := e.admin.feeRecipient()

	receipt := &Receipt{}
	err = e.atomically(func() error {
		if native {
			if req.Side == orderbook.Sell {
				if err := e.nativeTransfer(receipt, buyer, e.marketplace, price); err != nil {
					return err
				}
			}
			legs := []struct {
				to     common.Address
				amount *uint256.Int
			}{
				{royaltyRecipient, fees.Royalty},
				{feeRecipient, fees.ServiceFee},
				{seller, fees.SellerProceeds},
			}
			for _, leg := range legs {
				if err := e.nativeTransfer(receipt, e.marketplace, leg.to, leg.amount); err != nil {
					return err
				}
			}
		} else {
			if err := e.tokenTransfer(receipt, req.PaymentToken, buyer, royaltyRecipient, fees.Royalty); err != nil {
				return err
			}
			if err := e.tokenTransfer(receipt, req.PaymentToken, buyer, feeRecipient, fees.ServiceFee); err != nil {
				return err
			}
			if err := e.tokenTransfer(receipt, req.PaymentToken, buyer, seller, fees.SellerProceeds); err != nil {
				return err
			}
		}

		if err := e.host.TransferAsset(e.marketplace, req.Asset, seller, req.Destination, tokenID); err != nil {
			return fmt.Errorf("%w: asset %s #%s: %v", ErrTransferFailed, req.Asset.Hex(), tokenID.Dec(), err)
		}
		receipt.transfer(Transfer{Kind: TransferAsset, Contract: req.Asset, From: seller, To: req.Destination, TokenID: tokenID.Clone()})

		if escrowed {
			if _, err := e.escrow.Release(id, buyer, price); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, e.reject(kind, call, err)
	}

	if _, err := e.book.Remove(req.Side, key); err != nil {
		return nil, e.reject(kind, call, err)
	}

	receipt.emit(FulfillOrderEvent{
		Taker:            call.Sender,
		Side:             req.Side,
		Asset:            req.Asset,
		TokenID:          tokenID.Clone(),
		PaymentToken:     req.PaymentToken,
		Price:            price.Clone(),
		Seller:           seller,
		Buyer:            buyer,
		AssetRecipient:   req.Destination,
		PaymentRecipient: seller,
		RoyaltyRecipient: royaltyRecipient,
		RoyaltyAmount:    fees.Royalty,
		ServiceFee:       fees.ServiceFee,
	})
	e.metrics.transition(kind, nil)
	e.metrics.fill(req.Side, native)
	e.metrics.book(e)
	e.logger.Infow("order_fulfilled",
		"taker", call.Sender.Hex(),
		"side", req.Side.String(),
		"order", key.String(),
		"seller", seller.Hex(),
		"buyer", buyer.Hex(),
		"royalty", fees.Royalty.Dec(),
		"service_fee", fees.ServiceFee.Dec(),
		"signed", req.Signed != nil,
	)
	return receipt, nil
}

// verifySigned checks a maker's off-chain authorization: the message must
// describe exactly this fulfillment, its reference block must be within the
// signature window, and it must verify against the maker's registered key.
func (e *Engine) verifySigned(maker common.Address, req FulfillOrderRequest, current uint64) error {
	s := req.Signed
	msg, err := crypto.ParseMessage(s.Format, s.Message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if msg.Asset != req.Asset || !msg.TokenID.Eq(orZero(req.TokenID)) || msg.Destination != req.Destination ||
		msg.Side != uint32(req.Side) || !msg.Price.Eq(orZero(req.Price)) || msg.PaymentToken != req.PaymentToken {
		return fmt.Errorf("%w: message does not match the fulfillment", ErrInvalidSignature)
	}
	if msg.RefBlock > current {
		return fmt.Errorf("%w: reference block %d is ahead of %d", ErrInvalidSignature, msg.RefBlock, current)
	}
	if e.signatureWindow > 0 && current-msg.RefBlock > e.signatureWindow {
		return fmt.Errorf("%w: signed at block %d, window %d, now %d",
			ErrExpired, msg.RefBlock, e.signatureWindow, current)
	}
	pub, err := e.verifier.Get(maker)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !crypto.Verify(pub, s.Message, s.Signature) {
		return fmt.Errorf("%w: maker %s", ErrInvalidSignature, maker.Hex())
	}
	return nil
}

// ============================================================================
// Verifier keys
// ============================================================================

// RegisterPubKey binds the caller's fulfillment verification key.
func (e *Engine) RegisterPubKey(call Call, pub []byte) (*Receipt, error) {
	const kind = "register_pubkey"
	if a := call.attached(); !a.IsZero() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: attached %s", ErrNotEqualAmount, a.Dec()))
	}
	if err := e.verifier.Register(call.Sender, pub); err != nil {
		return nil, e.reject(kind, call, fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}
	e.metrics.transition(kind, nil)
	e.logger.Infow("pubkey_registered", "account", call.Sender.Hex())
	r := &Receipt{}
	r.emit(PubKeyEvent{Account: call.Sender, PubKey: append([]byte(nil), pub...)})
	return r, nil
}

func (e *Engine) ClearPubKey(call Call) (*Receipt, error) {
	const kind = "clear_pubkey"
	if a := call.attached(); !a.IsZero() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: attached %s", ErrNotEqualAmount, a.Dec()))
	}
	e.verifier.Clear(call.Sender)
	e.metrics.transition(kind, nil)
	e.logger.Infow("pubkey_cleared", "account", call.Sender.Hex())
	r := &Receipt{}
	r.emit(PubKeyEvent{Account: call.Sender})
	return r, nil
}

// ============================================================================
// Queries
// ============================================================================

func (e *Engine) Lookup(side orderbook.Side, key orderbook.Key) (orderbook.Record, error) {
	return e.book.Lookup(side, key)
}

func (e *Engine) OrdersFor(asset common.Address, tokenID *uint256.Int) []orderbook.Order {
	return e.book.OrdersFor(asset, tokenID)
}

// Escrowed is the native coin held for account's open buy orders.
func (e *Engine) Escrowed(account common.Address) *uint256.Int {
	return e.escrow.Liability(account)
}

func (e *Engine) EscrowTotal() *uint256.Int { return e.escrow.Total() }

func (e *Engine) PubKey(account common.Address) ([]byte, error) {
	return e.verifier.Get(account)
}
