package fixedprice

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftmarket/params"
	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/nftmarket/pkg/app/core/mempool"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

// App runs the engine as an abci.Application over the in-memory reference
// host. All transitions happen inside FinalizeBlock; queries take a read
// lock and may run concurrently with each other.
type App struct {
	mu       sync.RWMutex
	cfg      params.Marketplace
	engine   *Engine
	ledger   *ledger.Ledger
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	height   uint64
	appHash  common.Hash
	logger   *zap.SugaredLogger

	listeners []func(height uint64, results []abci.TxResult)
}

// MarketState is everything needed to restart the node at Height.
type MarketState struct {
	Height  uint64       `json:"height"`
	AppHash common.Hash  `json:"appHash"`
	Engine  State        `json:"engine"`
	Ledger  ledger.State `json:"ledger"`
}

func NewApp(cfg params.Marketplace, l *ledger.Ledger, logger *zap.SugaredLogger, metrics *Metrics) (*App, error) {
	logger = util.OrNop(logger)
	engine, err := NewEngine(cfg, l, logger.Named("engine"), metrics)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:      cfg,
		engine:   engine,
		ledger:   l,
		mempool:  mempool.NewMempool(),
		verifier: transaction.NewVerifier(crypto.DefaultDomain(cfg.ChainID, cfg.Address)),
		logger:   logger,
	}, nil
}

// OnResults registers fn to run after every finalized block, outside the
// application lock.
func (a *App) OnResults(fn func(height uint64, results []abci.TxResult)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Domain is the typed-data domain clients must sign envelopes under.
func (a *App) Domain() *crypto.EIP712Signer { return a.verifier.Domain() }

// PushTx checks an envelope's shape and signature and queues it. Nonce and
// state checks happen when the block is finalized.
func (a *App) PushTx(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	if err := a.verifier.VerifySender(tx); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	a.mempool.PushRaw(raw)
	return transaction.Hash(raw), nil
}

func (a *App) PendingTxs() int { return a.mempool.Len() }

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts any block whose txs are non-empty; a malformed
// envelope fails on its own at finalization.
func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	for _, tx := range req.Txs {
		if len(tx) == 0 {
			return abci.ResponseProcessProposal{Accept: false}
		}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	results := make([]abci.TxResult, 0, len(req.Txs))
	for i, raw := range req.Txs {
		results = append(results, a.deliverTx(req.Height, uint32(i), raw))
	}
	hash, err := a.computeAppHash(req.Height)
	if err != nil {
		a.mu.Unlock()
		return abci.ResponseFinalizeBlock{}, err
	}
	a.height = req.Height
	a.appHash = hash
	listeners := append([]func(uint64, []abci.TxResult){}, a.listeners...)
	a.mu.Unlock()

	if len(req.Txs) > 0 {
		failed := 0
		for _, r := range results {
			if !r.OK() {
				failed++
			}
		}
		a.logger.Infow("block_finalized", "height", req.Height, "txs", len(req.Txs), "failed", failed, "app_hash", hash.Hex())
	}
	for _, fn := range listeners {
		fn(req.Height, results)
	}
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: hash}, nil
}

// deliverTx applies one envelope. A transaction that passes signature and
// nonce checks consumes its nonce even when the transition fails.
func (a *App) deliverTx(height uint64, index uint32, raw []byte) abci.TxResult {
	res := abci.TxResult{Hash: transaction.Hash(raw), Height: height, Index: index, Events: []abci.Event{}}
	defer a.ledger.Finalise()

	fail := func(err error) abci.TxResult {
		res.Code = CodeOf(err)
		res.Codespace = ErrorCode(err)
		res.Log = err.Error()
		a.ledger.TakeEvents()
		return res
	}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidTx, err))
	}
	if err := a.verifier.VerifySender(tx); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidTx, err))
	}
	if last := a.ledger.Nonce(tx.Sender); tx.Nonce <= last {
		return fail(fmt.Errorf("%w: nonce %d, last used %d", ErrInvalidNonce, tx.Nonce, last))
	}
	a.ledger.SetNonce(tx.Sender, tx.Nonce)

	call := Call{Sender: tx.Sender, Amount: tx.AttachedAmount(), BlockNumber: height}
	receipt, err := a.dispatch(call, tx)
	if err != nil {
		return fail(err)
	}

	for _, ev := range receipt.Events {
		res.Events = append(res.Events, ev.ABCI())
	}
	for _, t := range receipt.Transfers {
		res.Events = append(res.Events, TransferEvent(t))
	}
	res.Events = append(res.Events, a.ledger.TakeEvents()...)
	return res
}

func (a *App) dispatch(call Call, tx *transaction.Tx) (*Receipt, error) {
	e := a.engine
	switch tx.Type {
	case transaction.TxCreateOrder:
		o := tx.Order
		return e.CreateOrder(call, CreateOrderRequest{
			Side:         orderbook.Side(o.Side),
			Asset:        o.Asset,
			TokenID:      o.TokenID,
			PaymentToken: o.PaymentToken,
			Price:        o.Price,
			Expiration:   o.Expiration,
		})
	case transaction.TxCancelOrder:
		o := tx.Order
		return e.CancelOrder(call, CancelOrderRequest{
			Side:         orderbook.Side(o.Side),
			Asset:        o.Asset,
			TokenID:      o.TokenID,
			PaymentToken: o.PaymentToken,
			Price:        o.Price,
		})
	case transaction.TxFulfillOrder:
		f := tx.Fulfill
		req := FulfillOrderRequest{
			Side:         orderbook.Side(f.Side),
			Asset:        f.Asset,
			TokenID:      f.TokenID,
			PaymentToken: f.PaymentToken,
			Price:        f.Price,
			Destination:  f.Destination,
		}
		if f.Signed != nil {
			req.Signed = &SignedFulfillment{Format: f.Signed.Format, Message: f.Signed.Message, Signature: f.Signed.Signature}
		}
		return e.FulfillOrder(call, req)
	case transaction.TxRegisterPubKey:
		return e.RegisterPubKey(call, tx.PubKey)
	case transaction.TxClearPubKey:
		return e.ClearPubKey(call)
	case transaction.TxAllowPaymentToken:
		return e.AllowPaymentToken(call, tx.Admin.Token)
	case transaction.TxDisallowPaymentToken:
		return e.DisallowPaymentToken(call, tx.Admin.Token)
	case transaction.TxSetServiceFeeBps:
		return e.SetServiceFeeBps(call, tx.Admin.Bps)
	case transaction.TxSetServiceFeeRecipient:
		return e.SetServiceFeeRecipient(call, tx.Admin.Recipient)
	case transaction.TxPause:
		return e.Pause(call)
	case transaction.TxUnpause:
		return e.Unpause(call)
	case transaction.TxSetOwnershipRecipient:
		return e.SetContractOwnershipRecipient(call, tx.Admin.Recipient)
	case transaction.TxAcceptOwnership:
		return e.AcceptContractOwnership(call)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTx, tx.Type)
}

// computeAppHash commits to the height, the engine state and the host state.
func (a *App) computeAppHash(height uint64) (common.Hash, error) {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	h.Write(buf[:])

	engineHash, err := a.engine.StateHash()
	if err != nil {
		return common.Hash{}, err
	}
	h.Write(engineHash[:])

	host, err := json.Marshal(a.ledger.Export())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode host state: %w", err)
	}
	h.Write(host)
	return common.BytesToHash(h.Sum(nil)), nil
}

// ============================================================================
// Persistence
// ============================================================================

func (a *App) MarketState() MarketState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return MarketState{
		Height:  a.height,
		AppHash: a.appHash,
		Engine:  a.engine.Export(),
		Ledger:  a.ledger.Export(),
	}
}

// Restore loads st and checks that it reproduces its recorded app hash.
func (a *App) Restore(st MarketState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.engine.Import(st.Engine); err != nil {
		return fmt.Errorf("failed to restore engine: %w", err)
	}
	a.ledger.Import(st.Ledger)
	hash, err := a.computeAppHash(st.Height)
	if err != nil {
		return err
	}
	if st.AppHash != (common.Hash{}) && hash != st.AppHash {
		return fmt.Errorf("restored state hash %s does not match recorded %s", hash.Hex(), st.AppHash.Hex())
	}
	a.height = st.Height
	a.appHash = hash
	a.logger.Infow("state_restored", "height", st.Height, "app_hash", hash.Hex(), "orders", len(st.Engine.Orders))
	return nil
}

// ============================================================================
// Queries
// ============================================================================

func (a *App) Height() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

func (a *App) AppHash() common.Hash {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appHash
}

func (a *App) Lookup(side orderbook.Side, key orderbook.Key) (orderbook.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.Lookup(side, key)
}

func (a *App) OrdersFor(asset common.Address, tokenID *uint256.Int) []orderbook.Order {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.OrdersFor(asset, tokenID)
}

func (a *App) Escrowed(account common.Address) *uint256.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.Escrowed(account)
}

func (a *App) PubKey(account common.Address) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.PubKey(account)
}

// Balances is an account's view of the reference host.
type Balances struct {
	Native *uint256.Int                    `json:"native"`
	Tokens map[common.Address]*uint256.Int `json:"tokens"`
	Nonce  uint64                          `json:"nonce"`
	Escrow *uint256.Int                    `json:"escrow"`
}

// Balances reports native and allow-listed token balances for account.
func (a *App) Balances(account common.Address) Balances {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b := Balances{
		Native: a.ledger.BalanceOf(account),
		Tokens: make(map[common.Address]*uint256.Int),
		Nonce:  a.ledger.Nonce(account),
		Escrow: a.engine.Escrowed(account),
	}
	for _, t := range a.engine.AllowedPaymentTokens() {
		b.Tokens[t] = a.ledger.TokenBalance(t, account)
	}
	return b
}

// MarketConfig is the live marketplace configuration.
type MarketConfig struct {
	ChainID              uint64           `json:"chainId"`
	Address              common.Address   `json:"address"`
	Owner                common.Address   `json:"owner"`
	FeeRecipient         common.Address   `json:"feeRecipient"`
	RoyaltyBps           uint64           `json:"royaltyBps"`
	ServiceFeeBps        uint64           `json:"serviceFeeBps"`
	SignatureWindow      uint64           `json:"signatureWindow"`
	AllowedPaymentTokens []common.Address `json:"allowedPaymentTokens"`
	Paused               bool             `json:"paused"`
}

func (a *App) Config() MarketConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e := a.engine
	return MarketConfig{
		ChainID:              a.cfg.ChainID,
		Address:              e.Marketplace(),
		Owner:                e.Owner(),
		FeeRecipient:         e.FeeRecipient(),
		RoyaltyBps:           e.royaltyBps,
		ServiceFeeBps:        e.ServiceFeeBps(),
		SignatureWindow:      e.signatureWindow,
		AllowedPaymentTokens: e.AllowedPaymentTokens(),
		Paused:               e.Paused(),
	}
}
