package fixedprice

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nftmarket/params"
	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

type appFixture struct {
	t      *testing.T
	app    *App
	ledger *ledger.Ledger
	seller *crypto.Signer
	buyer  *crypto.Signer
	owner  *crypto.Signer
	cfg    params.Marketplace
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	b, err := crypto.GenerateKey()
	require.NoError(t, err)
	o, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := params.Default().Marketplace
	cfg.Owner = o.Address()

	l := ledger.New()
	require.NoError(t, l.Mint(asset, u(1), s.Address()))
	require.NoError(t, l.SetSpender(s.Address(), asset, u(1), cfg.Address))
	l.Fund(b.Address(), u(50000))
	l.Finalise()
	l.TakeEvents()

	app, err := NewApp(cfg, l, nil, nil)
	require.NoError(t, err)
	return &appFixture{t: t, app: app, ledger: l, seller: s, buyer: b, owner: o, cfg: cfg}
}

func (f *appFixture) sign(signer *crypto.Signer, tx *transaction.Tx) []byte {
	f.t.Helper()
	require.NoError(f.t, tx.Sign(signer, f.app.Domain()))
	raw, err := tx.Serialize()
	require.NoError(f.t, err)
	return raw
}

func (f *appFixture) commit(height uint64, txs ...[]byte) []abci.TxResult {
	f.t.Helper()
	for _, raw := range txs {
		_, err := f.app.PushTx(raw)
		require.NoError(f.t, err)
	}
	prep := f.app.PrepareProposal(abci.RequestPrepareProposal{Height: height})
	require.True(f.t, f.app.ProcessProposal(abci.RequestProcessProposal{Height: height, Txs: prep.Txs}).Accept)
	resp, err := f.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: height, Txs: prep.Txs})
	require.NoError(f.t, err)
	require.Equal(f.t, resp.AppHash, f.app.AppHash())
	return resp.TxResults
}

func sellOrder(price uint64) *transaction.OrderPayload {
	return &transaction.OrderPayload{
		Side: uint32(orderbook.Sell), Asset: asset, TokenID: u(1), PaymentToken: nativeCoin, Price: u(price), Expiration: 100,
	}
}

func TestAppSellFlow(t *testing.T) {
	f := newAppFixture(t)
	var seen []abci.TxResult
	f.app.OnResults(func(_ uint64, rs []abci.TxResult) { seen = append(seen, rs...) })

	create := f.sign(f.seller, &transaction.Tx{Type: transaction.TxCreateOrder, Nonce: 1, Order: sellOrder(10000)})
	res := f.commit(1, create)
	require.Len(t, res, 1)
	require.True(t, res[0].OK(), res[0].Log)
	require.Equal(t, "CreateOrder", res[0].Events[0].Type)

	fill := f.sign(f.buyer, &transaction.Tx{
		Type:   transaction.TxFulfillOrder,
		Nonce:  1,
		Amount: u(10000),
		Fulfill: &transaction.FulfillPayload{
			OrderPayload: *sellOrder(10000),
			Destination:  f.buyer.Address(),
		},
	})
	res = f.commit(2, fill)
	require.True(t, res[0].OK(), res[0].Log)
	require.Equal(t, transaction.Hash(fill), res[0].Hash)

	types := map[string]int{}
	for _, ev := range res[0].Events {
		types[ev.Type]++
	}
	require.Equal(t, 1, types["FulfillOrder"])
	require.Equal(t, 1, types["TransferFrom"])
	require.GreaterOrEqual(t, types["AddFunds"], 3)

	bal := f.app.Balances(f.seller.Address())
	require.Equal(t, uint64(9750), bal.Native.Uint64())
	require.Equal(t, uint64(250), f.app.Balances(f.owner.Address()).Native.Uint64())
	require.Len(t, seen, 2)
	require.Equal(t, uint64(2), f.app.Height())
}

func TestAppRejectsReplayAndReportsCodes(t *testing.T) {
	f := newAppFixture(t)
	create := f.sign(f.seller, &transaction.Tx{Type: transaction.TxCreateOrder, Nonce: 5, Order: sellOrder(10)})
	res := f.commit(1, create)
	require.True(t, res[0].OK(), res[0].Log)

	// same envelope again: nonce already used
	res = f.commit(2, create)
	require.Equal(t, CodeOf(ErrInvalidNonce), res[0].Code)
	require.Equal(t, "InvalidNonceError", res[0].Codespace)

	// a failing transition still burns its nonce
	cancel := f.sign(f.buyer, &transaction.Tx{Type: transaction.TxCancelOrder, Nonce: 1, Order: sellOrder(10)})
	res = f.commit(3, cancel)
	require.Equal(t, "NotAllowedToCancelOrder", res[0].Codespace)
	require.Equal(t, uint64(1), f.ledger.Nonce(f.buyer.Address()))

	_, err := f.app.Lookup(orderbook.Sell, orderbook.NewKey(asset, u(1), nativeCoin, u(10)))
	require.NoError(t, err)
}

func TestAppSameSenderMixedClassesInOneBlock(t *testing.T) {
	f := newAppFixture(t)
	create := f.sign(f.seller, &transaction.Tx{Type: transaction.TxCreateOrder, Nonce: 1, Order: sellOrder(10)})
	register := f.sign(f.seller, &transaction.Tx{Type: transaction.TxRegisterPubKey, Nonce: 2, PubKey: f.seller.CompressedPubKey()})
	cancel := f.sign(f.seller, &transaction.Tx{Type: transaction.TxCancelOrder, Nonce: 3, Order: sellOrder(10)})
	other := f.sign(f.buyer, &transaction.Tx{Type: transaction.TxRegisterPubKey, Nonce: 1, PubKey: f.buyer.CompressedPubKey()})

	res := f.commit(1, create, register, cancel, other)
	require.Len(t, res, 4)
	for _, r := range res {
		require.True(t, r.OK(), "%s %s", r.Codespace, r.Log)
	}
	// the seller's slots are refilled in nonce order; the buyer keeps its
	// place in the key registration queue
	require.Equal(t, transaction.Hash(create), res[0].Hash)
	require.Equal(t, transaction.Hash(other), res[1].Hash)
	require.Equal(t, transaction.Hash(register), res[2].Hash)
	require.Equal(t, transaction.Hash(cancel), res[3].Hash)

	require.Equal(t, uint64(3), f.ledger.Nonce(f.seller.Address()))
	_, err := f.app.Lookup(orderbook.Sell, orderbook.NewKey(asset, u(1), nativeCoin, u(10)))
	require.ErrorIs(t, err, orderbook.ErrNotFound)
}

func TestAppPushTxRejectsForgedSender(t *testing.T) {
	f := newAppFixture(t)
	tx := &transaction.Tx{Type: transaction.TxCreateOrder, Nonce: 1, Order: sellOrder(10)}
	require.NoError(t, tx.Sign(f.buyer, f.app.Domain()))
	tx.Sender = f.seller.Address()
	raw, err := tx.Serialize()
	require.NoError(t, err)

	_, err = f.app.PushTx(raw)
	require.ErrorIs(t, err, ErrInvalidTx)
	require.Zero(t, f.app.PendingTxs())

	// a block carrying it anyway fails the tx, not the block
	resp, err := f.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Txs: [][]byte{raw, []byte("junk")}})
	require.NoError(t, err)
	require.Equal(t, CodeOf(ErrInvalidTx), resp.TxResults[0].Code)
	require.Equal(t, CodeOf(ErrInvalidTx), resp.TxResults[1].Code)
}

func TestAppAdminAndPubKey(t *testing.T) {
	f := newAppFixture(t)
	token := common.HexToAddress("0x00000000000000000000000000000000000000c2")

	res := f.commit(1,
		f.sign(f.owner, &transaction.Tx{Type: transaction.TxAllowPaymentToken, Nonce: 1, Admin: &transaction.AdminPayload{Token: token}}),
		f.sign(f.owner, &transaction.Tx{Type: transaction.TxSetServiceFeeBps, Nonce: 2, Admin: &transaction.AdminPayload{Bps: 100}}),
		f.sign(f.seller, &transaction.Tx{Type: transaction.TxRegisterPubKey, Nonce: 1, PubKey: f.seller.CompressedPubKey()}),
		f.sign(f.seller, &transaction.Tx{Type: transaction.TxPause, Nonce: 2}),
	)
	require.Len(t, res, 4)
	for _, r := range res[:3] {
		require.True(t, r.OK(), r.Log)
	}
	require.Equal(t, "NotContractOwnerError", res[3].Codespace)

	cfg := f.app.Config()
	require.Equal(t, uint64(100), cfg.ServiceFeeBps)
	require.Contains(t, cfg.AllowedPaymentTokens, token)
	require.False(t, cfg.Paused)

	pub, err := f.app.PubKey(f.seller.Address())
	require.NoError(t, err)
	require.Equal(t, f.seller.CompressedPubKey(), pub)
}

func TestAppRestore(t *testing.T) {
	f := newAppFixture(t)
	f.commit(1, f.sign(f.seller, &transaction.Tx{Type: transaction.TxCreateOrder, Nonce: 1, Order: sellOrder(77)}))
	f.commit(2, f.sign(f.buyer, &transaction.Tx{
		Type: transaction.TxCreateOrder, Nonce: 1, Amount: u(500),
		Order: &transaction.OrderPayload{Side: uint32(orderbook.Buy), Asset: asset, TokenID: u(1), Price: u(500), Expiration: 100},
	}))
	st := f.app.MarketState()

	restored, err := NewApp(f.cfg, ledger.New(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(st))
	require.Equal(t, f.app.AppHash(), restored.AppHash())
	require.Equal(t, uint64(2), restored.Height())
	require.Len(t, restored.OrdersFor(asset, uint256.NewInt(1)), 2)
	require.Equal(t, uint64(500), restored.Escrowed(f.buyer.Address()).Uint64())

	st.Ledger.Nonces = nil
	require.Error(t, restored.Restore(st))
}
