package fixedprice

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nftmarket/params"
	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

func TestFeederBlocksAllSucceed(t *testing.T) {
	cfg := params.Default().Marketplace
	cfg.Owner = common.HexToAddress("0x0000000000000000000000000000000000000a11")

	gcfg := TxGenConfig{
		NumAccounts:      4,
		TokensPerAccount: 3,
		Asset:            asset,
		Funding:          uint256.NewInt(10_000_000),
		Seed:             7,
	}
	gen, err := NewTxGenerator(gcfg, crypto.NewEIP712Signer(crypto.DefaultDomain(cfg.ChainID, cfg.Address)))
	require.NoError(t, err)

	l := ledger.New()
	require.NoError(t, gen.Seed(l, cfg.Address))
	app, err := NewApp(cfg, l, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := StartTxFeeder(ctx, app, gen, TxFeederConfig{BatchSize: 16}, nil)
	defer stop()

	for h := uint64(1); h <= 40; h++ {
		prep := app.PrepareProposal(abci.RequestPrepareProposal{Height: h, MaxTxBytes: abci.DefaultMaxTxBytes})
		require.Len(t, prep.Txs, 16, "height %d", h)
		resp, err := app.FinalizeBlock(abci.RequestFinalizeBlock{Height: h, Txs: prep.Txs})
		require.NoError(t, err)
		for _, r := range resp.TxResults {
			require.True(t, r.OK(), "height %d tx %d: %s %s", h, r.Index, r.Codespace, r.Log)
		}
	}

	stats := gen.Stats()
	require.Positive(t, stats[transaction.TxFulfillOrder])
	require.Positive(t, stats[transaction.TxCancelOrder])

	// the marketplace holds exactly the open bids
	require.Equal(t, app.engine.EscrowTotal(), l.BalanceOf(cfg.Address))

	// native coin is conserved
	total := new(uint256.Int).Add(l.BalanceOf(cfg.Address), l.BalanceOf(cfg.Owner))
	for _, s := range gen.Signers() {
		total.Add(total, l.BalanceOf(s.Address()))
	}
	require.Equal(t, uint256.NewInt(4*10_000_000), total)
}

func TestTxGeneratorRejectsSingleAccount(t *testing.T) {
	_, err := NewTxGenerator(TxGenConfig{NumAccounts: 1}, nil)
	require.Error(t, err)
}
