package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/fixedprice"
	"github.com/uhyunpark/nftmarket/pkg/chain"
)

func openStore(t *testing.T) (*PebbleStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	return s, dir
}

func TestPebbleBlocks(t *testing.T) {
	s, _ := openStore(t)
	defer s.Close()

	_, ok := s.GetCommitted()
	require.False(t, ok)

	b := chain.Block{Height: 7, Payload: []byte("tx"), Proposer: "node-0", Time: time.Unix(1700000000, 0).UTC(), AppHash: chain.Hash{9}}
	require.NoError(t, s.SaveBlock(b))
	h := chain.HashOfBlock(b)
	require.NoError(t, s.SetCommitted(h))

	got, ok := s.GetBlock(h)
	require.True(t, ok)
	require.Equal(t, b.Payload, got.Payload)
	require.Equal(t, b.AppHash, got.AppHash)
	require.True(t, b.Time.Equal(got.Time))

	byHeight, ok := s.GetBlockByHeight(7)
	require.True(t, ok)
	require.Equal(t, h, chain.HashOfBlock(byHeight))

	c, ok := s.GetCommitted()
	require.True(t, ok)
	require.Equal(t, h, c)

	_, ok = s.GetBlockByHeight(8)
	require.False(t, ok)
}

func TestPebbleResults(t *testing.T) {
	s, _ := openStore(t)
	defer s.Close()

	r := abci.TxResult{
		Hash: common.HexToHash("0xabc"), Height: 3, Index: 1, Code: 2, Codespace: "ExpiredError",
		Events: []abci.Event{abci.NewEvent("x", "k", "v")},
	}
	require.NoError(t, s.SaveResults([]abci.TxResult{r}))

	got, ok, err := s.GetResult(r.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, r, got)

	_, ok, err = s.GetResult(common.HexToHash("0xdef"))
	require.NoError(t, err)
	require.False(t, ok)
}

func order(asset string, id, price uint64, side orderbook.Side) fixedprice.OrderState {
	return fixedprice.OrderState{
		Side:       side,
		Asset:      common.HexToAddress(asset),
		TokenID:    uint256.NewInt(id),
		Price:      uint256.NewInt(price),
		Maker:      common.HexToAddress("0xa11c"),
		Expiration: 50,
	}
}

func TestPebbleMarketStateReplacesOrders(t *testing.T) {
	s, dir := openStore(t)

	_, ok, err := s.LoadMarketState()
	require.NoError(t, err)
	require.False(t, ok)

	st := fixedprice.MarketState{Height: 4, AppHash: common.HexToHash("0x01")}
	st.Engine.Orders = []fixedprice.OrderState{
		order("0x11", 1, 100, orderbook.Sell),
		order("0x11", 2, 100, orderbook.Buy),
		order("0x22", 1, 5, orderbook.Sell),
	}
	require.NoError(t, s.SaveMarketState(st))

	got, err := s.OrdersByAsset(common.HexToAddress("0x11"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].TokenID.Uint64())

	// a later snapshot drops orders that are gone
	st.Height = 5
	st.Engine.Orders = st.Engine.Orders[2:]
	require.NoError(t, s.SaveMarketState(st))
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()

	loaded, ok, err := s.LoadMarketState()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(5), loaded.Height)
	require.Len(t, loaded.Engine.Orders, 1)
	require.Equal(t, common.HexToAddress("0x22"), loaded.Engine.Orders[0].Asset)

	got, err = s.OrdersByAsset(common.HexToAddress("0x11"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestKeyUpperBound(t *testing.T) {
	require.Equal(t, []byte{0x01, 0x03}, keyUpperBound([]byte{0x01, 0x02}))
	require.Equal(t, []byte{0x02}, keyUpperBound([]byte{0x01, 0xff}))
	require.Nil(t, keyUpperBound([]byte{0xff, 0xff}))
}

func TestFileWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := NewFileWAL(path)
	require.NoError(t, err)
	w.Append("commit height=1")
	w.Append("commit height=2")
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"commit height=1", "commit height=2"}, strings.Split(strings.TrimSpace(string(data)), "\n"))
}
