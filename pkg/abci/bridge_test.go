package abci

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/uhyunpark/nftmarket/pkg/chain"
)

type stubApp struct {
	pending   [][]byte
	finalized [][]byte
	reject    bool
}

func (s *stubApp) PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal {
	txs := s.pending
	s.pending = nil
	return ResponsePrepareProposal{Txs: txs}
}

func (s *stubApp) ProcessProposal(RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: !s.reject}
}

func (s *stubApp) FinalizeBlock(req RequestFinalizeBlock) (ResponseFinalizeBlock, error) {
	s.finalized = append(s.finalized, req.Txs...)
	return ResponseFinalizeBlock{AppHash: common.Hash{byte(len(req.Txs))}}, nil
}

func TestBridgeRoundTrip(t *testing.T) {
	app := &stubApp{pending: [][]byte{[]byte(`{"a":0}`), {0x00, 0x01, 0x00}}}
	var got ResponseFinalizeBlock
	b := &Bridge{App: app, OnFinalize: func(_ chain.Block, r ResponseFinalizeBlock) { got = r }}

	payload := b.PreparePayload(chain.Block{}, 1)
	h, err := b.OnCommit(chain.Block{Height: 1, Payload: payload, Time: time.Unix(10, 0)})
	require.NoError(t, err)
	require.Equal(t, chain.Hash{2}, h)
	require.Equal(t, common.Hash{2}, got.AppHash)
	// zero bytes survive framing
	require.Equal(t, [][]byte{[]byte(`{"a":0}`), {0x00, 0x01, 0x00}}, app.finalized)
}

func TestBridgeRejectedProposalIsEmpty(t *testing.T) {
	app := &stubApp{pending: [][]byte{[]byte("x")}, reject: true}
	b := &Bridge{App: app}
	require.Empty(t, b.PreparePayload(chain.Block{}, 1))
}

func TestDecodePayloadRejectsTruncation(t *testing.T) {
	p := EncodePayload([][]byte{[]byte("hello")})
	_, err := DecodePayload(p[:len(p)-1])
	require.ErrorIs(t, err, ErrMalformedPayload)
	_, err = DecodePayload([]byte{0x80})
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestPayloadFramingInverts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		txs := rapid.SliceOf(rapid.SliceOfN(rapid.Byte(), 1, 64)).Draw(t, "txs")
		got, err := DecodePayload(EncodePayload(txs))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != len(txs) {
			t.Fatalf("got %d txs, want %d", len(got), len(txs))
		}
		for i := range txs {
			if string(got[i]) != string(txs[i]) {
				t.Fatalf("tx %d differs", i)
			}
		}
	})
}

func TestEventGet(t *testing.T) {
	ev := NewEvent("FulfillOrder", "token_id", "1", "sale_price", "10")
	v, ok := ev.Get("sale_price")
	require.True(t, ok)
	require.Equal(t, "10", v)
	_, ok = ev.Get("missing")
	require.False(t, ok)
	require.Equal(t, "FulfillOrder token_id=1 sale_price=10", ev.String())
}
