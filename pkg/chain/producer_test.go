package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nftmarket/pkg/chain"
	"github.com/uhyunpark/nftmarket/pkg/storage"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

type countingExec struct {
	payloads [][]byte
	commits  []chain.Height
	fail     bool
}

func (e *countingExec) PreparePayload(_ chain.Block, next chain.Height) []byte {
	if int(next) <= len(e.payloads) {
		return e.payloads[next-1]
	}
	return nil
}

func (e *countingExec) OnCommit(b chain.Block) (chain.Hash, error) {
	if e.fail {
		return chain.Hash{}, errors.New("boom")
	}
	e.commits = append(e.commits, b.Height)
	return chain.Hash{byte(b.Height)}, nil
}

func TestProducerChainsBlocks(t *testing.T) {
	exec := &countingExec{payloads: [][]byte{[]byte("a"), nil, []byte("c")}}
	store := storage.NewInMemoryBlockStore()
	clock := util.NewManualClock(time.Unix(1700000000, 0))
	p := chain.NewProducer(exec, store, clock, 200*time.Millisecond, "node-0")

	var committed []chain.Height
	p.OnBlockCommit = func(b chain.Block) { committed = append(committed, b.Height) }

	require.NoError(t, p.RunN(context.Background(), 3))
	require.Equal(t, []chain.Height{1, 2, 3}, exec.commits)
	require.Equal(t, []chain.Height{1, 2, 3}, committed)

	head := p.Head()
	require.Equal(t, chain.Height(3), head.Height)
	require.Equal(t, chain.Hash{3}, head.AppHash)

	b2, ok := store.GetBlockByHeight(2)
	require.True(t, ok)
	require.Equal(t, chain.HashOfBlock(b2), head.Parent)

	h, ok := store.GetCommitted()
	require.True(t, ok)
	require.Equal(t, chain.HashOfBlock(head), h)
}

func TestProducerResume(t *testing.T) {
	store := storage.NewInMemoryBlockStore()
	p := chain.NewProducer(&countingExec{}, store, util.NewManualClock(time.Unix(0, 0)), 0, "node-0")
	require.NoError(t, p.RunN(context.Background(), 2))

	q := chain.NewProducer(&countingExec{}, store, util.NewManualClock(time.Unix(0, 0)), 0, "node-0")
	require.NoError(t, q.Resume())
	require.Equal(t, chain.Height(2), q.Head().Height)

	b, err := q.Step()
	require.NoError(t, err)
	require.Equal(t, chain.Height(3), b.Height)
}

func TestProducerStopsOnExecutionError(t *testing.T) {
	store := storage.NewInMemoryBlockStore()
	p := chain.NewProducer(&countingExec{fail: true}, store, util.NewManualClock(time.Unix(0, 0)), time.Millisecond, "node-0")

	err := p.Run(context.Background())
	require.Error(t, err)
	_, ok := store.GetCommitted()
	require.False(t, ok)
	require.Equal(t, chain.Height(0), p.Head().Height)
}

func TestProducerRunHonorsContext(t *testing.T) {
	p := chain.NewProducer(&countingExec{}, storage.NewInMemoryBlockStore(), util.RealClock{}, time.Hour, "node-0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Run(ctx), context.Canceled)
}

func TestReplayReexecutesMissingBlocks(t *testing.T) {
	store := storage.NewInMemoryBlockStore()
	p := chain.NewProducer(&countingExec{}, store, util.NewManualClock(time.Unix(0, 0)), 0, "node-0")
	require.NoError(t, p.RunN(context.Background(), 4))

	exec := &countingExec{}
	require.NoError(t, chain.Replay(store, exec, 2, 4))
	require.Equal(t, []chain.Height{3, 4}, exec.commits)

	require.NoError(t, chain.Replay(store, exec, 4, 4))
	require.Len(t, exec.commits, 2)

	require.Error(t, chain.Replay(store, &countingExec{}, 4, 5))
}

type skewedExec struct{ countingExec }

func (e *skewedExec) OnCommit(b chain.Block) (chain.Hash, error) {
	return chain.Hash{0xee}, nil
}

func TestReplayDetectsDivergence(t *testing.T) {
	store := storage.NewInMemoryBlockStore()
	p := chain.NewProducer(&countingExec{}, store, util.NewManualClock(time.Unix(0, 0)), 0, "node-0")
	require.NoError(t, p.RunN(context.Background(), 1))

	err := chain.Replay(store, &skewedExec{}, 0, 1)
	require.ErrorContains(t, err, "app hash")
}
