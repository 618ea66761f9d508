package abci

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/uhyunpark/nftmarket/pkg/chain"
)

// DefaultMaxTxBytes caps the raw transactions packed into one block.
const DefaultMaxTxBytes = 1 << 24

var ErrMalformedPayload = errors.New("malformed block payload")

// Bridge adapts an Application to the block producer.
type Bridge struct {
	App        Application
	MaxTxBytes int64

	// OnFinalize, if set, receives every block's results.
	OnFinalize func(b chain.Block, resp ResponseFinalizeBlock)
}

func (b *Bridge) maxTxBytes() int64 {
	if b.MaxTxBytes > 0 {
		return b.MaxTxBytes
	}
	return DefaultMaxTxBytes
}

func (b *Bridge) PreparePayload(_ chain.Block, next chain.Height) []byte {
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: uint64(next), MaxTxBytes: b.maxTxBytes()})
	if !b.App.ProcessProposal(RequestProcessProposal{Height: uint64(next), Txs: resp.Txs}).Accept {
		return nil
	}
	return EncodePayload(resp.Txs)
}

func (b *Bridge) OnCommit(committed chain.Block) (chain.Hash, error) {
	txs, err := DecodePayload(committed.Payload)
	if err != nil {
		return chain.Hash{}, err
	}
	resp, err := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    uint64(committed.Height),
		Timestamp: committed.Time.Unix(),
		Txs:       txs,
	})
	if err != nil {
		return chain.Hash{}, fmt.Errorf("finalize block %d: %w", committed.Height, err)
	}
	if b.OnFinalize != nil {
		b.OnFinalize(committed, resp)
	}
	return chain.Hash(resp.AppHash), nil
}

// EncodePayload frames each tx with a uvarint length so txs may contain
// any byte.
func EncodePayload(txs [][]byte) []byte {
	n := 0
	for _, tx := range txs {
		n += binary.MaxVarintLen64 + len(tx)
	}
	out := make([]byte, 0, n)
	for _, tx := range txs {
		out = binary.AppendUvarint(out, uint64(len(tx)))
		out = append(out, tx...)
	}
	return out
}

func DecodePayload(p []byte) ([][]byte, error) {
	var out [][]byte
	for len(p) > 0 {
		n, k := binary.Uvarint(p)
		if k <= 0 {
			return nil, fmt.Errorf("%w: bad length prefix", ErrMalformedPayload)
		}
		p = p[k:]
		if n > uint64(len(p)) {
			return nil, fmt.Errorf("%w: tx of %d bytes, %d left", ErrMalformedPayload, n, len(p))
		}
		out = append(out, append([]byte(nil), p[:n]...))
		p = p[n:]
	}
	return out, nil
}
