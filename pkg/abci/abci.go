// Package abci is the boundary between block production and the
// marketplace application, shaped after the ABCI++ proposal flow.
package abci

import (
	"github.com/ethereum/go-ethereum/common"
)

type RequestPrepareProposal struct {
	Height     uint64
	MaxTxBytes int64
}

type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestProcessProposal struct {
	Height uint64
	Txs    [][]byte
}

type ResponseProcessProposal struct{ Accept bool }

type RequestFinalizeBlock struct {
	Height    uint64
	Timestamp int64 // unix seconds
	Txs       [][]byte
}

// TxResult is the outcome of one transaction in a finalized block. Code 0
// means success; Codespace carries the error name otherwise.
type TxResult struct {
	Hash      common.Hash `json:"hash"`
	Height    uint64      `json:"height"`
	Index     uint32      `json:"index"`
	Code      uint32      `json:"code"`
	Codespace string      `json:"codespace,omitempty"`
	Log       string      `json:"log,omitempty"`
	Events    []Event     `json:"events"`
}

// OK reports whether the transaction was applied.
func (r TxResult) OK() bool { return r.Code == 0 }

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   common.Hash // state after executing the block
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}
