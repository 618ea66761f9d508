package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type Height uint64

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Block is one committed batch of raw transactions.
type Block struct {
	Height   Height
	Parent   Hash
	AppHash  Hash // state after executing this block
	Payload  []byte
	Proposer string
	Time     time.Time
}

// HashOfBlock commits to the block contents. AppHash is left out: it is
// only known after execution.
func HashOfBlock(b Block) Hash {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	h.Write(b.Parent[:])
	h.Write(b.Payload)
	h.Write([]byte(b.Proposer))
	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.UnixNano()))
	h.Write(buf[:])

	return sha256.Sum256(h.Sum(nil))
}

// ---- Storage/WAL interfaces (impl in pkg/storage) ----

type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(h Hash) (Block, bool)
	GetBlockByHeight(height Height) (Block, bool)
	SetCommitted(h Hash) error
	GetCommitted() (Hash, bool)
}

type WAL interface {
	Append(line string)
}

// Executor turns blocks into application state.
type Executor interface {
	PreparePayload(parent Block, next Height) []byte
	OnCommit(committed Block) (Hash, error) // returns AppHash after executing block
}
