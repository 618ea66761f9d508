// Package chain produces blocks on a single node. There is no voting: the
// producer is the only proposer and every block it builds is final.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/nftmarket/pkg/util"
)

type Producer struct {
	Exec         Executor
	Store        BlockStore
	Clock        util.Clock
	MinBlockTime time.Duration
	ID           string
	WAL          WAL // optional

	Logger         *zap.SugaredLogger
	VerboseLogging bool // if false, only log non-empty commits and errors

	// OnBlockCommit runs after the block is stored.
	OnBlockCommit func(b Block)

	mu   sync.RWMutex
	head Block
}

func NewProducer(exec Executor, store BlockStore, clock util.Clock, minBlockTime time.Duration, id string) *Producer {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Producer{Exec: exec, Store: store, Clock: clock, MinBlockTime: minBlockTime, ID: id}
}

// Resume continues from the committed block in the store, if any.
func (p *Producer) Resume() error {
	h, ok := p.Store.GetCommitted()
	if !ok {
		return nil
	}
	b, ok := p.Store.GetBlock(h)
	if !ok {
		return fmt.Errorf("committed block %s missing from store", h)
	}
	p.mu.Lock()
	p.head = b
	p.mu.Unlock()
	return nil
}

// Head is the last committed block; the zero Block before the first one.
func (p *Producer) Head() Block {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.head
}

// Step builds, executes and commits the next block.
func (p *Producer) Step() (Block, error) {
	parent := p.Head()
	next := parent.Height + 1

	b := Block{
		Height:   next,
		Parent:   HashOfBlock(parent),
		Payload:  p.Exec.PreparePayload(parent, next),
		Proposer: p.ID,
		Time:     p.Clock.Now(),
	}
	appHash, err := p.Exec.OnCommit(b)
	if err != nil {
		return Block{}, fmt.Errorf("execute block %d: %w", next, err)
	}
	b.AppHash = appHash

	if err := p.Store.SaveBlock(b); err != nil {
		return Block{}, fmt.Errorf("save block %d: %w", next, err)
	}
	if err := p.Store.SetCommitted(HashOfBlock(b)); err != nil {
		return Block{}, fmt.Errorf("commit block %d: %w", next, err)
	}

	p.mu.Lock()
	p.head = b
	p.mu.Unlock()

	if p.WAL != nil {
		p.WAL.Append(fmt.Sprintf("commit height=%d payload=%d apphash=0x%x", b.Height, len(b.Payload), appHash[:]))
	}
	if p.Logger != nil && (p.VerboseLogging || len(b.Payload) > 0) {
		p.Logger.Infow("commit", "height", b.Height, "payload_bytes", len(b.Payload), "apphash", fmt.Sprintf("0x%x", appHash[:]))
	}
	if p.OnBlockCommit != nil {
		p.OnBlockCommit(b)
	}
	return b, nil
}

// Run produces a block every MinBlockTime until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Clock.After(p.MinBlockTime):
		}
		if _, err := p.Step(); err != nil {
			return err
		}
	}
}

// RunN produces n blocks back to back. Used by tests and tooling.
func (p *Producer) RunN(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Replay re-executes the stored blocks in (from, to] and checks that each
// reproduces its recorded app hash. It brings application state that was
// persisted behind the block store back in line before Resume.
func Replay(store BlockStore, exec Executor, from, to Height) error {
	for h := from + 1; h <= to; h++ {
		b, ok := store.GetBlockByHeight(h)
		if !ok {
			return fmt.Errorf("replay: block %d missing from store", h)
		}
		appHash, err := exec.OnCommit(b)
		if err != nil {
			return fmt.Errorf("replay block %d: %w", h, err)
		}
		if appHash != b.AppHash {
			return fmt.Errorf("replay block %d: app hash %s, recorded %s", h, appHash, b.AppHash)
		}
	}
	return nil
}
