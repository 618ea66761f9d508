package storage

import (
	"sync"

	"github.com/uhyunpark/nftmarket/pkg/chain"
)

type InMemoryBlockStore struct {
	mu        sync.Mutex
	blocks    map[chain.Hash]chain.Block
	byHeight  map[chain.Height]chain.Hash
	committed *chain.Hash
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{
		blocks:   make(map[chain.Hash]chain.Block),
		byHeight: make(map[chain.Height]chain.Hash),
	}
}

func (s *InMemoryBlockStore) SaveBlock(b chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := chain.HashOfBlock(b)
	s.blocks[h] = b
	s.byHeight[b.Height] = h
	return nil
}

func (s *InMemoryBlockStore) GetBlock(h chain.Hash) (chain.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok
}

func (s *InMemoryBlockStore) GetBlockByHeight(height chain.Height) (chain.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byHeight[height]
	if !ok {
		return chain.Block{}, false
	}
	b, ok := s.blocks[h]
	return b, ok
}

func (s *InMemoryBlockStore) SetCommitted(h chain.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = &h
	return nil
}

func (s *InMemoryBlockStore) GetCommitted() (chain.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == nil {
		return chain.Hash{}, false
	}
	return *s.committed, true
}

var _ chain.BlockStore = (*InMemoryBlockStore)(nil)
