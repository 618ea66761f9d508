package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/fixedprice"
	"github.com/uhyunpark/nftmarket/pkg/chain"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// get copies the value at key. ok is false when the key is absent.
func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

// ============================================================================
// Blocks
// ============================================================================

// SaveBlock stores b under its hash and indexes it by height.
func (s *PebbleStore) SaveBlock(b chain.Block) error {
	h := chain.HashOfBlock(b)
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kBlock(h), val, nil); err != nil {
		return err
	}
	if err := batch.Set(kHeight(b.Height), h[:], nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) GetBlock(h chain.Hash) (chain.Block, bool) {
	val, ok, err := s.get(kBlock(h))
	if err != nil || !ok {
		return chain.Block{}, false
	}
	var out chain.Block
	if err := decodeGob(val, &out); err != nil {
		return chain.Block{}, false
	}
	return out, true
}

func (s *PebbleStore) GetBlockByHeight(height chain.Height) (chain.Block, bool) {
	val, ok, err := s.get(kHeight(height))
	if err != nil || !ok {
		return chain.Block{}, false
	}
	var h chain.Hash
	copy(h[:], val)
	return s.GetBlock(h)
}

func (s *PebbleStore) SetCommitted(h chain.Hash) error {
	return s.db.Set(kCommitted(), h[:], pebble.Sync)
}

func (s *PebbleStore) GetCommitted() (chain.Hash, bool) {
	val, ok, err := s.get(kCommitted())
	if err != nil || !ok {
		return chain.Hash{}, false
	}
	var out chain.Hash
	copy(out[:], val)
	return out, true
}

var _ chain.BlockStore = (*PebbleStore)(nil)

// ============================================================================
// Transaction results
// ============================================================================

// SaveResults indexes every result of one block by tx hash.
func (s *PebbleStore) SaveResults(results []abci.TxResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal result %s: %w", r.Hash.Hex(), err)
		}
		if err := batch.Set(kResult(r.Hash), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.NoSync)
}

// GetResult returns the latest result recorded for a tx hash.
func (s *PebbleStore) GetResult(h common.Hash) (abci.TxResult, bool, error) {
	data, ok, err := s.get(kResult(h))
	if err != nil || !ok {
		return abci.TxResult{}, false, err
	}
	var r abci.TxResult
	if err := json.Unmarshal(data, &r); err != nil {
		return abci.TxResult{}, false, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return r, true, nil
}

// ============================================================================
// Market state
// ============================================================================

// SaveMarketState replaces the stored market state in one batch. Orders are
// written under their own keys so they can be scanned by asset.
func (s *PebbleStore) SaveMarketState(st fixedprice.MarketState) error {
	orders := st.Engine.Orders
	st.Engine.Orders = nil
	meta, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal market state: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	family := orderFamily()
	if err := batch.DeleteRange(family, keyUpperBound(family), nil); err != nil {
		return err
	}
	for _, o := range orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		key := orderbook.NewKey(o.Asset, o.TokenID, o.PaymentToken, o.Price)
		if err := batch.Set(orderKey(o.Side, key), data, nil); err != nil {
			return err
		}
	}
	if err := batch.Set(kMarket(), meta, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// LoadMarketState returns the saved state, or ok=false on a fresh store.
func (s *PebbleStore) LoadMarketState() (fixedprice.MarketState, bool, error) {
	meta, ok, err := s.get(kMarket())
	if err != nil || !ok {
		return fixedprice.MarketState{}, false, err
	}
	var st fixedprice.MarketState
	if err := json.Unmarshal(meta, &st); err != nil {
		return fixedprice.MarketState{}, false, fmt.Errorf("failed to unmarshal market state: %w", err)
	}
	orders, err := s.scanOrders(orderFamily())
	if err != nil {
		return fixedprice.MarketState{}, false, err
	}
	st.Engine.Orders = orders
	return st, true, nil
}

// OrdersByAsset returns the persisted orders on one asset contract, in key
// order.
func (s *PebbleStore) OrdersByAsset(asset common.Address) ([]fixedprice.OrderState, error) {
	return s.scanOrders(assetPrefix(asset))
}

func (s *PebbleStore) scanOrders(prefix []byte) ([]fixedprice.OrderState, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	orders := []fixedprice.OrderState{}
	for iter.First(); iter.Valid(); iter.Next() {
		var o fixedprice.OrderState
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, iter.Error()
}
