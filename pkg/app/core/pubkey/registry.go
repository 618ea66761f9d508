package pubkey

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

var ErrNoKey = errors.New("no public key registered")

// Binding is one account -> compressed key entry.
type Binding struct {
	Account common.Address
	PubKey  []byte
}

// Registry binds accounts to the compressed secp256k1 key that verifies their
// signed fulfillment messages. It trusts the registering transaction's sender
// and does not prove key ownership.
type Registry struct {
	mu   sync.RWMutex
	keys map[common.Address][]byte
}

func NewRegistry() *Registry {
	return &Registry{keys: make(map[common.Address][]byte)}
}

// Register binds pub to account, replacing any previous key.
func (r *Registry) Register(account common.Address, pub []byte) error {
	if err := crypto.ParseCompressedPubKey(pub); err != nil {
		return fmt.Errorf("failed to register key for %s: %w", account.Hex(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[account] = bytes.Clone(pub)
	return nil
}

// Clear removes the key for account. Clearing an unbound account is a no-op.
func (r *Registry) Clear(account common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, account)
}

func (r *Registry) Get(account common.Address) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[account]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoKey, account.Hex())
	}
	return bytes.Clone(k), nil
}

// Bindings returns every registered key sorted by account.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.keys))
	for a, k := range r.keys {
		out = append(out, Binding{Account: a, PubKey: bytes.Clone(k)})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0 })
	return out
}

func (r *Registry) Reset(bindings []Binding) error {
	fresh := NewRegistry()
	for _, b := range bindings {
		if err := fresh.Register(b.Account, b.PubKey); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = fresh.keys
	return nil
}
