package fixedprice

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nftmarket/params"
)

type adminState struct {
	Owner               common.Address
	PendingOwner        common.Address
	ServiceFeeRecipient common.Address
	ServiceFeeBps       uint64
	AllowedTokens       map[common.Address]struct{}
	Paused              bool
}

func newAdminState(cfg params.Marketplace) adminState {
	s := adminState{
		Owner:               cfg.Owner,
		ServiceFeeRecipient: cfg.ServiceFeeRecipient,
		ServiceFeeBps:       cfg.ServiceFeeBps,
		AllowedTokens:       make(map[common.Address]struct{}, len(cfg.AllowedPaymentTokens)),
	}
	for _, t := range cfg.AllowedPaymentTokens {
		s.AllowedTokens[t] = struct{}{}
	}
	return s
}

// Native coin is always accepted.
func (s *adminState) paymentAllowed(token common.Address) bool {
	if token == nativeCoin {
		return true
	}
	_, ok := s.AllowedTokens[token]
	return ok
}

func (s *adminState) feeRecipient() common.Address {
	if s.ServiceFeeRecipient != (common.Address{}) {
		return s.ServiceFeeRecipient
	}
	return s.Owner
}

func (s *adminState) allowed() []common.Address {
	out := make([]common.Address, 0, len(s.AllowedTokens))
	for t := range s.AllowedTokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// ownerOnly runs fn for the contract owner and emits an AdminEvent.
func (e *Engine) ownerOnly(kind string, call Call, fn func() (string, error)) (*Receipt, error) {
	if call.Sender != e.admin.Owner {
		return nil, e.reject(kind, call, fmt.Errorf("%w: %s", ErrNotContractOwner, call.Sender.Hex()))
	}
	if a := call.attached(); !a.IsZero() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: attached %s", ErrNotEqualAmount, a.Dec()))
	}
	value, err := fn()
	if err != nil {
		return nil, e.reject(kind, call, err)
	}
	e.metrics.transition(kind, nil)
	e.logger.Infow("admin_action", "type", kind, "sender", call.Sender.Hex(), "value", value)
	r := &Receipt{}
	r.emit(AdminEvent{Action: kind, Value: value})
	return r, nil
}

func (e *Engine) AllowPaymentToken(call Call, token common.Address) (*Receipt, error) {
	return e.ownerOnly("allow_payment_token", call, func() (string, error) {
		if token == nativeCoin {
			return "", fmt.Errorf("%w: native coin is always allowed", ErrNotAllowedPaymentToken)
		}
		e.admin.AllowedTokens[token] = struct{}{}
		return token.Hex(), nil
	})
}

// DisallowPaymentToken stops new orders in token. Open orders stay fillable.
func (e *Engine) DisallowPaymentToken(call Call, token common.Address) (*Receipt, error) {
	return e.ownerOnly("disallow_payment_token", call, func() (string, error) {
		delete(e.admin.AllowedTokens, token)
		return token.Hex(), nil
	})
}

func (e *Engine) SetServiceFeeBps(call Call, bps uint64) (*Receipt, error) {
	return e.ownerOnly("set_service_fee_bps", call, func() (string, error) {
		if bps > params.MaxBps || e.royaltyBps+bps > params.MaxBps {
			return "", fmt.Errorf("%w: royalty %d + service fee %d", ErrInvalidFeeBps, e.royaltyBps, bps)
		}
		e.admin.ServiceFeeBps = bps
		return strconv.FormatUint(bps, 10), nil
	})
}

// SetServiceFeeRecipient redirects the service fee. Zero restores the owner.
func (e *Engine) SetServiceFeeRecipient(call Call, recipient common.Address) (*Receipt, error) {
	return e.ownerOnly("set_service_fee_recipient", call, func() (string, error) {
		e.admin.ServiceFeeRecipient = recipient
		return recipient.Hex(), nil
	})
}

func (e *Engine) Pause(call Call) (*Receipt, error) {
	return e.ownerOnly("pause", call, func() (string, error) {
		if e.admin.Paused {
			return "", ErrPaused
		}
		e.admin.Paused = true
		return "", nil
	})
}

func (e *Engine) Unpause(call Call) (*Receipt, error) {
	return e.ownerOnly("unpause", call, func() (string, error) {
		if !e.admin.Paused {
			return "", ErrNotPaused
		}
		e.admin.Paused = false
		return "", nil
	})
}

// SetContractOwnershipRecipient nominates the next owner. Ownership moves
// only when the nominee accepts.
func (e *Engine) SetContractOwnershipRecipient(call Call, recipient common.Address) (*Receipt, error) {
	return e.ownerOnly("set_ownership_recipient", call, func() (string, error) {
		e.admin.PendingOwner = recipient
		return recipient.Hex(), nil
	})
}

func (e *Engine) AcceptContractOwnership(call Call) (*Receipt, error) {
	const kind = "accept_ownership"
	pending := e.admin.PendingOwner
	if pending == (common.Address{}) || call.Sender != pending {
		return nil, e.reject(kind, call, fmt.Errorf("%w: %s", ErrNotContractOwnershipRecipient, call.Sender.Hex()))
	}
	if a := call.attached(); !a.IsZero() {
		return nil, e.reject(kind, call, fmt.Errorf("%w: attached %s", ErrNotEqualAmount, a.Dec()))
	}
	prev := e.admin.Owner
	e.admin.Owner = pending
	e.admin.PendingOwner = common.Address{}
	e.metrics.transition(kind, nil)
	e.logger.Infow("ownership_transferred", "from", prev.Hex(), "to", pending.Hex())
	r := &Receipt{}
	r.emit(AdminEvent{Action: kind, Value: pending.Hex()})
	return r, nil
}

func (e *Engine) Owner() common.Address { return e.admin.Owner }

func (e *Engine) Paused() bool { return e.admin.Paused }

func (e *Engine) ServiceFeeBps() uint64 { return e.admin.ServiceFeeBps }

func (e *Engine) FeeRecipient() common.Address { return e.admin.feeRecipient() }

func (e *Engine) PaymentTokenAllowed(token common.Address) bool { return e.admin.paymentAllowed(token) }

func (e *Engine) AllowedPaymentTokens() []common.Address { return e.admin.allowed() }
