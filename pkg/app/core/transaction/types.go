package transaction

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

// TxType names the transition an envelope requests.
type TxType string

const (
	TxCreateOrder  TxType = "create_order"
	TxCancelOrder  TxType = "cancel_order"
	TxFulfillOrder TxType = "fulfill_order"

	TxRegisterPubKey TxType = "register_pubkey"
	TxClearPubKey    TxType = "clear_pubkey"

	// owner only
	TxAllowPaymentToken      TxType = "allow_payment_token"
	TxDisallowPaymentToken   TxType = "disallow_payment_token"
	TxSetServiceFeeBps       TxType = "set_service_fee_bps"
	TxSetServiceFeeRecipient TxType = "set_service_fee_recipient"
	TxPause                  TxType = "pause"
	TxUnpause                TxType = "unpause"
	TxSetOwnershipRecipient  TxType = "set_ownership_recipient"
	TxAcceptOwnership        TxType = "accept_ownership"
)

// IsAdmin reports whether t is an owner-only transition.
func (t TxType) IsAdmin() bool {
	switch t {
	case TxAllowPaymentToken, TxDisallowPaymentToken, TxSetServiceFeeBps, TxSetServiceFeeRecipient,
		TxPause, TxUnpause, TxSetOwnershipRecipient, TxAcceptOwnership:
		return true
	}
	return false
}

// OrderPayload names an order slot. Expiration is only read by create_order.
type OrderPayload struct {
	Side         uint32         `json:"side"`
	Asset        common.Address `json:"asset"`
	TokenID      *uint256.Int   `json:"tokenId"`
	PaymentToken common.Address `json:"paymentToken"`
	Price        *uint256.Int   `json:"price"`
	Expiration   uint64         `json:"expiration,omitempty"`
}

// SignedPayload is a maker's off-chain fulfillment authorization.
type SignedPayload struct {
	Format    uint8         `json:"format"`
	Message   hexutil.Bytes `json:"message"`
	Signature hexutil.Bytes `json:"signature"`
}

type FulfillPayload struct {
	OrderPayload
	Destination common.Address `json:"destination"`
	Signed      *SignedPayload `json:"signed,omitempty"`
}

type AdminPayload struct {
	Token     common.Address `json:"token"`
	Bps       uint64         `json:"bps"`
	Recipient common.Address `json:"recipient"`
}

// Tx is the signed JSON envelope submitted to the node.
//
//	{
//	  "type": "fulfill_order",
//	  "sender": "0x...",
//	  "nonce": 7,
//	  "amount": "10000",
//	  "fulfill": {"side": 0, "asset": "0x...", "tokenId": "1", ...},
//	  "signature": "0x..."
//	}
type Tx struct {
	Type   TxType         `json:"type"`
	Sender common.Address `json:"sender"`
	Nonce  uint64         `json:"nonce"`
	// Amount is native coin attached to the call.
	Amount *uint256.Int `json:"amount,omitempty"`

	Order   *OrderPayload   `json:"order,omitempty"`
	Fulfill *FulfillPayload `json:"fulfill,omitempty"`
	PubKey  hexutil.Bytes   `json:"pubkey,omitempty"`
	Admin   *AdminPayload   `json:"admin,omitempty"`

	Signature hexutil.Bytes `json:"signature,omitempty"`
}

// AttachedAmount returns Amount or zero.
func (tx *Tx) AttachedAmount() *uint256.Int {
	if tx.Amount == nil {
		return new(uint256.Int)
	}
	return tx.Amount.Clone()
}

// PayloadHash commits to the type-specific body of the envelope.
func (tx *Tx) PayloadHash() (common.Hash, error) {
	body := struct {
		Order   *OrderPayload   `json:"order,omitempty"`
		Fulfill *FulfillPayload `json:"fulfill,omitempty"`
		PubKey  hexutil.Bytes   `json:"pubkey,omitempty"`
		Admin   *AdminPayload   `json:"admin,omitempty"`
	}{tx.Order, tx.Fulfill, tx.PubKey, tx.Admin}
	b, err := json.Marshal(body)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return common.BytesToHash(crypto.Keccak256(b)), nil
}

// Typed returns the EIP-712 view of the envelope.
func (tx *Tx) Typed() (*crypto.EnvelopeEIP712, error) {
	ph, err := tx.PayloadHash()
	if err != nil {
		return nil, err
	}
	return &crypto.EnvelopeEIP712{
		Type:        string(tx.Type),
		Sender:      tx.Sender,
		Nonce:       tx.Nonce,
		Amount:      tx.AttachedAmount().ToBig(),
		PayloadHash: ph,
	}, nil
}

// Sign sets Sender to the signer's address and fills in Signature.
func (tx *Tx) Sign(signer *crypto.Signer, domain *crypto.EIP712Signer) error {
	tx.Sender = signer.Address()
	env, err := tx.Typed()
	if err != nil {
		return err
	}
	sig, err := domain.SignEnvelope(signer, env)
	if err != nil {
		return fmt.Errorf("failed to sign envelope: %w", err)
	}
	tx.Signature = sig
	return nil
}

// Serialize converts Tx to JSON bytes
func (tx *Tx) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Hash identifies a serialized envelope.
func Hash(raw []byte) common.Hash {
	return common.BytesToHash(crypto.Keccak256(raw))
}

// Deserialize parses JSON bytes into Tx
func Deserialize(data []byte) (*Tx, error) {
	var tx Tx
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs structural checks only; authorization and state checks
// belong to the settlement engine.
func (tx *Tx) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if len(tx.Signature) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d", len(tx.Signature))
	}
	if tx.Sender == (common.Address{}) {
		return fmt.Errorf("missing sender")
	}

	switch tx.Type {
	case TxCreateOrder, TxCancelOrder:
		if tx.Order == nil {
			return fmt.Errorf("%s requires order payload", tx.Type)
		}
		return tx.Order.validate()
	case TxFulfillOrder:
		if tx.Fulfill == nil {
			return fmt.Errorf("fulfill_order requires fulfill payload")
		}
		if tx.Fulfill.Signed != nil && (len(tx.Fulfill.Signed.Message) == 0 || len(tx.Fulfill.Signed.Signature) == 0) {
			return fmt.Errorf("signed fulfillment requires message and signature")
		}
		return tx.Fulfill.OrderPayload.validate()
	case TxRegisterPubKey:
		if len(tx.PubKey) != crypto.CompressedPubKeyLen {
			return fmt.Errorf("pubkey must be %d bytes, got %d", crypto.CompressedPubKeyLen, len(tx.PubKey))
		}
	case TxClearPubKey, TxPause, TxUnpause, TxAcceptOwnership:
	case TxAllowPaymentToken, TxDisallowPaymentToken:
		if tx.Admin == nil || tx.Admin.Token == (common.Address{}) {
			return fmt.Errorf("%s requires a non-zero token", tx.Type)
		}
	case TxSetServiceFeeBps, TxSetServiceFeeRecipient, TxSetOwnershipRecipient:
		if tx.Admin == nil {
			return fmt.Errorf("%s requires admin payload", tx.Type)
		}
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	return nil
}

func (o *OrderPayload) validate() error {
	if o.TokenID == nil {
		return fmt.Errorf("missing token id")
	}
	if o.Price == nil {
		return fmt.Errorf("missing price")
	}
	if o.Asset == (common.Address{}) {
		return fmt.Errorf("missing asset contract")
	}
	return nil
}

// ParseTransaction decodes and structurally validates an envelope.
func ParseTransaction(data []byte) (*Tx, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}
