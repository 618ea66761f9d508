package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates envelope signatures across chains and deployments.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // the marketplace account
}

// EnvelopeEIP712 is the typed view of a transaction envelope that wallets
// sign. PayloadHash commits to the type-specific body.
type EnvelopeEIP712 struct {
	Type        string
	Sender      common.Address
	Nonce       uint64
	Amount      *big.Int
	PayloadHash common.Hash
}

type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the marketplace domain for chainID.
func DefaultDomain(chainID uint64, marketplace common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "NFTMarket",
		Version:           "1",
		ChainID:           new(big.Int).SetUint64(chainID),
		VerifyingContract: marketplace,
	}
}

func (e *EIP712Signer) typedData(env *EnvelopeEIP712) apitypes.TypedData {
	amount := env.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Envelope": []apitypes.Type{
				{Name: "type", Type: "string"},
				{Name: "sender", Type: "address"},
				{Name: "nonce", Type: "uint64"},
				{Name: "amount", Type: "uint256"},
				{Name: "payload", Type: "bytes32"},
			},
		},
		PrimaryType: "Envelope",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"type":    env.Type,
			"sender":  env.Sender.Hex(),
			"nonce":   fmt.Sprintf("%d", env.Nonce),
			"amount":  amount.String(),
			"payload": hexutil.Encode(env.PayloadHash[:]),
		},
	}
}

// HashEnvelope returns keccak256("\x19\x01" || domainSeparator || hashStruct(envelope)).
func (e *EIP712Signer) HashEnvelope(env *EnvelopeEIP712) ([]byte, error) {
	td := e.typedData(env)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash envelope: %w", err)
	}

	raw := make([]byte, 0, 2+32+32)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) SignEnvelope(signer *Signer, env *EnvelopeEIP712) ([]byte, error) {
	hash, err := e.HashEnvelope(env)
	if err != nil {
		return nil, err
	}
	return signer.SignEnvelope(hash)
}

// RecoverEnvelopeSigner returns the address that produced signature.
func (e *EIP712Signer) RecoverEnvelopeSigner(env *EnvelopeEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashEnvelope(env)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// EnvelopeJSON renders the typed data for eth_signTypedData_v4.
func (e *EIP712Signer) EnvelopeJSON(env *EnvelopeEIP712) (string, error) {
	b, err := json.MarshalIndent(e.typedData(env), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(b), nil
}
