package transaction

import (
	"fmt"

	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

// Verifier checks that an envelope was signed by its Sender.
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Domain exposes the signer so clients can build envelopes for the same domain.
func (v *Verifier) Domain() *crypto.EIP712Signer { return v.eip712Signer }

func (v *Verifier) VerifySender(tx *Tx) error {
	env, err := tx.Typed()
	if err != nil {
		return err
	}
	recovered, err := v.eip712Signer.RecoverEnvelopeSigner(env, tx.Signature)
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	if recovered != tx.Sender {
		return fmt.Errorf("signature invalid: signed by %s, sender %s", recovered.Hex(), tx.Sender.Hex())
	}
	return nil
}
