package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLen is the r||s encoding used for fulfillment signatures.
const SignatureLen = 64

// CompressedPubKeyLen is the size of a registered verifier key.
const CompressedPubKeyLen = 33

// Sign produces a canonical (low-S) secp256k1 signature over
// SHA-256(msg), encoded as 32-byte r followed by 32-byte s.
func Sign(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := Digest(msg)
	sig, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	// drop the recovery id; secp256k1 already normalizes s
	return sig[:SignatureLen], nil
}

// Verify reports whether sig is a canonical signature of msg by pub.
// pub may be compressed (33 bytes) or uncompressed (65 bytes).
// Any malformed input yields false.
func Verify(pub, msg, sig []byte) bool {
	if len(sig) != SignatureLen {
		return false
	}
	if len(pub) != CompressedPubKeyLen && len(pub) != 65 {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if !crypto.ValidateSignatureValues(0, r, s, true) {
		return false
	}
	digest := Digest(msg)
	return crypto.VerifySignature(pub, digest[:], sig)
}
