package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// ParseCompressedPubKey validates a 33-byte SEC1 compressed secp256k1 key.
func ParseCompressedPubKey(pub []byte) error {
	if len(pub) != CompressedPubKeyLen {
		return fmt.Errorf("public key must be %d bytes, got %d", CompressedPubKeyLen, len(pub))
	}
	if pub[0] != 0x02 && pub[0] != 0x03 {
		return fmt.Errorf("public key prefix 0x%02x is not compressed form", pub[0])
	}
	if _, err := crypto.DecompressPubkey(pub); err != nil {
		return fmt.Errorf("public key is not on the curve: %w", err)
	}
	return nil
}

// AddressFromCompressedPub derives the account address of a compressed key:
// the last 20 bytes of keccak256(X || Y).
func AddressFromCompressedPub(pub []byte) (common.Address, error) {
	if err := ParseCompressedPubKey(pub); err != nil {
		return common.Address{}, err
	}
	key, _ := crypto.DecompressPubkey(pub)
	uncompressed := crypto.FromECDSAPub(key)

	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:]), nil
}
