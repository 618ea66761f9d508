package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MessageFormatV1 tags the fixed 128-byte fulfillment layout below. The tag
// travels next to the message, never inside it.
const MessageFormatV1 uint8 = 1

// Field widths of the v1 layout, in bytes.
const (
	addressLen  = common.AddressLength
	tokenIDLen  = 32
	sideLen     = 4
	priceLen    = 16
	refBlockLen = 16

	// MessageLen = asset | tokenId | destination | side | price | paymentToken | refBlock
	MessageLen = addressLen + tokenIDLen + addressLen + sideLen + priceLen + addressLen + refBlockLen
)

var (
	ErrFieldOverflow    = errors.New("field exceeds its encoded width")
	ErrMalformedMessage = errors.New("malformed fulfillment message")
	ErrUnknownFormat    = errors.New("unknown message format")
)

// FulfillmentMessage is the off-chain authorization a maker signs so that any
// taker can settle the order on their behalf.
type FulfillmentMessage struct {
	Asset        common.Address
	TokenID      *uint256.Int
	Destination  common.Address
	Side         uint32
	Price        *uint256.Int
	PaymentToken common.Address
	RefBlock     uint64
}

// SerializeMessage encodes the fields big-endian at fixed widths with no
// length prefixes. A price that does not fit in 128 bits is an error.
func SerializeMessage(asset common.Address, tokenID *uint256.Int, destination common.Address,
	side uint32, price *uint256.Int, paymentToken common.Address, refBlock uint64) ([]byte, error) {
	if tokenID == nil || price == nil {
		return nil, fmt.Errorf("%w: token id and price are required", ErrMalformedMessage)
	}
	if price.BitLen() > priceLen*8 {
		return nil, fmt.Errorf("%w: price needs %d bits, max %d", ErrFieldOverflow, price.BitLen(), priceLen*8)
	}

	out := make([]byte, 0, MessageLen)
	out = append(out, asset.Bytes()...)
	id := tokenID.Bytes32()
	out = append(out, id[:]...)
	out = append(out, destination.Bytes()...)
	out = binary.BigEndian.AppendUint32(out, side)
	p := price.Bytes32()
	out = append(out, p[32-priceLen:]...)
	out = append(out, paymentToken.Bytes()...)
	out = binary.BigEndian.AppendUint64(out, 0) // high half of the 128-bit block number
	out = binary.BigEndian.AppendUint64(out, refBlock)
	return out, nil
}

// Bytes serializes m. See SerializeMessage.
func (m *FulfillmentMessage) Bytes() ([]byte, error) {
	return SerializeMessage(m.Asset, m.TokenID, m.Destination, m.Side, m.Price, m.PaymentToken, m.RefBlock)
}

// ParseMessage decodes a message produced by SerializeMessage under the
// given format tag.
func ParseMessage(format uint8, b []byte) (*FulfillmentMessage, error) {
	if format != MessageFormatV1 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, format)
	}
	if len(b) != MessageLen {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrMalformedMessage, len(b), MessageLen)
	}

	m := &FulfillmentMessage{}
	off := 0
	next := func(n int) []byte {
		f := b[off : off+n]
		off += n
		return f
	}

	m.Asset = common.BytesToAddress(next(addressLen))
	m.TokenID = new(uint256.Int).SetBytes(next(tokenIDLen))
	m.Destination = common.BytesToAddress(next(addressLen))
	m.Side = binary.BigEndian.Uint32(next(sideLen))
	m.Price = new(uint256.Int).SetBytes(next(priceLen))
	m.PaymentToken = common.BytesToAddress(next(addressLen))
	ref := next(refBlockLen)
	if binary.BigEndian.Uint64(ref[:8]) != 0 {
		return nil, fmt.Errorf("%w: reference block exceeds 64 bits", ErrFieldOverflow)
	}
	m.RefBlock = binary.BigEndian.Uint64(ref[8:])
	return m, nil
}

// Digest is the SHA-256 hash that gets signed.
func Digest(msg []byte) [32]byte {
	return sha256.Sum256(msg)
}
