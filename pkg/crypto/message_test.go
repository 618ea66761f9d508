package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	testAsset   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testDest    = common.HexToAddress("0xb028055ea3bc78d759d10663da40d171dec992aa")
	testPayment = common.Address{}
)

func TestSerializeMessageLayout(t *testing.T) {
	msg, err := SerializeMessage(testAsset, uint256.NewInt(1), testDest, 1, uint256.NewInt(2000000), testPayment, 345566)
	require.NoError(t, err)
	require.Len(t, msg, MessageLen)
	require.Equal(t, 128, MessageLen)

	want := "1111111111111111111111111111111111111111" +
		"0000000000000000000000000000000000000000000000000000000000000001" +
		"b028055ea3bc78d759d10663da40d171dec992aa" +
		"00000001" +
		"000000000000000000000000001e8480" +
		"0000000000000000000000000000000000000000" +
		"000000000000000000000000000545de"
	require.Equal(t, want, hex.EncodeToString(msg))
}

func TestSerializeMessagePriceOverflow(t *testing.T) {
	price := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	_, err := SerializeMessage(testAsset, uint256.NewInt(1), testDest, 0, price, testPayment, 1)
	require.True(t, errors.Is(err, ErrFieldOverflow), "got %v", err)

	max128 := new(uint256.Int).Sub(price, uint256.NewInt(1))
	_, err = SerializeMessage(testAsset, uint256.NewInt(1), testDest, 0, max128, testPayment, 1)
	require.NoError(t, err)
}

func TestSerializeMessageMaxTokenID(t *testing.T) {
	maxID := new(uint256.Int).SetAllOne()
	msg, err := SerializeMessage(testAsset, maxID, testDest, 0, uint256.NewInt(1), testPayment, 1)
	require.NoError(t, err)
	require.True(t, bytes.Equal(bytes.Repeat([]byte{0xff}, 32), msg[20:52]))
}

func TestParseMessageRejects(t *testing.T) {
	msg, err := SerializeMessage(testAsset, uint256.NewInt(7), testDest, 0, uint256.NewInt(10000), testPayment, 9)
	require.NoError(t, err)

	_, err = ParseMessage(2, msg)
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = ParseMessage(MessageFormatV1, msg[:100])
	require.ErrorIs(t, err, ErrMalformedMessage)

	huge := append([]byte(nil), msg...)
	huge[MessageLen-16] = 1
	_, err = ParseMessage(MessageFormatV1, huge)
	require.ErrorIs(t, err, ErrFieldOverflow)
}

func genMessage(t *rapid.T) *FulfillmentMessage {
	addr := func(label string) common.Address {
		return common.BytesToAddress(rapid.SliceOfN(rapid.Byte(), 20, 20).Draw(t, label))
	}
	return &FulfillmentMessage{
		Asset:        addr("asset"),
		TokenID:      new(uint256.Int).SetBytes(rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(t, "tokenId")),
		Destination:  addr("dest"),
		Side:         rapid.Uint32().Draw(t, "side"),
		Price:        new(uint256.Int).SetBytes(rapid.SliceOfN(rapid.Byte(), 0, 16).Draw(t, "price")),
		PaymentToken: addr("payment"),
		RefBlock:     rapid.Uint64().Draw(t, "ref"),
	}
}

func TestMessageParseInvertsSerialize(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := genMessage(t)
		b, err := m.Bytes()
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		got, err := ParseMessage(MessageFormatV1, b)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if got.Asset != m.Asset || got.Destination != m.Destination || got.PaymentToken != m.PaymentToken ||
			got.Side != m.Side || got.RefBlock != m.RefBlock || !got.TokenID.Eq(m.TokenID) || !got.Price.Eq(m.Price) {
			t.Fatalf("round trip mismatch: %+v != %+v", got, m)
		}
	})
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	require.NoError(t, err)
	pub := signer.CompressedPubKey()

	rapid.Check(t, func(t *rapid.T) {
		msg, err := genMessage(t).Bytes()
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		sig, err := signer.SignFulfillment(msg)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if len(sig) != SignatureLen {
			t.Fatalf("signature length %d", len(sig))
		}
		if !Verify(pub, msg, sig) {
			t.Fatalf("valid signature rejected")
		}

		i := rapid.IntRange(0, len(msg)-1).Draw(t, "msgByte")
		mutated := append([]byte(nil), msg...)
		mutated[i] ^= byte(rapid.IntRange(1, 255).Draw(t, "msgXor"))
		if Verify(pub, mutated, sig) {
			t.Fatalf("mutated message byte %d verified", i)
		}

		j := rapid.IntRange(0, len(sig)-1).Draw(t, "sigByte")
		badSig := append([]byte(nil), sig...)
		badSig[j] ^= byte(rapid.IntRange(1, 255).Draw(t, "sigXor"))
		if Verify(pub, msg, badSig) {
			t.Fatalf("mutated signature byte %d verified", j)
		}
	})
}

func TestVerifyFailsClosed(t *testing.T) {
	signer, _ := GenerateKey()
	other, _ := GenerateKey()
	msg, _ := SerializeMessage(testAsset, uint256.NewInt(1), testDest, 0, uint256.NewInt(1), testPayment, 1)
	sig, err := signer.SignFulfillment(msg)
	require.NoError(t, err)

	require.False(t, Verify(other.CompressedPubKey(), msg, sig), "wrong key")
	require.False(t, Verify(signer.CompressedPubKey(), msg, sig[:63]), "short signature")
	require.False(t, Verify(signer.CompressedPubKey()[:32], msg, sig), "short key")
	require.False(t, Verify(make([]byte, 33), msg, sig), "zero key")
	require.False(t, Verify(signer.CompressedPubKey(), msg, make([]byte, 64)), "zero signature")
	require.False(t, Verify(nil, nil, nil))
}

func TestVerifyRejectsHighS(t *testing.T) {
	signer, _ := GenerateKey()
	msg, _ := SerializeMessage(testAsset, uint256.NewInt(3), testDest, 1, uint256.NewInt(5), testPayment, 2)
	sig, err := signer.SignFulfillment(msg)
	require.NoError(t, err)

	// s' = n - s is the malleated twin of a valid signature
	n, _ := uint256.FromHex("0xfffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141")
	s := new(uint256.Int).SetBytes(sig[32:])
	highS := new(uint256.Int).Sub(n, s).Bytes32()
	malleated := append(append([]byte(nil), sig[:32]...), highS[:]...)

	require.True(t, Verify(signer.CompressedPubKey(), msg, sig))
	require.False(t, Verify(signer.CompressedPubKey(), msg, malleated))
}
