package crypto_test

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

// A maker authorizes a fulfillment off-chain; any taker can later submit the
// message and signature, and the marketplace checks it against the maker's
// registered key.
func ExampleSign() {
	maker, _ := crypto.FromPrivateKeyHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")

	asset := common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer := common.HexToAddress("0xb028055ea3bc78d759d10663da40d171dec992aa")
	native := common.Address{}

	msg, err := crypto.SerializeMessage(asset, uint256.NewInt(1), buyer, 0, uint256.NewInt(10000), native, 345566)
	if err != nil {
		panic(err)
	}

	sig, _ := maker.SignFulfillment(msg)
	fmt.Println(len(msg), len(sig), crypto.Verify(maker.CompressedPubKey(), msg, sig))

	msg[0] ^= 1
	fmt.Println(crypto.Verify(maker.CompressedPubKey(), msg, sig))
	// Output:
	// 128 64 true
	// false
}
